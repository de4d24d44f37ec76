// Package telephony provides the Twilio gateway client used to place,
// inspect, and end calls and to send follow-up SMS messages.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/solvencyai/voicecollect/pkg/logging"
)

var tracer = otel.Tracer("voicecollect.internal.telephony")

// Gateway is the contract the call engine consumes. *Client implements it
// against the Twilio REST API; tests substitute fakes.
type Gateway interface {
	CreateCall(ctx context.Context, params CreateCallParams) (*Call, error)
	GetCall(ctx context.Context, callSID string) (*Call, error)
	EndCall(ctx context.Context, callSID string) error
	SendSMS(ctx context.Context, from, to, body string) error
	OwnsNumber(ctx context.Context, number string) (bool, error)
}

// Client is a Twilio REST API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// Config configures the Twilio client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewClient creates a new Twilio client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, errors.New("telephony: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("telephony: auth token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Call represents a Twilio call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// DurationSeconds parses the provider-reported duration. Twilio returns it
// as a decimal string and omits it while the call is live.
func (c *Call) DurationSeconds() int {
	if c == nil || c.Duration == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(c.Duration))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CreateCallParams are parameters for placing an outbound call.
type CreateCallParams struct {
	To             string
	From           string
	StreamURL      string // duplex media attach point (wss://...)
	StatusCallback string
	Timeout        int // ring timeout in seconds
}

// CreateCall places an outbound call whose audio is bridged to the media
// stream at params.StreamURL.
func (c *Client) CreateCall(ctx context.Context, params CreateCallParams) (*Call, error) {
	ctx, span := tracer.Start(ctx, "telephony.create_call", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("voicecollect.to", params.To),
		attribute.String("voicecollect.from", params.From),
	)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)
	data.Set("Twiml", streamTwiML(params.StreamURL))
	if params.StatusCallback != "" {
		data.Set("StatusCallback", params.StatusCallback)
	}
	if params.Timeout > 0 {
		data.Set("Timeout", strconv.Itoa(params.Timeout))
	}

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.logger.Info("call created", "call_sid", call.SID, "to", call.To)
	return &call, nil
}

// GetCall retrieves a call by SID. After the call ends the resource carries
// the authoritative billed duration.
func (c *Client) GetCall(ctx context.Context, callSID string) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	var call Call
	if err := c.get(ctx, endpoint, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// EndCall requests a graceful hangup by driving the call to completed.
func (c *Client) EndCall(ctx context.Context, callSID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	data := url.Values{}
	data.Set("Status", "completed")

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return err
	}
	c.logger.Info("call end requested", "call_sid", callSID)
	return nil
}

// SendSMS dispatches a single text message, retrying transient failures.
func (c *Client) SendSMS(ctx context.Context, from, to, body string) error {
	if from == "" {
		return errors.New("telephony: from required")
	}
	if to == "" {
		return errors.New("telephony: to required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("telephony: body required")
	}

	ctx, span := tracer.Start(ctx, "telephony.send_sms", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("voicecollect.to", to),
		attribute.String("voicecollect.from", from),
	)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("From", from)
	data.Set("To", to)
	data.Set("Body", body)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := c.post(ctx, endpoint, data, nil)
		if err == nil {
			c.logger.Info("sms sent", "to", to, "from", from)
			return nil
		}
		lastErr = err
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			break
		}
		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	span.RecordError(lastErr)
	c.logger.Error("failed to send sms", "error", lastErr, "to", to)
	return lastErr
}

// OwnsNumber reports whether the account owns the given E.164 number.
func (c *Client) OwnsNumber(ctx context.Context, number string) (bool, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers.json", c.baseURL, c.accountSID)

	var list struct {
		PhoneNumbers []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"incoming_phone_numbers"`
	}
	if err := c.get(ctx, endpoint, &list); err != nil {
		return false, err
	}

	want := normalizeNumber(number)
	for _, pn := range list.PhoneNumbers {
		if normalizeNumber(pn.PhoneNumber) == want {
			return true, nil
		}
	}
	return false, nil
}

func normalizeNumber(n string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, n)
}

// streamTwiML builds the inline TwiML that bridges call audio to the
// websocket media stream.
func streamTwiML(streamURL string) string {
	return fmt.Sprintf("<Response><Connect><Stream url=%q/></Connect></Response>", streamURL)
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

// post performs a POST request with form data.
func (c *Client) post(ctx context.Context, url string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

// do executes a request with basic auth and decodes the response.
func (c *Client) do(req *http.Request, result any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("telephony: failed to parse response: %w", err)
		}
	}
	return nil
}
