package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/call"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// APICaller places calls through the orchestrator's HTTP API. The worker
// process uses it so call sessions live where the media streams arrive.
type APICaller struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewAPICaller(baseURL string, httpClient *http.Client, logger *logging.Logger) *APICaller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &APICaller{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

type apiCallRequest struct {
	Contact apiContact `json:"contact"`
	Script  apiScript  `json:"script"`
}

type apiContact struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	AmountDue   string `json:"amount_due"`
	Currency    string `json:"currency"`
	DueDate     string `json:"due_date"`
	Notes       string `json:"notes"`
}

type apiScript struct {
	CampaignID   string `json:"campaign_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	AgentName    string `json:"agent_name"`
	Goal         string `json:"goal"`
	Instructions string `json:"instructions"`
	Greeting     string `json:"greeting"`
	Tone         string `json:"tone"`
	SMSTemplate  string `json:"sms_template"`
	FromNumber   string `json:"from_number"`
}

type apiCallResponse struct {
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"call_sid"`
	Error          string `json:"error"`
	Kind           string `json:"kind"`
}

// PlaceCall posts the request to POST {base}/calls. Typed rejections come
// back as call.Rejection so the dialer can record them.
func (c *APICaller) PlaceCall(ctx context.Context, req call.PlaceCallRequest) (call.PlaceCallResult, error) {
	payload := apiCallRequest{
		Contact: apiContact{
			Name:        req.Contact.Name,
			PhoneNumber: req.Contact.PhoneNumber,
			AmountDue:   req.Contact.AmountDue,
			Currency:    req.Contact.Currency,
			DueDate:     req.Contact.DueDate,
			Notes:       req.Contact.Notes,
		},
		Script: apiScript{
			AgentName:    req.Script.AgentName,
			Goal:         req.Script.Goal,
			Instructions: req.Script.Instructions,
			Greeting:     req.Script.Greeting,
			Tone:         req.Script.Tone,
			SMSTemplate:  req.Script.SMSTemplate,
			FromNumber:   req.Script.FromNumber,
		},
	}
	if req.Contact.ID != uuid.Nil {
		payload.Contact.ID = req.Contact.ID.String()
	}
	if req.Script.CampaignID != uuid.Nil {
		payload.Script.CampaignID = req.Script.CampaignID.String()
	}
	if req.Script.UserID != uuid.Nil {
		payload.Script.UserID = req.Script.UserID.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return call.PlaceCallResult{}, fmt.Errorf("encode call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calls", bytes.NewReader(body))
	if err != nil {
		return call.PlaceCallResult{}, fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return call.PlaceCallResult{}, fmt.Errorf("post call request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded apiCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return call.PlaceCallResult{}, fmt.Errorf("decode call response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result := call.PlaceCallResult{CallSID: decoded.CallSID}
		if id, err := uuid.Parse(decoded.ConversationID); err == nil {
			result.ConversationID = id
		}
		return result, nil
	}

	if decoded.Kind != "" {
		return call.PlaceCallResult{}, &call.Rejection{
			Kind:    call.RejectionKind(decoded.Kind),
			Message: decoded.Error,
		}
	}
	return call.PlaceCallResult{}, fmt.Errorf("call request failed (status %d): %s", resp.StatusCode, decoded.Error)
}
