package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker/v2"

	"github.com/solvencyai/voicecollect/pkg/logging"
)

// GroqClient implements Client against Groq's OpenAI-compatible chat
// completions API. A circuit breaker sheds load once the service starts
// failing consecutively so mid-call turns degrade fast instead of stacking
// timeouts.
type GroqClient struct {
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker[string]
	logger  *logging.Logger
}

// GroqConfig configures the client.
type GroqConfig struct {
	APIKey              string
	BaseURL             string
	Timeout             time.Duration
	BreakerInterval     time.Duration
	ConsecutiveFailures uint32
	Logger              *logging.Logger
}

var _ Client = (*GroqClient)(nil)

// NewGroqClient creates a chat-completions client.
func NewGroqClient(cfg GroqConfig) (*GroqClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerInterval <= 0 {
		cfg.BreakerInterval = 60 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
		// Mid-call turns are never retried inline; a failed turn is dropped
		// and the session keeps listening.
		option.WithMaxRetries(0),
	)

	settings := gobreaker.Settings{
		Name:     "GroqClient",
		Interval: cfg.BreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit state changed",
				"service", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &GroqClient{
		client:  &client,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
		logger:  logger,
	}, nil
}

// Complete sends one chat completion request and returns the reply text.
func (c *GroqClient) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		return Response{}, errors.New("llm: model is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	text, err := c.breaker.Execute(func() (string, error) {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		if len(completion.Choices) == 0 {
			return "", errors.New("llm: empty completion")
		}
		return completion.Choices[0].Message.Content, nil
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: completion failed: %w", err)
	}

	return Response{Text: text}, nil
}
