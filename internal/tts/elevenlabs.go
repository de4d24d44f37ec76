// Package tts provides streaming text-to-speech in the telephony encoding.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solvencyai/voicecollect/pkg/logging"
)

// Synthesizer converts reply text to an audio chunk stream. The reader
// yields encoded audio as the provider produces it; callers forward chunks
// without buffering the whole utterance.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (io.ReadCloser, error)
}

// ElevenLabsClient implements Synthesizer against the ElevenLabs streaming
// endpoint.
type ElevenLabsClient struct {
	apiKey       string
	baseURL      string
	voiceID      string
	modelID      string
	outputFormat string
	httpClient   *http.Client
	logger       *logging.Logger
}

// ElevenLabsConfig configures the synthesis client.
type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

var _ Synthesizer = (*ElevenLabsClient)(nil)

// NewElevenLabsClient creates a streaming synthesis client.
func NewElevenLabsClient(cfg ElevenLabsConfig) (*ElevenLabsClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tts: api key is required")
	}
	if cfg.VoiceID == "" {
		return nil, errors.New("tts: voice id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall timeout: the response body streams for the duration
		// of the utterance.
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &ElevenLabsClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		voiceID:      cfg.VoiceID,
		modelID:      cfg.ModelID,
		outputFormat: cfg.OutputFormat,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

type synthesisRequest struct {
	Text                     string        `json:"text"`
	ModelID                  string        `json:"model_id"`
	OptimizeStreamingLatency int           `json:"optimize_streaming_latency"`
	VoiceSettings            voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Stream requests synthesis and returns the chunked audio body.
func (c *ElevenLabsClient) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	if text == "" {
		return nil, errors.New("tts: empty text")
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:                     text,
		ModelID:                  c.modelID,
		OptimizeStreamingLatency: 4,
		VoiceSettings: voiceSettings{
			Stability:       0.0,
			SimilarityBoost: 1.0,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		c.baseURL, c.voiceID, c.outputFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/basic")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: synthesis request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("tts: synthesis failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	c.logger.Debug("synthesis stream opened",
		"voice_id", c.voiceID,
		"text_length", len(text),
		"first_byte_ms", time.Since(start).Milliseconds(),
	)
	return resp.Body, nil
}
