package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want 8080", cfg.Port)
	}
	if cfg.UtteranceDebounce != time.Second {
		t.Errorf("UtteranceDebounce: got %v, want 1s", cfg.UtteranceDebounce)
	}
	if cfg.SpeechCharsPerSecond != 15 {
		t.Errorf("SpeechCharsPerSecond: got %v, want 15", cfg.SpeechCharsPerSecond)
	}
	if cfg.SpeechTrailingBuffer != 2*time.Second {
		t.Errorf("SpeechTrailingBuffer: got %v, want 2s", cfg.SpeechTrailingBuffer)
	}
	if cfg.TTSOutputFormat != "ulaw_8000" {
		t.Errorf("TTSOutputFormat: got %q", cfg.TTSOutputFormat)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("UTTERANCE_DEBOUNCE", "750ms")
	t.Setenv("SPEECH_CHARS_PER_SECOND", "12")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("BILLING_RETRY_ATTEMPTS", "5")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("Port: got %q", cfg.Port)
	}
	if cfg.UtteranceDebounce != 750*time.Millisecond {
		t.Errorf("UtteranceDebounce: got %v", cfg.UtteranceDebounce)
	}
	if cfg.SpeechCharsPerSecond != 12 {
		t.Errorf("SpeechCharsPerSecond: got %v", cfg.SpeechCharsPerSecond)
	}
	if !cfg.UseMemoryQueue {
		t.Errorf("UseMemoryQueue: got false, want true")
	}
	if cfg.BillingRetryAttempts != 5 {
		t.Errorf("BillingRetryAttempts: got %d", cfg.BillingRetryAttempts)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "lots")
	t.Setenv("UTTERANCE_DEBOUNCE", "soon")

	cfg := Load()

	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount: got %d, want default 2", cfg.WorkerCount)
	}
	if cfg.UtteranceDebounce != time.Second {
		t.Errorf("UtteranceDebounce: got %v, want default 1s", cfg.UtteranceDebounce)
	}
}
