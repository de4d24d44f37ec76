package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// Telephony gateway (Twilio).
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioAPIBaseURL string

	// Speech recognition (AssemblyAI realtime).
	ASRAPIKey      string
	ASRRealtimeURL string
	ASRSampleRate  int

	// Language model (Groq, OpenAI-compatible).
	LLMAPIKey        string
	LLMBaseURL       string
	LLMModel         string
	LLMClassifyModel string
	LLMTimeout       time.Duration

	// Speech synthesis (ElevenLabs).
	TTSAPIKey       string
	TTSBaseURL      string
	TTSVoiceID      string
	TTSModelID      string
	TTSOutputFormat string

	// Call orchestration tunables.
	UtteranceDebounce time.Duration
	// Playback duration estimate: characters per second of synthesized
	// speech plus a trailing buffer before a scheduled hangup fires. These
	// stand in for a delivery acknowledgment the transport does not provide.
	SpeechCharsPerSecond  int
	SpeechTrailingBuffer  time.Duration
	CallStateTTL          time.Duration
	BillingRetryAttempts  int
	BillingRetryBaseDelay time.Duration

	// Campaign dialer.
	UseMemoryQueue   bool
	DialQueueURL     string
	DialStaggerDelay time.Duration
	WorkerCount      int
	// APIBaseURL is where the worker process places calls. Sessions must
	// live in the process the media streams connect to.
	APIBaseURL string

	// AWS (SQS dial queue).
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioAPIBaseURL: getEnv("TWILIO_API_BASE_URL", "https://api.twilio.com/2010-04-01"),

		ASRAPIKey:      getEnv("ASSEMBLYAI_API_KEY", ""),
		ASRRealtimeURL: getEnv("ASSEMBLYAI_REALTIME_URL", "wss://api.assemblyai.com/v2/realtime/ws"),
		ASRSampleRate:  getEnvAsInt("ASR_SAMPLE_RATE", 8000),

		LLMAPIKey:        getEnv("GROQ_API_KEY", ""),
		LLMBaseURL:       getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:         getEnv("LLM_MODEL", "llama-3.3-70b-versatile"),
		LLMClassifyModel: getEnv("LLM_CLASSIFY_MODEL", "llama-3.3-70b-versatile"),
		LLMTimeout:       getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),

		TTSAPIKey:       getEnv("ELEVENLABS_API_KEY", ""),
		TTSBaseURL:      getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		TTSVoiceID:      getEnv("TTS_VOICE_ID", "ZEBslWM12xCQWILoQtiP"),
		TTSModelID:      getEnv("TTS_MODEL_ID", "eleven_turbo_v2_5"),
		TTSOutputFormat: getEnv("TTS_OUTPUT_FORMAT", "ulaw_8000"),

		UtteranceDebounce:     getEnvAsDuration("UTTERANCE_DEBOUNCE", time.Second),
		SpeechCharsPerSecond:  getEnvAsInt("SPEECH_CHARS_PER_SECOND", 15),
		SpeechTrailingBuffer:  getEnvAsDuration("SPEECH_TRAILING_BUFFER", 2*time.Second),
		CallStateTTL:          getEnvAsDuration("CALL_STATE_TTL", 24*time.Hour),
		BillingRetryAttempts:  getEnvAsInt("BILLING_RETRY_ATTEMPTS", 3),
		BillingRetryBaseDelay: getEnvAsDuration("BILLING_RETRY_BASE_DELAY", 200*time.Millisecond),

		UseMemoryQueue:   getEnvAsBool("USE_MEMORY_QUEUE", false),
		DialQueueURL:     getEnv("DIAL_QUEUE_URL", ""),
		DialStaggerDelay: getEnvAsDuration("DIAL_STAGGER_DELAY", time.Second),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 2),
		APIBaseURL:       getEnv("API_BASE_URL", "http://localhost:8080"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
