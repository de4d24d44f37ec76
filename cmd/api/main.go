package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/solvencyai/voicecollect/cmd/mainconfig"
	"github.com/solvencyai/voicecollect/internal/api/router"
	"github.com/solvencyai/voicecollect/internal/asr"
	"github.com/solvencyai/voicecollect/internal/call"
	"github.com/solvencyai/voicecollect/internal/campaign"
	appconfig "github.com/solvencyai/voicecollect/internal/config"
	"github.com/solvencyai/voicecollect/internal/http/handlers"
	"github.com/solvencyai/voicecollect/internal/livestate"
	"github.com/solvencyai/voicecollect/internal/llm"
	"github.com/solvencyai/voicecollect/internal/observability/metrics"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/internal/telephony"
	"github.com/solvencyai/voicecollect/internal/tts"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// campaignReader joins the campaign record store and the conversation
// status store into the read surface the campaigns handler needs. Both
// stores have a Get, so the campaign one is forwarded explicitly.
type campaignReader struct {
	*store.CampaignStore
	*store.ConversationStore
}

func (r campaignReader) Get(ctx context.Context, id uuid.UUID) (store.CampaignRecord, error) {
	return r.CampaignStore.Get(ctx, id)
}

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voicecollect API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	gateway, err := telephony.NewClient(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		BaseURL:    cfg.TwilioAPIBaseURL,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create telephony client", "error", err)
		os.Exit(1)
	}

	transcriber, err := asr.NewAssemblyAIClient(asr.AssemblyAIConfig{
		APIKey:      cfg.ASRAPIKey,
		RealtimeURL: cfg.ASRRealtimeURL,
		SampleRate:  cfg.ASRSampleRate,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create transcription client", "error", err)
		os.Exit(1)
	}

	synthesizer, err := tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:       cfg.TTSAPIKey,
		BaseURL:      cfg.TTSBaseURL,
		VoiceID:      cfg.TTSVoiceID,
		ModelID:      cfg.TTSModelID,
		OutputFormat: cfg.TTSOutputFormat,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create synthesis client", "error", err)
		os.Exit(1)
	}

	llmClient, err := llm.NewGroqClient(llm.GroqConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Timeout: cfg.LLMTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create language model client", "error", err)
		os.Exit(1)
	}

	metricsHandler, callMetrics := setupCallMetrics()

	conversations := store.NewConversationStore(pool)
	subscriptions := store.NewSubscriptionStore(pool)
	campaigns := store.NewCampaignStore(pool)
	contacts := store.NewContactStore(pool)
	live := livestate.NewStore(rdb, cfg.CallStateTTL)
	registry := call.NewRegistry(callMetrics)

	service := call.NewService(call.ServiceConfig{
		Gateway:     gateway,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		LLM:         llmClient,

		Conversations: conversations,
		Subscriptions: subscriptions,
		Campaigns:     campaigns,
		Registry:      registry,
		Live:          live,
		Metrics:       callMetrics,
		Logger:        logger,

		PublicBaseURL: cfg.PublicBaseURL,
		ResponseModel: cfg.LLMModel,
		IntentModel:   cfg.LLMClassifyModel,

		DebounceWindow:       cfg.UtteranceDebounce,
		SpeechCharsPerSecond: cfg.SpeechCharsPerSecond,
		SpeechTrailingBuffer: cfg.SpeechTrailingBuffer,

		BillingRetryAttempts:  uint(cfg.BillingRetryAttempts),
		BillingRetryBaseDelay: cfg.BillingRetryBaseDelay,
	})

	dialQueue, memoryQueue := setupDialQueue(ctx, cfg, logger)
	publisher := campaign.NewPublisher(dialQueue, campaigns, contacts, subscriptions, logger)

	// With the in-memory queue there is no separate worker process, so the
	// dialer runs inline.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workers := startInlineDialers(workerCtx, cfg, logger, memoryQueue, campaign.DialerConfig{
		Caller:        service,
		Campaigns:     campaigns,
		Contacts:      contacts,
		Conversations: conversations,
		Logger:        logger,
		Stagger:       cfg.DialStaggerDelay,
	})

	// Initialize handlers
	callsHandler := handlers.NewCallsHandler(service, live, logger)
	campaignsHandler := handlers.NewCampaignsHandler(publisher, service, campaignReader{campaigns, conversations}, logger)

	// Setup router
	routerCfg := &router.Config{
		Logger:           logger,
		CallsHandler:     callsHandler,
		CampaignsHandler: campaignsHandler,
		MetricsHandler:   metricsHandler,
	}
	r := router.New(routerCfg)

	// Create HTTP server. WriteTimeout stays zero: the media stream route
	// holds its connection open for the whole call.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	stopWorkers()
	workers.Wait()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// connectPostgresPool returns nil when no database URL is configured or the
// pool cannot be created.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	return pool
}

// setupCallMetrics builds an isolated Prometheus registry and the call
// metrics registered on it.
func setupCallMetrics() (http.Handler, *metrics.CallMetrics) {
	reg := prometheus.NewRegistry()
	callMetrics := metrics.NewCallMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), callMetrics
}

// setupDialQueue returns the campaign dial queue. The second return is
// non-nil only for the in-memory queue, which needs an inline dialer.
func setupDialQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (campaign.Queue, *campaign.MemoryQueue) {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory dial queue")
		mq := campaign.NewMemoryQueue(1024)
		return mq, mq
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	logger.Info("using SQS dial queue", "queue_url", cfg.DialQueueURL)
	return campaign.NewSQSQueue(sqsClient, cfg.DialQueueURL), nil
}

// startInlineDialers runs WorkerCount dialers against the in-memory queue.
// It returns an empty WaitGroup when memoryQueue is nil.
func startInlineDialers(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, memoryQueue *campaign.MemoryQueue, dialerCfg campaign.DialerConfig) *sync.WaitGroup {
	var wg sync.WaitGroup
	if memoryQueue == nil {
		return &wg
	}

	dialerCfg.Queue = memoryQueue
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	logger.Info("starting inline campaign dialers", "count", count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dialer := campaign.NewDialer(dialerCfg)
			if err := dialer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("inline dialer stopped", "error", err)
			}
		}()
	}
	return &wg
}
