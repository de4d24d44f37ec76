package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/solvencyai/voicecollect/cmd/mainconfig"
	"github.com/solvencyai/voicecollect/internal/campaign"
	appconfig "github.com/solvencyai/voicecollect/internal/config"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqsClient := sqs.NewFromConfig(awsConfig)
	queue := campaign.NewSQSQueue(sqsClient, cfg.DialQueueURL)

	// Calls are placed through the API process: that is where the media
	// streams connect, so that is where the sessions must live.
	caller := campaign.NewAPICaller(cfg.APIBaseURL, nil, logger)

	dialerCfg := campaign.DialerConfig{
		Queue:         queue,
		Caller:        caller,
		Campaigns:     store.NewCampaignStore(pool),
		Contacts:      store.NewContactStore(pool),
		Conversations: store.NewConversationStore(pool),
		Logger:        logger,
		Stagger:       cfg.DialStaggerDelay,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	logger.Info("starting campaign workers", "count", count, "queue_url", cfg.DialQueueURL)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dialer := campaign.NewDialer(dialerCfg)
			if err := dialer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("campaign dialer stopped", "error", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down campaign worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("campaign worker stopped")
	case <-doneCtx.Done():
		logger.Error("campaign worker shutdown timed out", "error", doneCtx.Err())
	}
}
