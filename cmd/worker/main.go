package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"github.com/fiapx/fiapx-detection-service/internal/infra/config"
	"github.com/fiapx/fiapx-detection-service/internal/infra/detector"
	"github.com/fiapx/fiapx-detection-service/internal/infra/email"
	"github.com/fiapx/fiapx-detection-service/internal/infra/ffmpeg"
	gocvsource "github.com/fiapx/fiapx-detection-service/internal/infra/gocv"
	"github.com/fiapx/fiapx-detection-service/internal/infra/httpapi"
	"github.com/fiapx/fiapx-detection-service/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-detection-service/internal/infra/minio"
	"github.com/fiapx/fiapx-detection-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-detection-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-detection-service/internal/infra/tracing"
	"github.com/fiapx/fiapx-detection-service/internal/sampler"
	"github.com/fiapx/fiapx-detection-service/internal/usecase"
	"github.com/fiapx/fiapx-detection-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting fiapx-detection-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, tracing.Config{Endpoint: cfg.JaegerEndpoint, SampleRatio: cfg.TraceRatio})
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		UploadBucket:  cfg.MinIOUploadBucket,
		ModelBucket:   cfg.MinIOModelBucket,
		ResultsBucket: cfg.MinIOResultsBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.NotificationTo, log)
	opener := newVideoOpener(cfg, log)
	detectorClient := detector.NewClient(detector.ClientConfig{
		BaseURL:      cfg.DetectorURL,
		FrameTimeout: cfg.DetectorTimeout,
	}, &http.Client{}, log.Named("detector"))

	// Orchestrator
	orchestrator := usecase.NewIngestionOrchestrator(
		opener, detectorClient, sampler.NewFrameSampler(cfg.JPEGQuality),
		log.Named("orchestrator"),
		usecase.OrchestratorConfig{
			Concurrency:     cfg.DetectConcurrency,
			DefaultRate:     cfg.SamplingRate,
			DefaultMode:     entity.IngestionMode(cfg.DefaultMode),
			ToleranceFrames: cfg.ToleranceFrames,
		},
		usecase.NewProgressPublisher(statusPub, cfg.ProgressEvery, log),
	)

	// Use case
	uc := usecase.NewIngestVideoUseCase(
		repo, storage, orchestrator,
		statusPub, dlqPub, notifier,
		log,
		usecase.IngestVideoConfig{
			TempDir:    cfg.TempDir,
			MaxRetries: cfg.MaxRetries,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, detectorClient.CheckHealth, log)

	// HTTP API
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	uploadDir := filepath.Join(cfg.TempDir, "http-uploads")
	fatalOnErr(os.MkdirAll(uploadDir, 0755), "create upload dir")
	handler := httpapi.NewJobHandler(ctx, orchestrator, uploadDir, log.Named("http"))
	apiSrv := httpapi.StartServer(ctx, cfg.HTTPPort, httpapi.NewRouter(handler, log.Named("http")), log)

	// Consumer (single worker: the orchestrator runs one job at a time)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Queue:         cfg.RabbitMQDetectionQueue,
		Exchange:      cfg.RabbitMQExchange,
		DLQ:           cfg.RabbitMQDLQ,
		StatusQueue:   cfg.RabbitMQStatusQueue,
		ProgressQueue: cfg.RabbitMQProgressQueue,
		Prefetch:      cfg.RabbitMQPrefetch,
		WorkerCount:   1,
		BaseDelayMs:   cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		orchestrator.Cancel()
		cancel()
	}()

	log.Info("fiapx-detection-service started, consuming messages",
		zap.String("video_backend", cfg.VideoBackend),
		zap.Int("detect_concurrency", cfg.DetectConcurrency),
	)

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-detection-service stopped")
}

func newVideoOpener(cfg *config.Config, log *zap.Logger) port.VideoOpener {
	if cfg.VideoBackend == "gocv" {
		opener, err := gocvsource.NewOpener(log.Named("gocv"))
		fatalOnErr(err, "create gocv video backend")
		return opener
	}
	return ffmpeg.NewOpener(cfg.FFmpegBin, cfg.FFprobeBin, log.Named("ffmpeg"))
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
