package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/infra/detector"
	"github.com/fiapx/fiapx-detection-service/internal/infra/email"
	"github.com/fiapx/fiapx-detection-service/internal/infra/ffmpeg"
	miniostorage "github.com/fiapx/fiapx-detection-service/internal/infra/minio"
	"github.com/fiapx/fiapx-detection-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-detection-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-detection-service/internal/sampler"
	"github.com/fiapx/fiapx-detection-service/internal/usecase"
	"github.com/fiapx/fiapx-detection-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

const (
	exchange    = "fiapx.video"
	queue       = "video.detection"
	statusQueue = "video.detection.status"
	progressQ   = "video.detection.progress"
	dlq         = "video.detection.dlq"
)

type stack struct {
	pool        *pgxpool.Pool
	rmqConn     *amqp.Connection
	minioClient *miniogo.Client
}

// startStack runs postgres, rabbitmq and minio containers and wires the
// queue use case against them and the given detector.
func startStack(t *testing.T, ctx context.Context, detectorURL string) *stack {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("job_user"),
		tcpostgres.WithPassword("job_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(context.Background()) })

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { rmqContainer.Terminate(context.Background()) })

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { minioContainer.Terminate(context.Background()) })

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	require.NoError(t, postgres.RunMigrations(pgConnStr, "../../migrations"))

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      minioEndpoint,
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		UploadBucket:  "uploads",
		ModelBucket:   "models",
		ResultsBucket: "results",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	t.Cleanup(func() { rmqConn.Close() })

	pub, err := rabbitmq.NewPublisher(rmqConn, exchange)
	require.NoError(t, err)
	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, dlq)

	log, _ := logger.New("debug")
	orchestrator := usecase.NewIngestionOrchestrator(
		ffmpeg.NewOpener("", "", log),
		detector.NewClient(detector.ClientConfig{BaseURL: detectorURL, FrameTimeout: 10 * time.Second}, nil, log),
		sampler.NewFrameSampler(0),
		log,
		usecase.OrchestratorConfig{Concurrency: 2},
		usecase.NewProgressPublisher(statusPub, 5, log),
	)

	uc := usecase.NewIngestVideoUseCase(
		postgres.NewJobRepository(pool), storage, orchestrator,
		statusPub, dlqPub, email.NewSMTPNotifier("localhost", 1025, "test@test.local", "", log),
		log,
		usecase.IngestVideoConfig{TempDir: t.TempDir(), MaxRetries: 3},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           rmqURL,
		Queue:         queue,
		Exchange:      exchange,
		DLQ:           dlq,
		StatusQueue:   statusQueue,
		ProgressQueue: progressQ,
		Prefetch:      1,
		WorkerCount:   1,
		BaseDelayMs:   100,
	}, uc.Execute, log)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	t.Cleanup(consumerCancel)
	go consumer.Start(consumerCtx)

	// Give consumer time to start
	time.Sleep(500 * time.Millisecond)

	return &stack{pool: pool, rmqConn: rmqConn, minioClient: minioClient}
}

func (s *stack) publish(t *testing.T, ctx context.Context, body []byte) {
	ch, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.PublishWithContext(ctx, exchange, rabbitmq.DetectionRoutingKey, false, false,
		amqp.Publishing{ContentType: "application/json", Body: body}))
}

func fakeDetector(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/yolov8/infer_image", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, "missing image", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[{"bbox":{"x":1,"y":2,"width":3,"height":4},"confidence":0.75,"className":"person","classId":0}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func generateClip(t *testing.T) string {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	clip := filepath.Join(t.TempDir(), "clip.mp4")
	out, err := exec.Command("ffmpeg", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=64x48:rate=10",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", clip).CombinedOutput()
	if err != nil {
		t.Skipf("cannot generate clip: %v: %s", err, out)
	}
	return clip
}

func TestIngestVideoEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	clip := generateClip(t)
	s := startStack(t, ctx, fakeDetector(t).URL)

	videoKey := "testuser/clip.mp4"
	_, err := s.minioClient.FPutObject(ctx, "uploads", videoKey, clip, miniogo.PutObjectOptions{ContentType: "video/mp4"})
	require.NoError(t, err)
	_, err = s.minioClient.PutObject(ctx, "models", "yolov8n.pt", strings.NewReader("weights"), 7, miniogo.PutObjectOptions{})
	require.NoError(t, err)

	statusCh, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()
	statusMsgs, err := statusCh.Consume(statusQueue, "", true, false, false, false, nil)
	require.NoError(t, err)

	jobID := uuid.New()
	body, err := json.Marshal(entity.IngestionRequestMessage{
		JobID:        jobID,
		UserID:       "testuser",
		VideoKey:     videoKey,
		ModelKey:     "yolov8n.pt",
		Mode:         entity.ModePerFrame,
		SamplingRate: 10,
		UserEmail:    "test@test.local",
	})
	require.NoError(t, err)
	s.publish(t, ctx, body)

	var statusMsg entity.JobStatusMessage
	select {
	case delivery := <-statusMsgs:
		require.NoError(t, json.Unmarshal(delivery.Body, &statusMsg))
	case <-time.After(2 * time.Minute):
		t.Fatal("timeout waiting for status message")
	}

	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, entity.JobStatusCompleted, statusMsg.Status)
	assert.Equal(t, 20, statusMsg.TotalFrames)
	assert.Equal(t, 20, statusMsg.IngestedRecords)
	require.NotEmpty(t, statusMsg.ResultsKey)

	obj, err := s.minioClient.GetObject(ctx, "results", statusMsg.ResultsKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)
	defer obj.Close()

	lines := 0
	sc := bufio.NewScanner(obj)
	for sc.Scan() {
		var rec entity.DetectionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, lines, rec.FrameNumber)
		require.Len(t, rec.Detections, 1)
		assert.Equal(t, "person", rec.Detections[0].ClassName)
		lines++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 20, lines)

	var dbStatus string
	var dbRecords int
	err = s.pool.QueryRow(ctx,
		"SELECT status, ingested_records FROM ingestion_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbRecords)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, 20, dbRecords)

	progressCh, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer progressCh.Close()
	progress, ok, err := progressCh.Get(progressQ, true)
	require.NoError(t, err)
	require.True(t, ok, "progress events should be published")
	var progressMsg entity.JobStatusMessage
	require.NoError(t, json.Unmarshal(progress.Body, &progressMsg))
	assert.Equal(t, jobID, progressMsg.JobID)

	t.Logf("Test passed: %d records exported to %s", lines, statusMsg.ResultsKey)
}

func TestIngestVideoMalformedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := startStack(t, ctx, "http://127.0.0.1:1")
	s.publish(t, ctx, []byte(`{invalid json`))

	// Wait and verify message landed in DLQ
	time.Sleep(2 * time.Second)

	dlqCh, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	dlqMsg, ok, err := dlqCh.Get(dlq, true)
	require.NoError(t, err)
	assert.True(t, ok, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))
	assert.Contains(t, dlqMsg.Headers["x-dlq-reason"], "unmarshal_error")
}
