package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"github.com/fiapx/fiapx-detection-service/internal/infra/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Ingester runs one ingestion job at a time.
type Ingester interface {
	Run(ctx context.Context, req IngestionRequest) (entity.Job, error)
	Records(id uuid.UUID) ([]entity.DetectionRecord, bool)
}

// IngestVideoUseCase handles one message from the detection queue: it fetches
// the video and model, ingests them, and exports the records.
type IngestVideoUseCase struct {
	repo      port.JobRepository
	storage   port.ArtifactStorage
	ingester  Ingester
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	tempDir   string
	maxRetry  int
}

type IngestVideoConfig struct {
	TempDir    string
	MaxRetries int
}

func NewIngestVideoUseCase(
	repo port.JobRepository,
	storage port.ArtifactStorage,
	ingester Ingester,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg IngestVideoConfig,
) *IngestVideoUseCase {
	return &IngestVideoUseCase{
		repo:      repo,
		storage:   storage,
		ingester:  ingester,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		tempDir:   cfg.TempDir,
		maxRetry:  cfg.MaxRetries,
	}
}

func (uc *IngestVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "IngestVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.IngestionRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
		attribute.String("job.model_key", msg.ModelKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	if err := msg.Validate(); err != nil {
		log.Warn("invalid detection request, sending to DLQ", zap.Error(err))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, err.Error())
		metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.ModelKey, msg.Mode, msg.SamplingRate, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkRunning(job.Addressing)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to RUNNING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	if err := uc.ingestPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *IngestVideoUseCase) ingestPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.IngestionRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download video and model from MinIO
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_inputs")
	videoPath := filepath.Join(workDir, "input"+filepath.Ext(msg.VideoKey))
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	modelPath := filepath.Join(workDir, filepath.Base(msg.ModelKey))
	if err := uc.storage.DownloadModel(ctx2, msg.ModelKey, modelPath); err != nil {
		spanDl.End()
		log.Error("failed to download model", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_model: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	weights, err := os.ReadFile(modelPath)
	if err != nil {
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "read_model: "+err.Error(), log)
	}

	// Ingest detections
	outcome, err := uc.ingester.Run(ctx, IngestionRequest{
		JobID:        job.ID,
		UserID:       job.UserID,
		VideoKey:     job.VideoKey,
		ModelKey:     job.ModelKey,
		VideoPath:    videoPath,
		Model:        entity.ModelArtifact{Name: filepath.Base(msg.ModelKey), Data: weights},
		Mode:         job.Mode,
		SamplingRate: job.SamplingRate,
	})
	if errors.Is(err, entity.ErrMissingInput) || errors.Is(err, entity.ErrInvalidRequest) {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, err.Error())
	}
	if err != nil {
		log.Error("ingestion aborted", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "ingest: "+err.Error(), log)
	}
	applyOutcome(job, outcome)

	records, ok := uc.ingester.Records(job.ID)
	if !ok {
		// Another submission took over the orchestrator before the export.
		job.MarkFinished(entity.JobStatusCancelled, "replaced by a newer job")
	}

	if job.Status == entity.JobStatusCancelled {
		if err := uc.repo.Update(ctx, job); err != nil {
			return fmt.Errorf("update job cancelled: %w", err)
		}
		uc.publishStatus(ctx, job, log)
		log.Info("job cancelled", zap.Int("records", job.IngestedRecords))
		return nil
	}

	// Export records to MinIO
	upStart := time.Now()
	ctx3, spanUp := tracer.Start(ctx, "upload_results")
	resultsKey := fmt.Sprintf("%s/%s.ndjson", msg.UserID, job.ID.String())
	exportPath := filepath.Join(workDir, "results.ndjson")
	if err := writeNDJSON(exportPath, records); err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "export_results: "+err.Error(), log)
	}
	exportFile, err := os.Open(exportPath)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_results: "+err.Error(), log)
	}
	exportStat, _ := exportFile.Stat()
	if err := uc.storage.UploadResults(ctx3, resultsKey, exportFile, exportStat.Size()); err != nil {
		exportFile.Close()
		spanUp.End()
		log.Error("results upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_results: "+err.Error(), log)
	}
	exportFile.Close()
	spanUp.End()
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkExported(resultsKey)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update finished job", zap.Error(err))
		return fmt.Errorf("update job finished: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job finished",
		zap.String("status", string(job.Status)),
		zap.Int("records", job.IngestedRecords),
		zap.Int("failed_frames", job.FailedFrames),
		zap.String("results_key", resultsKey),
	)

	return nil
}

// applyOutcome copies the orchestrator's view of the attempt onto the
// persisted job. Attempt bookkeeping stays with the persisted job.
func applyOutcome(job *entity.Job, outcome entity.Job) {
	job.Mode = outcome.Mode
	job.SamplingRate = outcome.SamplingRate
	job.Addressing = outcome.Addressing
	job.VideoDuration = outcome.VideoDuration
	job.TotalFrames = outcome.TotalFrames
	job.IngestedRecords = outcome.IngestedRecords
	job.FailedFrames = outcome.FailedFrames
	job.MalformedLines = outcome.MalformedLines
	job.MarkFinished(outcome.Status, outcome.ErrorMessage)
}

func writeNDJSON(path string, records []entity.DetectionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("encode frame %d: %w", rec.FrameNumber, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (uc *IngestVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.IngestionRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkAborted(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *IngestVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.IngestionRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkAborted(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, port.FailureNotice{
			UserEmail: msg.UserEmail,
			JobID:     job.ID.String(),
			VideoKey:  msg.VideoKey,
			ModelKey:  msg.ModelKey,
			Attempts:  job.Attempt,
			Reason:    errMsg,
		})
	}

	return nil
}

func (uc *IngestVideoUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	data, _ := json.Marshal(entity.NewJobStatusMessage(job))
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
