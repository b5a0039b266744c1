package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"github.com/fiapx/fiapx-detection-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-detection-service/internal/playback"
	"github.com/fiapx/fiapx-detection-service/internal/sampler"
	"github.com/fiapx/fiapx-detection-service/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type IngestionRequest struct {
	JobID        uuid.UUID
	UserID       string
	VideoKey     string
	ModelKey     string
	VideoPath    string
	Model        entity.ModelArtifact
	Mode         entity.IngestionMode
	SamplingRate float64
}

// Progress is pushed to observers after every ingested record and once more
// when the job leaves Running.
type Progress struct {
	Job     entity.Job
	Records port.RecordReader
}

type ProgressObserver interface {
	OnProgress(ctx context.Context, p Progress)
}

type ProgressFunc func(ctx context.Context, p Progress)

func (f ProgressFunc) OnProgress(ctx context.Context, p Progress) { f(ctx, p) }

type OrchestratorConfig struct {
	// Concurrency is the number of per-frame requests in flight. 1 keeps the
	// detector at one request at a time.
	Concurrency     int
	DefaultRate     float64
	DefaultMode     entity.IngestionMode
	ToleranceFrames int
}

// IngestionOrchestrator owns at most one job. Submitting a new job cancels
// the running one and discards its store.
type IngestionOrchestrator struct {
	opener    port.VideoOpener
	detector  port.Detector
	sampler   *sampler.FrameSampler
	logger    *zap.Logger
	cfg       OrchestratorConfig
	observers []ProgressObserver

	mu     sync.Mutex
	active *activeJob
}

type activeJob struct {
	mu    sync.RWMutex
	job   entity.Job
	store *store.ResultStore

	cancel context.CancelFunc
	done   chan struct{}
}

func (a *activeJob) view() entity.Job {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.job
}

func (a *activeJob) update(fn func(j *entity.Job)) entity.Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.job)
	a.job.UpdatedAt = time.Now().UTC()
	return a.job
}

func (a *activeJob) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func NewIngestionOrchestrator(
	opener port.VideoOpener,
	detector port.Detector,
	frameSampler *sampler.FrameSampler,
	logger *zap.Logger,
	cfg OrchestratorConfig,
	observers ...ProgressObserver,
) *IngestionOrchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = 10
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = entity.ModePerFrame
	}
	if cfg.ToleranceFrames <= 0 {
		cfg.ToleranceFrames = entity.DefaultToleranceFrames
	}
	return &IngestionOrchestrator{
		opener:    opener,
		detector:  detector,
		sampler:   frameSampler,
		logger:    logger,
		cfg:       cfg,
		observers: observers,
	}
}

func (o *IngestionOrchestrator) normalize(req *IngestionRequest) error {
	if req.VideoPath == "" {
		return fmt.Errorf("%w: video", entity.ErrMissingInput)
	}
	if req.Model.Empty() {
		return fmt.Errorf("%w: model", entity.ErrMissingInput)
	}
	if req.Mode == "" {
		req.Mode = o.cfg.DefaultMode
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown ingestion mode %q", entity.ErrInvalidRequest, req.Mode)
	}
	if math.IsNaN(req.SamplingRate) || math.IsInf(req.SamplingRate, 0) {
		return fmt.Errorf("%w: sampling rate %v", entity.ErrInvalidRequest, req.SamplingRate)
	}
	if req.SamplingRate <= 0 {
		req.SamplingRate = o.cfg.DefaultRate
	}
	if req.JobID == uuid.Nil {
		req.JobID = uuid.New()
	}
	return nil
}

// Run ingests req to completion and returns the job's final state. A job-level
// failure returns the job to Idle together with an error wrapping ErrJobAborted.
func (o *IngestionOrchestrator) Run(ctx context.Context, req IngestionRequest) (entity.Job, error) {
	if err := o.normalize(&req); err != nil {
		return entity.Job{}, err
	}
	jobCtx, aj := o.install(ctx, req)
	return o.execute(jobCtx, aj, req)
}

// Start installs the job and ingests it in the background.
func (o *IngestionOrchestrator) Start(ctx context.Context, req IngestionRequest) (entity.Job, error) {
	if err := o.normalize(&req); err != nil {
		return entity.Job{}, err
	}
	jobCtx, aj := o.install(ctx, req)
	go func() {
		if _, err := o.execute(jobCtx, aj, req); err != nil {
			o.logger.Warn("background ingestion ended with error",
				zap.String("job_id", req.JobID.String()), zap.Error(err))
		}
	}()
	return aj.view(), nil
}

// install replaces whatever job is active with a fresh Running job.
func (o *IngestionOrchestrator) install(ctx context.Context, req IngestionRequest) (context.Context, *activeJob) {
	for {
		o.mu.Lock()
		prev := o.active
		if prev == nil || prev.finished() {
			jobCtx, cancel := context.WithCancel(ctx)
			job := entity.NewJob(req.UserID, req.VideoKey, req.ModelKey, req.Mode, req.SamplingRate, 1)
			job.ID = req.JobID
			addressing := entity.ExactAddressing()
			if req.Mode == entity.ModeStreaming {
				addressing = entity.TolerantAddressing(o.cfg.ToleranceFrames, 0)
			}
			job.MarkRunning(addressing)

			aj := &activeJob{
				job:    *job,
				store:  store.New(),
				cancel: cancel,
				done:   make(chan struct{}),
			}
			o.active = aj
			o.mu.Unlock()
			return jobCtx, aj
		}
		o.mu.Unlock()

		o.logger.Info("replacing running ingestion job", zap.String("job_id", prev.view().ID.String()))
		prev.cancel()
		<-prev.done
	}
}

// Cancel stops the active job, if any. Records already ingested are kept.
func (o *IngestionOrchestrator) Cancel() bool {
	o.mu.Lock()
	aj := o.active
	o.mu.Unlock()
	if aj == nil || aj.finished() {
		return false
	}
	aj.cancel()
	return true
}

// Current returns the active job and a resolver over its records.
func (o *IngestionOrchestrator) Current() (entity.Job, *playback.Resolver, bool) {
	o.mu.Lock()
	aj := o.active
	o.mu.Unlock()
	if aj == nil {
		return entity.Job{}, nil, false
	}
	job := aj.view()
	return job, playback.NewResolver(aj.store, job.Addressing), true
}

// Stats summarises the active job's records.
func (o *IngestionOrchestrator) Stats() (store.Stats, bool) {
	o.mu.Lock()
	aj := o.active
	o.mu.Unlock()
	if aj == nil {
		return store.Stats{}, false
	}
	return aj.store.Stats(), true
}

// Snapshot returns the active job's records ordered by frame number.
func (o *IngestionOrchestrator) Snapshot() ([]entity.DetectionRecord, bool) {
	o.mu.Lock()
	aj := o.active
	o.mu.Unlock()
	if aj == nil {
		return nil, false
	}
	return aj.store.Snapshot(), true
}

// Records returns the records of job id while it is still the active job.
func (o *IngestionOrchestrator) Records(id uuid.UUID) ([]entity.DetectionRecord, bool) {
	o.mu.Lock()
	aj := o.active
	o.mu.Unlock()
	if aj == nil || aj.view().ID != id {
		return nil, false
	}
	return aj.store.Snapshot(), true
}

func (o *IngestionOrchestrator) execute(ctx context.Context, aj *activeJob, req IngestionRequest) (entity.Job, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "IngestionOrchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", req.JobID.String()),
		attribute.String("job.mode", string(req.Mode)),
		attribute.Float64("job.sampling_rate", req.SamplingRate),
	)

	defer close(aj.done)
	defer aj.cancel()

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	start := time.Now()
	log := o.logger.With(zap.String("job_id", req.JobID.String()), zap.String("mode", string(req.Mode)))
	log.Info("ingestion started", zap.Float64("sampling_rate", req.SamplingRate))

	src, meta, err := o.openVideo(ctx, req.VideoPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open video")
		return o.abort(ctx, aj, log, err)
	}
	defer func() {
		o.sampler.Release(src)
		if err := src.Close(); err != nil {
			log.Warn("close video source", zap.Error(err))
		}
	}()

	aj.update(func(j *entity.Job) {
		j.VideoDuration = meta.DurationSeconds
		if j.Addressing.Kind == entity.AddressingTolerant {
			j.Addressing.BaseRate = meta.FrameRate
		}
	})

	var (
		status entity.JobStatus
		errMsg string
	)
	switch req.Mode {
	case entity.ModeStreaming:
		status, err = o.runStreaming(ctx, aj, req, log)
		if err != nil && status == entity.JobStatusIdle {
			span.RecordError(err)
			span.SetStatus(codes.Error, "streaming setup")
			return o.abort(ctx, aj, log, err)
		}
		if err != nil {
			errMsg = err.Error()
		}
	default:
		status, err = o.runPerFrame(ctx, aj, src, meta, req, log)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sampling")
			return o.abort(ctx, aj, log, err)
		}
	}

	final := aj.update(func(j *entity.Job) { j.MarkFinished(status, errMsg) })
	metrics.JobsProcessedTotal.WithLabelValues(string(status)).Inc()
	metrics.JobProcessingDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	o.notify(context.WithoutCancel(ctx), aj, final)

	log.Info("ingestion finished",
		zap.String("status", string(status)),
		zap.Int("records", final.IngestedRecords),
		zap.Int("failed_frames", final.FailedFrames),
		zap.Int("malformed_lines", final.MalformedLines),
		zap.Duration("elapsed", time.Since(start)),
	)
	return final, nil
}

func (o *IngestionOrchestrator) openVideo(ctx context.Context, path string) (port.VideoSource, entity.VideoMetadata, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "open_video")
	defer span.End()

	src, err := o.opener.Open(ctx, path)
	if err != nil {
		return nil, entity.VideoMetadata{}, fmt.Errorf("open video: %w", err)
	}
	meta, err := src.Metadata(ctx)
	if err != nil {
		src.Close()
		return nil, entity.VideoMetadata{}, fmt.Errorf("read video metadata: %w", err)
	}
	return src, meta, nil
}

func (o *IngestionOrchestrator) abort(ctx context.Context, aj *activeJob, log *zap.Logger, cause error) (entity.Job, error) {
	final := aj.update(func(j *entity.Job) { j.MarkAborted(cause.Error()) })
	metrics.JobsProcessedTotal.WithLabelValues("ABORTED").Inc()
	o.notify(context.WithoutCancel(ctx), aj, final)
	log.Error("ingestion aborted", zap.Error(cause))
	return final, fmt.Errorf("%w: %w", entity.ErrJobAborted, cause)
}

type frameResult struct {
	record entity.DetectionRecord
	failed bool
}

// runPerFrame fans sampling tasks out to a bounded pool; every completed
// record comes back over one channel and is written here, by a single writer.
func (o *IngestionOrchestrator) runPerFrame(
	ctx context.Context,
	aj *activeJob,
	src port.VideoSource,
	meta entity.VideoMetadata,
	req IngestionRequest,
	log *zap.Logger,
) (entity.JobStatus, error) {
	seq, err := o.sampler.Sample(meta, req.SamplingRate)
	if err != nil {
		return entity.JobStatusIdle, fmt.Errorf("sample video: %w", err)
	}
	aj.update(func(j *entity.Job) { j.TotalFrames = seq.Len() })
	metrics.FramesSampledTotal.Add(float64(seq.Len()))

	tasks := make(chan entity.SamplingTask)
	results := make(chan frameResult)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With(zap.Int("worker_id", workerID))
			for task := range tasks {
				rec, failed := o.processFrame(ctx, src, meta, task, req.Model, wlog)
				if ctx.Err() != nil {
					continue
				}
				results <- frameResult{record: rec, failed: failed}
			}
		}(i)
	}

	go func() {
		defer close(tasks)
		for task := range seq.All() {
			select {
			case <-ctx.Done():
				return
			case tasks <- task:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		aj.store.Append(res.record)
		metrics.RecordsIngestedTotal.WithLabelValues(string(entity.ModePerFrame)).Inc()
		view := aj.update(func(j *entity.Job) {
			j.IngestedRecords = aj.store.Size()
			if res.failed {
				j.FailedFrames++
			}
		})
		o.notify(ctx, aj, view)
	}

	if ctx.Err() != nil {
		return entity.JobStatusCancelled, nil
	}
	return entity.JobStatusCompleted, nil
}

// processFrame never fails the job: capture or inference errors produce an
// empty record for the frame.
func (o *IngestionOrchestrator) processFrame(
	ctx context.Context,
	src port.VideoSource,
	meta entity.VideoMetadata,
	task entity.SamplingTask,
	model entity.ModelArtifact,
	log *zap.Logger,
) (entity.DetectionRecord, bool) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "process_frame")
	defer span.End()
	span.SetAttributes(attribute.Int("frame.id", task.FrameID))

	flog := log.With(zap.Int("frame_id", task.FrameID), zap.Float64("timestamp", task.CaptureTimestamp))

	image, err := o.sampler.Capture(ctx, src, meta, task.CaptureTimestamp)
	if err != nil {
		if ctx.Err() == nil {
			metrics.FrameFailuresTotal.WithLabelValues("capture").Inc()
			flog.Warn("frame capture failed, recording empty detections", zap.Error(err))
			span.RecordError(err)
		}
		return entity.EmptyRecord(task.FrameID, task.CaptureTimestamp), true
	}

	dets, err := o.detector.DetectFrame(ctx, port.FrameRequest{FrameID: task.FrameID, Image: image, Model: model})
	if err != nil {
		if ctx.Err() == nil {
			metrics.FrameFailuresTotal.WithLabelValues("detect").Inc()
			flog.Warn("frame detection failed, recording empty detections", zap.Error(err))
			span.RecordError(err)
		}
		return entity.EmptyRecord(task.FrameID, task.CaptureTimestamp), true
	}

	ts := task.CaptureTimestamp
	return entity.DetectionRecord{FrameNumber: task.FrameID, Timestamp: &ts, Detections: dets}, false
}

// runStreaming issues one request for the whole clip. Failing before the
// first byte returns Idle; failing mid-stream keeps what arrived.
func (o *IngestionOrchestrator) runStreaming(
	ctx context.Context,
	aj *activeJob,
	req IngestionRequest,
	log *zap.Logger,
) (entity.JobStatus, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "stream_detections")
	defer span.End()

	stream, err := o.detector.DetectVideo(ctx, port.VideoRequest{VideoPath: req.VideoPath, Model: req.Model})
	if err != nil {
		if ctx.Err() != nil {
			return entity.JobStatusCancelled, nil
		}
		return entity.JobStatusIdle, fmt.Errorf("submit video: %w", err)
	}
	defer stream.Close()

	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			aj.update(func(j *entity.Job) { j.MalformedLines = stream.Malformed() })
			return entity.JobStatusCompleted, nil
		}
		if err != nil {
			aj.update(func(j *entity.Job) { j.MalformedLines = stream.Malformed() })
			if ctx.Err() != nil {
				return entity.JobStatusCancelled, nil
			}
			log.Warn("detection stream terminated early", zap.Error(err), zap.Int("records", aj.store.Size()))
			span.RecordError(err)
			return entity.JobStatusPartiallyFailed, err
		}

		aj.store.Append(rec)
		metrics.RecordsIngestedTotal.WithLabelValues(string(entity.ModeStreaming)).Inc()
		view := aj.update(func(j *entity.Job) {
			j.IngestedRecords = aj.store.Size()
			j.MalformedLines = stream.Malformed()
		})
		o.notify(ctx, aj, view)
	}
}

func (o *IngestionOrchestrator) notify(ctx context.Context, aj *activeJob, job entity.Job) {
	p := Progress{Job: job, Records: aj.store}
	for _, obs := range o.observers {
		obs.OnProgress(ctx, p)
	}
}
