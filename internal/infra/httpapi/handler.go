package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/playback"
	"github.com/fiapx/fiapx-detection-service/internal/store"
	"github.com/fiapx/fiapx-detection-service/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobService is the orchestrator surface the API drives.
type JobService interface {
	Start(ctx context.Context, req usecase.IngestionRequest) (entity.Job, error)
	Cancel() bool
	Current() (entity.Job, *playback.Resolver, bool)
	Stats() (store.Stats, bool)
	Snapshot() ([]entity.DetectionRecord, bool)
}

type JobHandler struct {
	// baseCtx outlives requests; jobs started over HTTP run under it.
	baseCtx   context.Context
	jobs      JobService
	uploadDir string
	maxModel  int64
	logger    *zap.Logger

	mu         sync.Mutex
	lastUpload string
}

func NewJobHandler(ctx context.Context, jobs JobService, uploadDir string, logger *zap.Logger) *JobHandler {
	return &JobHandler{baseCtx: ctx, jobs: jobs, uploadDir: uploadDir, maxModel: 512 << 20, logger: logger}
}

type submitForm struct {
	Mode string  `form:"mode"`
	Rate float64 `form:"rate"`
}

type jobResponse struct {
	JobID           string                `json:"job_id"`
	Status          entity.JobStatus      `json:"status"`
	Mode            entity.IngestionMode  `json:"mode"`
	SamplingRate    float64               `json:"sampling_rate"`
	Addressing      entity.AddressingMode `json:"addressing"`
	VideoDuration   float64               `json:"video_duration"`
	TotalFrames     int                   `json:"total_frames"`
	IngestedRecords int                   `json:"ingested_records"`
	FailedFrames    int                   `json:"failed_frames"`
	MalformedLines  int                   `json:"malformed_lines"`
	Error           string                `json:"error,omitempty"`
	Stats           *store.Stats          `json:"stats,omitempty"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func newJobResponse(job entity.Job) jobResponse {
	return jobResponse{
		JobID:           job.ID.String(),
		Status:          job.Status,
		Mode:            job.Mode,
		SamplingRate:    job.SamplingRate,
		Addressing:      job.Addressing,
		VideoDuration:   job.VideoDuration,
		TotalFrames:     job.TotalFrames,
		IngestedRecords: job.IngestedRecords,
		FailedFrames:    job.FailedFrames,
		MalformedLines:  job.MalformedLines,
		Error:           job.ErrorMessage,
		UpdatedAt:       job.UpdatedAt,
	}
}

type frameResponse struct {
	FrameNumber int                   `json:"frame_number"`
	Timestamp   *float64              `json:"timestamp,omitempty"`
	Detections  []entity.Detection    `json:"detections"`
	Overlay     []playback.OverlayBox `json:"overlay"`
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var form submitForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data: " + err.Error()})
		return
	}

	mode := entity.IngestionMode(form.Mode)
	if mode != "" && !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be PER_FRAME or STREAMING"})
		return
	}
	if form.Rate < 0 || !finite(form.Rate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be positive"})
		return
	}

	videoHeader, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Video file is required"})
		return
	}
	modelHeader, err := c.FormFile("model")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Model file is required"})
		return
	}
	if modelHeader.Size > h.maxModel {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Model file is too large"})
		return
	}

	modelFile, err := modelHeader.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded model", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process uploaded model"})
		return
	}
	weights, err := io.ReadAll(modelFile)
	modelFile.Close()
	if err != nil {
		h.logger.Error("failed to read uploaded model", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded model"})
		return
	}

	jobID := uuid.New()
	videoPath := filepath.Join(h.uploadDir, jobID.String()+filepath.Ext(videoHeader.Filename))
	if err := c.SaveUploadedFile(videoHeader, videoPath); err != nil {
		h.logger.Error("failed to store uploaded video", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store uploaded video"})
		return
	}

	job, err := h.jobs.Start(h.baseCtx, usecase.IngestionRequest{
		JobID:        jobID,
		VideoKey:     videoHeader.Filename,
		ModelKey:     modelHeader.Filename,
		VideoPath:    videoPath,
		Model:        entity.ModelArtifact{Name: modelHeader.Filename, Data: weights},
		Mode:         mode,
		SamplingRate: form.Rate,
	})
	if err != nil {
		os.Remove(videoPath)
		if errors.Is(err, entity.ErrMissingInput) || errors.Is(err, entity.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to start job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start job"})
		return
	}
	h.rotateUpload(videoPath)

	h.logger.Info("job submitted over http",
		zap.String("job_id", job.ID.String()),
		zap.String("mode", string(job.Mode)),
		zap.String("video", videoHeader.Filename),
	)
	c.JSON(http.StatusAccepted, newJobResponse(job))
}

// rotateUpload removes the video of the job that path's job replaced.
func (h *JobHandler) rotateUpload(path string) {
	h.mu.Lock()
	prev := h.lastUpload
	h.lastUpload = path
	h.mu.Unlock()
	if prev != "" && prev != path {
		if err := os.Remove(prev); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("failed to remove previous upload", zap.String("path", prev), zap.Error(err))
		}
	}
}

// Current handles GET /api/jobs/current
func (h *JobHandler) Current(c *gin.Context) {
	job, _, ok := h.jobs.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job has been submitted"})
		return
	}
	resp := newJobResponse(job)
	if stats, ok := h.jobs.Stats(); ok {
		resp.Stats = &stats
	}
	c.JSON(http.StatusOK, resp)
}

// Frame handles GET /api/jobs/current/frame?t=<seconds>[&rate=<fps>]
func (h *JobHandler) Frame(c *gin.Context) {
	job, resolver, ok := h.jobs.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job has been submitted"})
		return
	}

	t, err := strconv.ParseFloat(c.Query("t"), 64)
	if err != nil || !finite(t) || t < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "t must be a non-negative number of seconds"})
		return
	}
	rate := job.SamplingRate
	if raw := c.Query("rate"); raw != "" {
		rate, err = strconv.ParseFloat(raw, 64)
		if err != nil || !finite(rate) || rate <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be a positive finite number"})
			return
		}
	}

	rec, found := resolver.Resolve(playback.PlaybackContext{CurrentTime: t, SamplingRate: rate})
	if !found {
		c.Status(http.StatusNoContent)
		return
	}
	detections := rec.Detections
	if detections == nil {
		detections = []entity.Detection{}
	}
	c.JSON(http.StatusOK, frameResponse{
		FrameNumber: rec.FrameNumber,
		Timestamp:   rec.Timestamp,
		Detections:  detections,
		Overlay:     playback.Overlay(rec),
	})
}

// Records handles GET /api/jobs/current/records as NDJSON
func (h *JobHandler) Records(c *gin.Context) {
	records, ok := h.jobs.Snapshot()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job has been submitted"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			h.logger.Warn("records export interrupted", zap.Error(err))
			return
		}
	}
}

// Cancel handles DELETE /api/jobs/current
func (h *JobHandler) Cancel(c *gin.Context) {
	if _, _, ok := h.jobs.Current(); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job has been submitted"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": h.jobs.Cancel()})
}

// finite rejects the "Inf" and "NaN" spellings strconv.ParseFloat accepts.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
