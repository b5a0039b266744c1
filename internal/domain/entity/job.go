package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusIdle            JobStatus = "IDLE"
	JobStatusRunning         JobStatus = "RUNNING"
	JobStatusCompleted       JobStatus = "COMPLETED"
	JobStatusPartiallyFailed JobStatus = "PARTIALLY_FAILED"
	JobStatusCancelled       JobStatus = "CANCELLED"
)

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyFailed, JobStatusCancelled:
		return true
	}
	return false
}

type IngestionMode string

const (
	ModePerFrame  IngestionMode = "PER_FRAME"
	ModeStreaming IngestionMode = "STREAMING"
)

func (m IngestionMode) Valid() bool {
	return m == ModePerFrame || m == ModeStreaming
}

type Job struct {
	ID           uuid.UUID
	UserID       string
	VideoKey     string
	ModelKey     string
	Mode         IngestionMode
	SamplingRate float64
	Addressing   AddressingMode
	Status       JobStatus
	ResultsKey   string

	VideoDuration   float64
	TotalFrames     int
	IngestedRecords int
	FailedFrames    int
	MalformedLines  int

	Attempt      int
	MaxAttempts  int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

func NewJob(userID, videoKey, modelKey string, mode IngestionMode, samplingRate float64, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           uuid.New(),
		UserID:       userID,
		VideoKey:     videoKey,
		ModelKey:     modelKey,
		Mode:         mode,
		SamplingRate: samplingRate,
		Status:       JobStatusIdle,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkRunning starts a new attempt. Counters from a previous attempt are dropped
// because the attempt gets a fresh store.
func (j *Job) MarkRunning(addressing AddressingMode) {
	j.Status = JobStatusRunning
	j.Addressing = addressing
	j.Attempt++
	j.TotalFrames = 0
	j.IngestedRecords = 0
	j.FailedFrames = 0
	j.MalformedLines = 0
	j.ErrorMessage = ""
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkFinished(status JobStatus, errMsg string) {
	now := time.Now().UTC()
	j.Status = status
	j.ErrorMessage = errMsg
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkAborted returns the job to Idle with the error that stopped it.
func (j *Job) MarkAborted(errMsg string) {
	j.Status = JobStatusIdle
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

// MarkExported records where the job's records were uploaded.
func (j *Job) MarkExported(resultsKey string) {
	j.ResultsKey = resultsKey
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}
