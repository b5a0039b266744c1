package entity

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// IngestionRequestMessage is the inbound message from the video.detection queue.
type IngestionRequestMessage struct {
	JobID        uuid.UUID     `json:"job_id"`
	UserID       string        `json:"user_id"`
	VideoKey     string        `json:"video_key"`
	ModelKey     string        `json:"model_key"`
	Mode         IngestionMode `json:"mode,omitempty"`
	SamplingRate float64       `json:"sampling_rate,omitempty"`
	UserEmail    string        `json:"user_email"`
}

// Validate rejects requests no retry can fix. An empty mode or a zero rate
// falls back to the worker's defaults.
func (m IngestionRequestMessage) Validate() error {
	if m.VideoKey == "" || m.ModelKey == "" {
		return fmt.Errorf("%w: video_key and model_key are required", ErrMissingInput)
	}
	if m.Mode != "" && !m.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, m.Mode)
	}
	if m.SamplingRate < 0 || math.IsNaN(m.SamplingRate) || math.IsInf(m.SamplingRate, 0) {
		return fmt.Errorf("%w: sampling_rate %v", ErrInvalidRequest, m.SamplingRate)
	}
	return nil
}

// JobStatusMessage is published on progress and on every terminal transition.
type JobStatusMessage struct {
	JobID           uuid.UUID      `json:"job_id"`
	UserID          string         `json:"user_id"`
	Status          JobStatus      `json:"status"`
	Mode            IngestionMode  `json:"mode"`
	Addressing      AddressingMode `json:"addressing"`
	VideoKey        string         `json:"video_key"`
	ResultsKey      string         `json:"results_key,omitempty"`
	TotalFrames     int            `json:"total_frames"`
	IngestedRecords int            `json:"ingested_records"`
	FailedFrames    int            `json:"failed_frames,omitempty"`
	MalformedLines  int            `json:"malformed_lines,omitempty"`
	Duration        float64        `json:"duration_seconds,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Attempt         int            `json:"attempt"`
	MaxAttempts     int            `json:"max_attempts"`
}

func NewJobStatusMessage(job *Job) JobStatusMessage {
	return JobStatusMessage{
		JobID:           job.ID,
		UserID:          job.UserID,
		Status:          job.Status,
		Mode:            job.Mode,
		Addressing:      job.Addressing,
		VideoKey:        job.VideoKey,
		ResultsKey:      job.ResultsKey,
		TotalFrames:     job.TotalFrames,
		IngestedRecords: job.IngestedRecords,
		FailedFrames:    job.FailedFrames,
		MalformedLines:  job.MalformedLines,
		Duration:        job.VideoDuration,
		ErrorMessage:    job.ErrorMessage,
		Attempt:         job.Attempt,
		MaxAttempts:     job.MaxAttempts,
	}
}
