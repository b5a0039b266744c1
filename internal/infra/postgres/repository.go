package postgres

import (
	"context"
	"fmt"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

var _ port.JobRepository = (*JobRepository)(nil)

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO ingestion_jobs (
			id, user_id, video_key, model_key, mode, sampling_rate,
			addressing_kind, tolerance_frames, base_rate, status, results_key,
			video_duration, total_frames, ingested_records, failed_frames, malformed_lines,
			attempt, max_attempts, error_message, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.ModelKey, string(job.Mode), job.SamplingRate,
		string(job.Addressing.Kind), job.Addressing.ToleranceFrames, job.Addressing.BaseRate,
		string(job.Status), job.ResultsKey,
		job.VideoDuration, job.TotalFrames, job.IngestedRecords, job.FailedFrames, job.MalformedLines,
		job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE ingestion_jobs SET
			mode=$2, sampling_rate=$3, addressing_kind=$4, tolerance_frames=$5, base_rate=$6,
			status=$7, results_key=$8, video_duration=$9, total_frames=$10,
			ingested_records=$11, failed_frames=$12, malformed_lines=$13,
			attempt=$14, error_message=$15, updated_at=$16, completed_at=$17
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Mode), job.SamplingRate,
		string(job.Addressing.Kind), job.Addressing.ToleranceFrames, job.Addressing.BaseRate,
		string(job.Status), job.ResultsKey, job.VideoDuration, job.TotalFrames,
		job.IngestedRecords, job.FailedFrames, job.MalformedLines,
		job.Attempt, job.ErrorMessage, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, user_id, video_key, model_key, mode, sampling_rate,
			addressing_kind, tolerance_frames, base_rate, status, results_key,
			video_duration, total_frames, ingested_records, failed_frames, malformed_lines,
			attempt, max_attempts, error_message, created_at, updated_at, completed_at
		FROM ingestion_jobs WHERE id=$1`

	job := &entity.Job{}
	var mode, kind, status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.ModelKey, &mode, &job.SamplingRate,
		&kind, &job.Addressing.ToleranceFrames, &job.Addressing.BaseRate, &status, &job.ResultsKey,
		&job.VideoDuration, &job.TotalFrames, &job.IngestedRecords, &job.FailedFrames, &job.MalformedLines,
		&job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Mode = entity.IngestionMode(mode)
	job.Addressing.Kind = entity.AddressingKind(kind)
	job.Status = entity.JobStatus(status)
	return job, nil
}
