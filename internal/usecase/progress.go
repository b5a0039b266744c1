package usecase

import (
	"context"
	"encoding/json"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"go.uber.org/zap"
)

// ProgressPublisher forwards orchestrator progress to the status exchange,
// every N records and on the final transition of each job.
type ProgressPublisher struct {
	publisher port.StatusPublisher
	every     int
	logger    *zap.Logger
}

func NewProgressPublisher(publisher port.StatusPublisher, every int, logger *zap.Logger) *ProgressPublisher {
	if every < 1 {
		every = 1
	}
	return &ProgressPublisher{publisher: publisher, every: every, logger: logger}
}

var _ ProgressObserver = (*ProgressPublisher)(nil)

func (p *ProgressPublisher) OnProgress(ctx context.Context, pr Progress) {
	job := pr.Job
	if job.Status == entity.JobStatusRunning && job.IngestedRecords%p.every != 0 {
		return
	}
	data, err := json.Marshal(entity.NewJobStatusMessage(&job))
	if err != nil {
		return
	}
	if err := p.publisher.PublishProgress(ctx, data); err != nil {
		p.logger.Warn("failed to publish progress",
			zap.String("job_id", job.ID.String()),
			zap.Int("records", job.IngestedRecords),
			zap.Error(err),
		)
	}
}
