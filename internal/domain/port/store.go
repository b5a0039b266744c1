package port

import "github.com/fiapx/fiapx-detection-service/internal/domain/entity"

// RecordReader is the read-only view of a job's result store.
type RecordReader interface {
	LookupExact(frameID int) (entity.DetectionRecord, bool)
	LookupNearest(frameNumber, toleranceFrames int) (entity.DetectionRecord, bool)
	Size() int
	Snapshot() []entity.DetectionRecord
}
