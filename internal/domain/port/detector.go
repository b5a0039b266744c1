package port

import (
	"context"
	"io"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
)

type FrameRequest struct {
	FrameID int
	Image   []byte // JPEG
	Model   entity.ModelArtifact
}

type VideoRequest struct {
	VideoPath string
	Model     entity.ModelArtifact
}

// RecordStream yields detection records as the detector produces them.
// Next returns io.EOF once the stream ended cleanly.
type RecordStream interface {
	Next() (entity.DetectionRecord, error)
	// Malformed is the number of lines dropped so far.
	Malformed() int
	io.Closer
}

// Detector is the external inference service.
type Detector interface {
	DetectFrame(ctx context.Context, req FrameRequest) ([]entity.Detection, error)
	DetectVideo(ctx context.Context, req VideoRequest) (RecordStream, error)
}
