package port

import (
	"context"
	"image"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
)

// VideoSource is a single opened video handle. Implementations are not assumed
// to be reentrant: callers serialize Seek and Rasterize per handle.
type VideoSource interface {
	Metadata(ctx context.Context) (entity.VideoMetadata, error)
	// Seek positions the handle at ts seconds and returns once the seek has settled.
	Seek(ctx context.Context, ts float64) error
	// Rasterize returns the frame at the current position.
	Rasterize(ctx context.Context) (image.Image, error)
	Close() error
}

type VideoOpener interface {
	Open(ctx context.Context, videoPath string) (VideoSource, error)
}
