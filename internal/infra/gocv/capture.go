//go:build gocv

package gocv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Available reports whether this binary was built with OpenCV support.
const Available = true

// Opener opens videos with OpenCV's VideoCapture.
type Opener struct {
	logger *zap.Logger
}

func NewOpener(logger *zap.Logger) (*Opener, error) {
	return &Opener{logger: logger}, nil
}

var _ port.VideoOpener = (*Opener)(nil)

func (o *Opener) Open(_ context.Context, videoPath string) (port.VideoSource, error) {
	if _, err := os.Stat(videoPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", entity.ErrMissingInput, videoPath)
		}
		return nil, fmt.Errorf("stat video: %w", err)
	}
	vc, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("open video capture: %w", err)
	}
	return &Source{vc: vc, frame: gocv.NewMat(), logger: o.logger.With(zap.String("path", videoPath))}, nil
}

// Source wraps one VideoCapture. It is not safe for concurrent use.
type Source struct {
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	logger *zap.Logger
}

func (s *Source) Metadata(context.Context) (entity.VideoMetadata, error) {
	fps := s.vc.Get(gocv.VideoCaptureFPS)
	frames := s.vc.Get(gocv.VideoCaptureFrameCount)
	if fps <= 0 || frames < 0 {
		return entity.VideoMetadata{}, fmt.Errorf("video reports fps=%v frames=%v", fps, frames)
	}
	return entity.VideoMetadata{
		DurationSeconds: frames / fps,
		Width:           int(s.vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:          int(s.vc.Get(gocv.VideoCaptureFrameHeight)),
		FrameRate:       fps,
	}, nil
}

// Seek moves the capture to ts and reads the frame there, so Rasterize only
// converts what the seek already decoded.
func (s *Source) Seek(_ context.Context, ts float64) error {
	if ts < 0 {
		return fmt.Errorf("%w: negative timestamp", entity.ErrUnseekableMedia)
	}
	s.vc.Set(gocv.VideoCapturePosMsec, ts*1000)
	if ok := s.vc.Read(&s.frame); !ok || s.frame.Empty() {
		return fmt.Errorf("%w: no frame at %.3fs", entity.ErrUnseekableMedia, ts)
	}
	return nil
}

func (s *Source) Rasterize(context.Context) (image.Image, error) {
	if s.frame.Empty() {
		return nil, errors.New("rasterize before seek")
	}
	img, err := s.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (s *Source) Close() error {
	if err := s.frame.Close(); err != nil {
		s.logger.Warn("close frame buffer", zap.Error(err))
	}
	return s.vc.Close()
}
