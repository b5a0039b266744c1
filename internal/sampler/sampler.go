package sampler

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"iter"
	"math"
	"sync"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
)

// floorEpsilon absorbs float error in duration*rate products such as 0.7*10.
const floorEpsilon = 1e-9

// Sequence is the finite list of capture points for one video. All can be
// ranged over any number of times.
type Sequence struct {
	total int
	rate  float64
}

func (s Sequence) Len() int { return s.total }

func (s Sequence) Rate() float64 { return s.rate }

func (s Sequence) At(frameID int) entity.SamplingTask {
	return entity.SamplingTask{FrameID: frameID, CaptureTimestamp: float64(frameID) / s.rate}
}

func (s Sequence) All() iter.Seq[entity.SamplingTask] {
	return func(yield func(entity.SamplingTask) bool) {
		for id := 0; id < s.total; id++ {
			if !yield(s.At(id)) {
				return
			}
		}
	}
}

// FrameSampler turns a video timeline into frame-capture tasks and captures them.
type FrameSampler struct {
	quality int

	mu      sync.Mutex
	handles map[port.VideoSource]*sync.Mutex
}

func NewFrameSampler(jpegQuality int) *FrameSampler {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = jpeg.DefaultQuality
	}
	return &FrameSampler{quality: jpegQuality, handles: make(map[port.VideoSource]*sync.Mutex)}
}

// Sample yields floor(duration*rate) tasks with ids [0, total).
func (s *FrameSampler) Sample(meta entity.VideoMetadata, rate float64) (Sequence, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return Sequence{}, fmt.Errorf("invalid sampling rate %v", rate)
	}
	if meta.DurationSeconds < 0 || math.IsNaN(meta.DurationSeconds) || math.IsInf(meta.DurationSeconds, 0) {
		return Sequence{}, fmt.Errorf("%w: invalid duration %v", entity.ErrUnseekableMedia, meta.DurationSeconds)
	}
	total := int(math.Floor(meta.DurationSeconds*rate + floorEpsilon))
	return Sequence{total: total, rate: rate}, nil
}

// Capture seeks src to ts, waits for the seek to settle and returns the frame
// as JPEG. Calls on the same src are serialized.
func (s *FrameSampler) Capture(ctx context.Context, src port.VideoSource, meta entity.VideoMetadata, ts float64) ([]byte, error) {
	if ts < 0 || ts > meta.DurationSeconds {
		return nil, fmt.Errorf("%w: timestamp %.3fs outside [0, %.3fs]", entity.ErrUnseekableMedia, ts, meta.DurationSeconds)
	}

	lock := s.handleLock(src)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := src.Seek(ctx, ts); err != nil {
		return nil, fmt.Errorf("%w: seek %.3fs: %v", entity.ErrUnseekableMedia, ts, err)
	}
	img, err := src.Rasterize(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: decode at %.3fs: %v", entity.ErrUnseekableMedia, ts, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Release forgets the lock kept for src; call it once the handle is closed.
func (s *FrameSampler) Release(src port.VideoSource) {
	s.mu.Lock()
	delete(s.handles, src)
	s.mu.Unlock()
}

func (s *FrameSampler) handleLock(src port.VideoSource) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.handles[src]
	if !ok {
		l = &sync.Mutex{}
		s.handles[src] = l
	}
	return l
}
