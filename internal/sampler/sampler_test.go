package sampler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	width    int
	seekErr  error
	inFlight atomic.Int32
	overlap  atomic.Bool
	mu       sync.Mutex
	seeks    []float64
}

func (f *fakeSource) Metadata(context.Context) (entity.VideoMetadata, error) {
	return entity.VideoMetadata{DurationSeconds: 3}, nil
}

func (f *fakeSource) Seek(_ context.Context, ts float64) error {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.seeks = append(f.seeks, ts)
	f.mu.Unlock()
	return f.seekErr
}

func (f *fakeSource) Rasterize(context.Context) (image.Image, error) {
	w := f.width
	if w == 0 {
		w = 8
	}
	return image.NewRGBA(image.Rect(0, 0, w, 4)), nil
}

func (f *fakeSource) Close() error { return nil }

func TestSampleCountsAndTimestamps(t *testing.T) {
	s := NewFrameSampler(0)

	cases := []struct {
		duration float64
		rate     float64
		want     int
	}{
		{3.0, 10, 30},
		{0.7, 10, 7},
		{2.95, 2, 5},
		{0, 10, 0},
		{1.0, 29.97, 29},
	}
	for _, tc := range cases {
		seq, err := s.Sample(entity.VideoMetadata{DurationSeconds: tc.duration}, tc.rate)
		require.NoError(t, err)
		assert.Equal(t, tc.want, seq.Len(), "duration=%v rate=%v", tc.duration, tc.rate)

		next := 0
		for task := range seq.All() {
			assert.Equal(t, next, task.FrameID)
			assert.InDelta(t, float64(task.FrameID)/tc.rate, task.CaptureTimestamp, 1e-12)
			next++
		}
		assert.Equal(t, tc.want, next)
	}
}

func TestSequenceIsRestartableAndStoppable(t *testing.T) {
	seq, err := NewFrameSampler(0).Sample(entity.VideoMetadata{DurationSeconds: 1}, 10)
	require.NoError(t, err)

	first := 0
	for range seq.All() {
		first++
	}
	second := 0
	for task := range seq.All() {
		if task.FrameID == 3 {
			break
		}
		second++
	}
	assert.Equal(t, 10, first)
	assert.Equal(t, 3, second)
}

func TestSampleRejectsBadRate(t *testing.T) {
	_, err := NewFrameSampler(0).Sample(entity.VideoMetadata{DurationSeconds: 1}, 0)
	assert.Error(t, err)
}

func TestCaptureEncodesJPEG(t *testing.T) {
	src := &fakeSource{}
	data, err := NewFrameSampler(90).Capture(context.Background(), src, entity.VideoMetadata{DurationSeconds: 3}, 1.5)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, []float64{1.5}, src.seeks)
}

func TestCaptureBeyondDurationIsUnseekable(t *testing.T) {
	src := &fakeSource{}
	_, err := NewFrameSampler(0).Capture(context.Background(), src, entity.VideoMetadata{DurationSeconds: 3}, 3.1)
	assert.ErrorIs(t, err, entity.ErrUnseekableMedia)
	assert.Empty(t, src.seeks)
}

func TestCaptureSeekFailureIsUnseekable(t *testing.T) {
	src := &fakeSource{seekErr: errors.New("decoder error")}
	_, err := NewFrameSampler(0).Capture(context.Background(), src, entity.VideoMetadata{DurationSeconds: 3}, 1)
	assert.ErrorIs(t, err, entity.ErrUnseekableMedia)
}

func TestCaptureEncodeFailure(t *testing.T) {
	src := &fakeSource{width: 1 << 16}
	_, err := NewFrameSampler(0).Capture(context.Background(), src, entity.VideoMetadata{DurationSeconds: 3}, 1)
	assert.ErrorIs(t, err, entity.ErrEncode)
}

func TestCaptureSerializedPerHandle(t *testing.T) {
	s := NewFrameSampler(0)
	src := &fakeSource{}
	meta := entity.VideoMetadata{DurationSeconds: 3}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Capture(context.Background(), src, meta, float64(i)/10)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, src.overlap.Load(), "seeks overlapped on one handle")
	assert.Len(t, src.seeks, 8)
}
