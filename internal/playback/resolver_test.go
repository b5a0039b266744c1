package playback

import (
	"math"
	"testing"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExact(t *testing.T) {
	s := store.New()
	for i := 0; i < 30; i++ {
		s.Append(entity.DetectionRecord{FrameNumber: i, Detections: []entity.Detection{}})
	}
	r := NewResolver(s, entity.ExactAddressing())

	rec, ok := r.Resolve(PlaybackContext{CurrentTime: 1.25, SamplingRate: 10})
	require.True(t, ok)
	assert.Equal(t, 12, rec.FrameNumber)

	rec, ok = r.Resolve(PlaybackContext{CurrentTime: 0.3, SamplingRate: 10})
	require.True(t, ok)
	assert.Equal(t, 3, rec.FrameNumber)

	_, ok = r.Resolve(PlaybackContext{CurrentTime: 3.0, SamplingRate: 10})
	assert.False(t, ok)
}

func TestResolveTolerantUsesBaseRate(t *testing.T) {
	s := store.New()
	s.Append(entity.DetectionRecord{FrameNumber: 0})
	s.Append(entity.DetectionRecord{FrameNumber: 30})
	r := NewResolver(s, entity.TolerantAddressing(15, 30))

	cases := []struct {
		t     float64
		want  int
		found bool
	}{
		{0.0, 0, true},
		{0.5, 0, true},   // frame 15: tie goes low
		{0.55, 30, true}, // frame 16
		{1.0, 30, true},
		{1.5, 30, true}, // frame 45: edge of window
		{1.6, 0, false}, // frame 48
	}
	for _, tc := range cases {
		rec, ok := r.Resolve(PlaybackContext{CurrentTime: tc.t, SamplingRate: 10})
		require.Equal(t, tc.found, ok, "t=%v", tc.t)
		if ok {
			assert.Equal(t, tc.want, rec.FrameNumber, "t=%v", tc.t)
		}
	}
}

func TestResolveTolerantFallsBackToSamplingRate(t *testing.T) {
	s := store.New()
	s.Append(entity.DetectionRecord{FrameNumber: 20})
	r := NewResolver(s, entity.TolerantAddressing(5, 0))

	rec, ok := r.Resolve(PlaybackContext{CurrentTime: 1.8, SamplingRate: 10})
	require.True(t, ok)
	assert.Equal(t, 20, rec.FrameNumber)
}

func TestResolveRejectsBadInput(t *testing.T) {
	r := NewResolver(store.New(), entity.ExactAddressing())
	_, ok := r.Resolve(PlaybackContext{CurrentTime: -1, SamplingRate: 10})
	assert.False(t, ok)
	_, ok = r.Resolve(PlaybackContext{CurrentTime: 1, SamplingRate: 0})
	assert.False(t, ok)

	var nilResolver *Resolver
	_, ok = nilResolver.Resolve(PlaybackContext{CurrentTime: 1, SamplingRate: 10})
	assert.False(t, ok)
}

func TestResolveTimesPastAnyFrame(t *testing.T) {
	s := store.New()
	s.Append(entity.DetectionRecord{FrameNumber: 0})
	tolerant := NewResolver(s, entity.TolerantAddressing(15, 30))
	exact := NewResolver(s, entity.ExactAddressing())

	for _, ct := range []float64{math.Inf(1), 1e300, math.NaN()} {
		_, ok := tolerant.Resolve(PlaybackContext{CurrentTime: ct, SamplingRate: 10})
		assert.False(t, ok, "tolerant t=%v", ct)
		_, ok = exact.Resolve(PlaybackContext{CurrentTime: ct, SamplingRate: 10})
		assert.False(t, ok, "exact t=%v", ct)
	}

	_, ok := exact.Resolve(PlaybackContext{CurrentTime: 0, SamplingRate: math.Inf(1)})
	assert.False(t, ok)
}

func TestOverlayLabelsAndColors(t *testing.T) {
	rec := entity.DetectionRecord{Detections: make([]entity.Detection, 6)}
	rec.Detections[0] = entity.Detection{ClassName: "person", Confidence: 0.8567, BBox: entity.BoundingBox{X: 1}}
	rec.Detections[5] = entity.Detection{ClassName: "car", Confidence: 0.92}

	boxes := Overlay(rec)
	require.Len(t, boxes, 6)
	assert.Equal(t, "person 85.7%", boxes[0].Label)
	assert.Equal(t, 1, boxes[0].BBox.X)
	assert.Equal(t, "car 92.0%", boxes[5].Label)
	assert.Equal(t, boxes[0].Color, boxes[5].Color)
	assert.NotEqual(t, boxes[0].Color, boxes[1].Color)
}
