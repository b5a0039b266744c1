// Package playback maps a playback position onto the detection record to draw.
package playback

import (
	"math"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
)

// PlaybackContext is the player state the caller hands in on every lookup.
type PlaybackContext struct {
	CurrentTime  float64
	SamplingRate float64
}

// Resolver reads from one job's store using that job's addressing mode.
type Resolver struct {
	records    port.RecordReader
	addressing entity.AddressingMode
}

func NewResolver(records port.RecordReader, addressing entity.AddressingMode) *Resolver {
	return &Resolver{records: records, addressing: addressing}
}

func (r *Resolver) Addressing() entity.AddressingMode {
	return r.addressing
}

// Resolve returns the record to render at pc.CurrentTime, if any.
func (r *Resolver) Resolve(pc PlaybackContext) (entity.DetectionRecord, bool) {
	if r == nil || r.records == nil {
		return entity.DetectionRecord{}, false
	}

	switch r.addressing.Kind {
	case entity.AddressingTolerant:
		rate := r.addressing.BaseRate
		if rate <= 0 {
			rate = pc.SamplingRate
		}
		frame, ok := frameIndex(pc.CurrentTime, rate)
		if !ok {
			return entity.DetectionRecord{}, false
		}
		return r.records.LookupNearest(frame, r.addressing.ToleranceFrames)
	default:
		frame, ok := frameIndex(pc.CurrentTime, pc.SamplingRate)
		if !ok {
			return entity.DetectionRecord{}, false
		}
		return r.records.LookupExact(frame)
	}
}

// FrameAt is floor(t * rate). Callers must pass a finite product that fits
// in an int; frameIndex checks that.
func FrameAt(t, rate float64) int {
	return int(math.Floor(t*rate + 1e-9))
}

// frameIndex rejects times and rates that cannot name a frame: negative,
// non-finite, or a product past math.MaxInt.
func frameIndex(t, rate float64) (int, bool) {
	if !isFinite(t) || !isFinite(rate) || t < 0 || rate <= 0 {
		return 0, false
	}
	if t*rate >= math.MaxInt {
		return 0, false
	}
	return FrameAt(t, rate), true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
