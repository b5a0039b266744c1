// Package store holds the per-job collection of detection records.
package store

import (
	"sort"
	"sync"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
)

// ResultStore is append-only and keyed by frame number. One writer (the
// orchestrator) appends while any number of readers look records up.
type ResultStore struct {
	mu      sync.RWMutex
	records map[int]entity.DetectionRecord
	// frames is kept sorted for nearest-neighbour lookups.
	frames []int

	totalDetections int
	classCounts     map[string]int
}

// Stats summarises the store the way the results panel shows it.
type Stats struct {
	ProcessedFrames int            `json:"processed_frames"`
	TotalDetections int            `json:"total_detections"`
	ClassCounts     map[string]int `json:"class_counts"`
}

func New() *ResultStore {
	return &ResultStore{
		records:     make(map[int]entity.DetectionRecord),
		classCounts: make(map[string]int),
	}
}

// Append adds rec, replacing any record already stored for the same frame.
func (s *ResultStore) Append(rec entity.DetectionRecord) {
	rec = rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[rec.FrameNumber]; ok {
		s.count(prev, -1)
	} else {
		i := sort.SearchInts(s.frames, rec.FrameNumber)
		s.frames = append(s.frames, 0)
		copy(s.frames[i+1:], s.frames[i:])
		s.frames[i] = rec.FrameNumber
	}
	s.records[rec.FrameNumber] = rec
	s.count(rec, 1)
}

func (s *ResultStore) count(rec entity.DetectionRecord, sign int) {
	s.totalDetections += sign * len(rec.Detections)
	for _, d := range rec.Detections {
		s.classCounts[d.ClassName] += sign
		if s.classCounts[d.ClassName] == 0 {
			delete(s.classCounts, d.ClassName)
		}
	}
}

func (s *ResultStore) LookupExact(frameID int) (entity.DetectionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[frameID]
	if !ok {
		return entity.DetectionRecord{}, false
	}
	return rec.Clone(), true
}

// LookupNearest returns the record closest to frameNumber within
// toleranceFrames (inclusive). Ties go to the lower frame number.
func (s *ResultStore) LookupNearest(frameNumber, toleranceFrames int) (entity.DetectionRecord, bool) {
	if toleranceFrames < 0 {
		return entity.DetectionRecord{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.frames) == 0 {
		return entity.DetectionRecord{}, false
	}

	// frames[i] is the first frame >= frameNumber; frames[i-1] the last below it.
	i := sort.SearchInts(s.frames, frameNumber)
	best, bestDist := -1, toleranceFrames+1
	if i > 0 {
		// a negative distance means the subtraction overflowed
		if d := frameNumber - s.frames[i-1]; d >= 0 && d <= toleranceFrames {
			best, bestDist = s.frames[i-1], d
		}
	}
	if i < len(s.frames) {
		// strict: an equal distance keeps the lower frame found above
		if d := s.frames[i] - frameNumber; d >= 0 && d < bestDist {
			best = s.frames[i]
		}
	}
	if best < 0 {
		return entity.DetectionRecord{}, false
	}
	return s.records[best].Clone(), true
}

func (s *ResultStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of every record ordered by frame number.
func (s *ResultStore) Snapshot() []entity.DetectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.DetectionRecord, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, s.records[f].Clone())
	}
	return out
}

func (s *ResultStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	classes := make(map[string]int, len(s.classCounts))
	for k, v := range s.classCounts {
		classes[k] = v
	}
	return Stats{
		ProcessedFrames: len(s.records),
		TotalDetections: s.totalDetections,
		ClassCounts:     classes,
	}
}
