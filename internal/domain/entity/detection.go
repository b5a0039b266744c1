package entity

import "fmt"

// BoundingBox is an axis-aligned pixel rectangle with a top-left origin.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is a single classified box reported by the detector.
// ClassID is only unique within one model's taxonomy.
type Detection struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	ClassName  string      `json:"className"`
	ClassID    int         `json:"classId"`
}

func (d Detection) Validate() error {
	if d.BBox.Width < 0 || d.BBox.Height < 0 {
		return fmt.Errorf("negative bbox size %dx%d", d.BBox.Width, d.BBox.Height)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", d.Confidence)
	}
	if d.ClassID < 0 {
		return fmt.Errorf("negative class id %d", d.ClassID)
	}
	return nil
}

// DetectionRecord holds everything detected on one frame. An empty Detections
// slice means nothing was found or detection for the frame failed.
type DetectionRecord struct {
	FrameNumber int         `json:"frameNumber"`
	Timestamp   *float64    `json:"timestamp,omitempty"`
	Detections  []Detection `json:"detections"`
}

func (r DetectionRecord) Validate() error {
	if r.FrameNumber < 0 {
		return fmt.Errorf("negative frame number %d", r.FrameNumber)
	}
	for i, d := range r.Detections {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("detection %d: %w", i, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share the Detections backing array.
func (r DetectionRecord) Clone() DetectionRecord {
	out := DetectionRecord{FrameNumber: r.FrameNumber}
	if r.Timestamp != nil {
		ts := *r.Timestamp
		out.Timestamp = &ts
	}
	out.Detections = make([]Detection, len(r.Detections))
	copy(out.Detections, r.Detections)
	return out
}

// EmptyRecord is what a frame gets when capture or inference failed.
func EmptyRecord(frameNumber int, timestamp float64) DetectionRecord {
	return DetectionRecord{
		FrameNumber: frameNumber,
		Timestamp:   &timestamp,
		Detections:  []Detection{},
	}
}

// SamplingTask addresses one capture point: CaptureTimestamp = FrameID / rate.
type SamplingTask struct {
	FrameID          int
	CaptureTimestamp float64
}
