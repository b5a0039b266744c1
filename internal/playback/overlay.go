package playback

import (
	"fmt"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
)

var palette = []string{"#ef4444", "#10b981", "#3b82f6", "#f59e0b", "#8b5cf6"}

// OverlayBox is one box ready to draw over the video.
type OverlayBox struct {
	BBox  entity.BoundingBox `json:"bbox"`
	Label string             `json:"label"`
	Color string             `json:"color"`
}

// Overlay turns a resolved record into draw instructions.
func Overlay(rec entity.DetectionRecord) []OverlayBox {
	out := make([]OverlayBox, 0, len(rec.Detections))
	for i, d := range rec.Detections {
		out = append(out, OverlayBox{
			BBox:  d.BBox,
			Label: fmt.Sprintf("%s %.1f%%", d.ClassName, d.Confidence*100),
			Color: palette[i%len(palette)],
		})
	}
	return out
}
