package inference

import (
	"time"

	"detectstream/internal/model"
)

const (
	// DefaultConfidenceFloor drops detections below this score for every category.
	DefaultConfidenceFloor = 0.4
	// openCategoryMinScore is the stricter bar for categories without a label set.
	openCategoryMinScore = 0.5
)

// Filter applies the confidence floor and the category label set.
type Filter struct {
	category model.Category
	floor    float64
	labels   map[string]bool // nil for open categories
}

// NewFilter builds a filter for category. A non-positive floor falls back to
// DefaultConfidenceFloor.
func NewFilter(category model.Category, floor float64) Filter {
	if floor <= 0 {
		floor = DefaultConfidenceFloor
	}
	f := Filter{category: category, floor: floor}
	if labels, ok := category.Labels(); ok {
		f.labels = make(map[string]bool, len(labels))
		for _, label := range labels {
			f.labels[label] = true
		}
	}
	return f
}

// Accept reports whether d survives the floor and the category.
func (f Filter) Accept(d model.RawDetection) bool {
	if d.Score < f.floor {
		return false
	}
	if f.labels == nil {
		return d.Score > openCategoryMinScore
	}
	return f.labels[d.Label]
}

// Apply returns the accepted detections in their original order.
func (f Filter) Apply(detections []model.RawDetection) []model.RawDetection {
	kept := make([]model.RawDetection, 0, len(detections))
	for _, d := range detections {
		if f.Accept(d) {
			kept = append(kept, d)
		}
	}
	return kept
}

// Synthesize converts accepted detections into events. Boxes are divided by
// the frame size without clamping; every event of one pass shares at.
func Synthesize(frame model.Frame, detections []model.RawDetection, at time.Time, newID func() string) []model.DetectionEvent {
	w := float64(frame.Width)
	h := float64(frame.Height)

	events := make([]model.DetectionEvent, 0, len(detections))
	for _, d := range detections {
		events = append(events, model.DetectionEvent{
			ID:         newID(),
			SourceID:   frame.SourceID,
			BBox:       [4]float64{d.Box.MinX / w, d.Box.MinY / h, d.Box.MaxX / w, d.Box.MaxY / h},
			Label:      d.Label,
			Confidence: d.Score,
			Timestamp:  at,
		})
	}
	return events
}

// countLabels tallies detections per label.
func countLabels(detections []model.RawDetection) map[string]int {
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.Label]++
	}
	return counts
}
