package model

import "time"

// Box is a detection rectangle in pixel space of the processed frame.
type Box struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 {
	return b.MaxX - b.MinX
}

// Height returns the vertical extent of the box.
func (b Box) Height() float64 {
	return b.MaxY - b.MinY
}

// RawDetection is a single backend result for one processed frame.
type RawDetection struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Box   Box     `json:"box"`
}

// DetectionEvent is the normalized form of a raw detection. Values are never
// modified after the inference loop creates them.
type DetectionEvent struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	BBox        [4]float64 `json:"bbox"` // x_min, y_min, x_max, y_max in 0..1
	Label       string     `json:"label"`
	Confidence  float64    `json:"confidence"`
	Timestamp   time.Time  `json:"timestamp"`
	SubjectID   *string    `json:"subject_id,omitempty"`
	SubjectName *string    `json:"subject_name,omitempty"`
}

// Frame is one captured image from a camera.
type Frame struct {
	SourceID   string
	Data       []byte // JPEG
	Width      int
	Height     int
	CapturedAt time.Time
}

// Snapshot is the visible output of the last executed inference pass.
type Snapshot struct {
	SourceID    string           `json:"source_id"`
	Detections  []RawDetection   `json:"detections"`
	Events      []DetectionEvent `json:"events"`
	Counts      map[string]int   `json:"counts"`
	ProcessedAt time.Time        `json:"processed_at"`
}
