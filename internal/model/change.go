package model

import "time"

// UnknownSource is the key used for change records that carry no source id.
const UnknownSource = "unknown"

// RemoteChangeEvent is a detection-shaped row delivered by the change feed.
// Rows that are not detections leave BBox, Label and Confidence nil; those
// fields stay nil all the way to the sinks.
type RemoteChangeEvent struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"source_id,omitempty"`
	BBox        *[4]float64 `json:"bbox,omitempty"`
	Label       *string     `json:"label,omitempty"`
	Confidence  *float64    `json:"confidence,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	SubjectID   *string     `json:"subject_id,omitempty"`
	SubjectName *string     `json:"subject_name,omitempty"`
}

// Key returns the coalescing key of the event.
func (e RemoteChangeEvent) Key() string {
	if e.SourceID == "" {
		return UnknownSource
	}
	return e.SourceID
}
