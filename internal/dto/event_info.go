package dto

import (
	"encoding/json"
	"time"
)

// EventInfo is one journaled event as shown in the dashboard.
type EventInfo struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Source      string      `json:"source"`
	Label       *string     `json:"label,omitempty"`
	Confidence  *float64    `json:"confidence,omitempty"`
	BBox        *[4]float64 `json:"bbox,omitempty"`
	SubjectName *string     `json:"subjectName,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// MarshalJSON adds display date and time-of-day next to the raw timestamp.
func (e EventInfo) MarshalJSON() ([]byte, error) {
	type Alias EventInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      e.Timestamp.Format("02-01-2006"),
		TimeOfDay: e.Timestamp.Format("15:04:05"),
		Alias:     (Alias)(e),
	})
}
