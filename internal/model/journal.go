package model

import "time"

// EventKind tells which producer a journaled event came from.
type EventKind string

const (
	KindDetection EventKind = "detection"
	KindChange    EventKind = "change"
)

// JournalEntry is a coalesced event as stored in the event journal.
type JournalEntry struct {
	ID          int64       `json:"id"`
	EventID     string      `json:"event_id"`
	Kind        EventKind   `json:"kind"`
	SourceID    string      `json:"source_id"`
	Label       *string     `json:"label,omitempty"`
	Confidence  *float64    `json:"confidence,omitempty"`
	BBox        *[4]float64 `json:"bbox,omitempty"`
	SubjectID   *string     `json:"subject_id,omitempty"`
	SubjectName *string     `json:"subject_name,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	RecordedAt  time.Time   `json:"recorded_at"`
}

// EntryFromDetection journals a locally inferred event.
func EntryFromDetection(ev DetectionEvent, recordedAt time.Time) JournalEntry {
	label := ev.Label
	confidence := ev.Confidence
	bbox := ev.BBox
	return JournalEntry{
		EventID:     ev.ID,
		Kind:        KindDetection,
		SourceID:    ev.SourceID,
		Label:       &label,
		Confidence:  &confidence,
		BBox:        &bbox,
		SubjectID:   ev.SubjectID,
		SubjectName: ev.SubjectName,
		Timestamp:   ev.Timestamp,
		RecordedAt:  recordedAt,
	}
}

// EntryFromChange journals a change-feed event. Absent fields stay absent.
func EntryFromChange(ev RemoteChangeEvent, recordedAt time.Time) JournalEntry {
	return JournalEntry{
		EventID:     ev.ID,
		Kind:        KindChange,
		SourceID:    ev.Key(),
		Label:       ev.Label,
		Confidence:  ev.Confidence,
		BBox:        ev.BBox,
		SubjectID:   ev.SubjectID,
		SubjectName: ev.SubjectName,
		Timestamp:   ev.Timestamp,
		RecordedAt:  recordedAt,
	}
}

// ChangeEvent renders the entry as a change-feed row.
func (e JournalEntry) ChangeEvent() RemoteChangeEvent {
	return RemoteChangeEvent{
		ID:          e.EventID,
		SourceID:    e.SourceID,
		BBox:        e.BBox,
		Label:       e.Label,
		Confidence:  e.Confidence,
		Timestamp:   e.Timestamp,
		SubjectID:   e.SubjectID,
		SubjectName: e.SubjectName,
	}
}
