package changefeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"detectstream/internal/model"
)

// ErrMalformedRecord marks a change record that cannot be decoded into an event.
var ErrMalformedRecord = errors.New("malformed change record")

// ChangeType is the kind of row change carried by a record.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeRecord is one notification delivered by a Channel.
type ChangeRecord struct {
	Type   ChangeType      `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// IsInsert reports whether the record announces a new row.
func (r ChangeRecord) IsInsert() bool {
	return strings.EqualFold(string(r.Type), string(ChangeInsert))
}

// timestampLayouts are tried in order. Postgres timestamp columns arrive
// without a zone and are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999Z07",
	"2006-01-02 15:04:05.999999",
}

type rowPayload struct {
	ID          string          `json:"id"`
	SourceID    json.RawMessage `json:"source_id"`
	BBox        []float64       `json:"bbox"`
	Label       *string         `json:"label"`
	Confidence  *float64        `json:"confidence"`
	Timestamp   json.RawMessage `json:"timestamp"`
	CreatedAt   json.RawMessage `json:"created_at"`
	SubjectID   *string         `json:"subject_id"`
	SubjectName *string         `json:"subject_name"`
}

// DecodeEvent turns the row of an insert record into a RemoteChangeEvent.
// Absent optional fields stay nil.
func DecodeEvent(raw json.RawMessage) (model.RemoteChangeEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.RemoteChangeEvent{}, fmt.Errorf("%w: empty row", ErrMalformedRecord)
	}

	var row rowPayload
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.RemoteChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if strings.TrimSpace(row.ID) == "" {
		return model.RemoteChangeEvent{}, fmt.Errorf("%w: id missing", ErrMalformedRecord)
	}

	event := model.RemoteChangeEvent{
		ID:          row.ID,
		SourceID:    sourceID(row.SourceID),
		Label:       row.Label,
		Confidence:  row.Confidence,
		SubjectID:   row.SubjectID,
		SubjectName: row.SubjectName,
	}

	switch len(row.BBox) {
	case 0:
	case 4:
		var box [4]float64
		copy(box[:], row.BBox)
		event.BBox = &box
	default:
		return model.RemoteChangeEvent{}, fmt.Errorf("%w: bbox has %d values", ErrMalformedRecord, len(row.BBox))
	}

	if at, ok := parseTimestamp(row.Timestamp); ok {
		event.Timestamp = at
	} else if at, ok := parseTimestamp(row.CreatedAt); ok {
		event.Timestamp = at
	}

	return event, nil
}

// sourceID accepts a string or a number. Anything else is treated as absent.
func sourceID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false
	}
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if at, err := time.Parse(layout, v); err == nil {
			return at.UTC(), true
		}
	}
	return time.Time{}, false
}

// sourceOf extracts only the source id of a row, for channel-side filtering.
func sourceOf(raw json.RawMessage) string {
	var row struct {
		SourceID json.RawMessage `json:"source_id"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return ""
	}
	return sourceID(row.SourceID)
}
