package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"detectstream/internal/dto"
	"detectstream/internal/model"
)

const eventColumns = `id, event_id, kind, source_id, label, confidence,
	bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max,
	subject_id, subject_name, timestamp, recorded_at`

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertBatch adds multiple journal entries in a single transaction.
func (r *EventRepository) InsertBatch(entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (event_id, kind, source_id, label, confidence,
			bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max,
			subject_id, subject_name, timestamp, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var box [4]sql.NullFloat64
		if e.BBox != nil {
			for i, v := range e.BBox {
				box[i] = sql.NullFloat64{Float64: v, Valid: true}
			}
		}

		if _, err := stmt.Exec(
			e.EventID, string(e.Kind), e.SourceID,
			nullString(e.Label), nullFloat(e.Confidence),
			box[0], box[1], box[2], box[3],
			nullString(e.SubjectID), nullString(e.SubjectName),
			e.Timestamp.UTC(), e.RecordedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", e.EventID, err)
		}
	}

	return tx.Commit()
}

// GetAll retrieves journal entries based on filter criteria, newest first.
func (r *EventRepository) GetAll(filter *dto.EventFilters) ([]model.JournalEntry, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := "SELECT " + eventColumns + " FROM events" + where + " ORDER BY timestamp DESC, id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return entries, nil
}

// GetTotalCount returns the number of entries matching the filter.
func (r *EventRepository) GetTotalCount(filter *dto.EventFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)

	var count int
	if err := r.db.Conn().QueryRow("SELECT COUNT(*) FROM events"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountByLabel groups matching entries by label. Entries without a label are
// not counted.
func (r *EventRepository) CountByLabel(filter *dto.EventFilters) (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	if where == "" {
		where = " WHERE label IS NOT NULL"
	} else {
		where += " AND label IS NOT NULL"
	}

	rows, err := r.db.Conn().Query("SELECT label, COUNT(*) FROM events"+where+" GROUP BY label", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

// GetSources returns a list of unique source ids.
func (r *EventRepository) GetSources() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT source_id FROM events ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// DeleteBefore removes entries older than cutoff.
func (r *EventRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return result.RowsAffected()
}

func buildWhere(filter *dto.EventFilters) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var clauses []string
	var args []interface{}

	if filter.Source != "" {
		clauses = append(clauses, "source_id = ?")
		args = append(args, filter.Source)
	}
	if filter.Label != "" {
		clauses = append(clauses, "label = ?")
		args = append(args, filter.Label)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.After.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Before.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (model.JournalEntry, error) {
	var (
		e                      model.JournalEntry
		kind                   string
		label, subID, subName  sql.NullString
		confidence             sql.NullFloat64
		xMin, yMin, xMax, yMax sql.NullFloat64
	)

	if err := row.Scan(&e.ID, &e.EventID, &kind, &e.SourceID, &label, &confidence,
		&xMin, &yMin, &xMax, &yMax, &subID, &subName, &e.Timestamp, &e.RecordedAt); err != nil {
		return model.JournalEntry{}, fmt.Errorf("failed to scan event: %w", err)
	}

	e.Kind = model.EventKind(kind)
	e.Label = stringPtr(label)
	e.SubjectID = stringPtr(subID)
	e.SubjectName = stringPtr(subName)
	if confidence.Valid {
		v := confidence.Float64
		e.Confidence = &v
	}
	if xMin.Valid && yMin.Valid && xMax.Valid && yMax.Valid {
		e.BBox = &[4]float64{xMin.Float64, yMin.Float64, xMax.Float64, yMax.Float64}
	}
	return e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
