package repository

import (
	"time"

	"detectstream/internal/dto"
	"detectstream/internal/model"
)

// EventRepository defines the interface for event journal operations.
type EventRepository interface {
	// Create operations
	InsertBatch(entries []model.JournalEntry) error

	// Read operations
	GetAll(filter *dto.EventFilters) ([]model.JournalEntry, error)
	GetTotalCount(filter *dto.EventFilters) (int, error)
	CountByLabel(filter *dto.EventFilters) (map[string]int, error)
	GetSources() ([]string, error)

	// Delete operations
	DeleteBefore(cutoff time.Time) (int64, error)
}
