package storage

import (
	"context"
	"sync"
	"time"

	"detectstream/internal/config"
	"detectstream/internal/logger"
	"detectstream/internal/model"
	"detectstream/internal/repository"
)

const (
	// DefaultBatchLimit flushes the journal as soon as this many events are buffered.
	DefaultBatchLimit = 200
	// DefaultFlushInterval defines how often buffered events are written to the database.
	DefaultFlushInterval = 5 * time.Second
	// retainBatches bounds how many failed batches are kept for the next flush.
	retainBatches = 10
)

// JournalService buffers coalesced events in memory and periodically flushes
// them to the event repository.
type JournalService struct {
	repo      repository.EventRepository
	logger    *logger.Logger
	limit     int
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []model.JournalEntry
	flushMu sync.Mutex
}

// NewJournalService creates a JournalService writing to repo.
func NewJournalService(cfg *config.Config, logger *logger.Logger, repo repository.EventRepository) *JournalService {
	limit := cfg.JournalBatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	interval := cfg.JournalFlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &JournalService{
		repo:      repo,
		logger:    logger,
		limit:     limit,
		interval:  interval,
		retention: cfg.JournalRetention,
		now:       time.Now,
		pending:   make([]model.JournalEntry, 0, limit),
	}
}

// Run flushes on every interval until ctx ends, then flushes once more.
func (s *JournalService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
			s.Prune()
		}
	}
}

// RecordDetection journals a coalesced detection event.
func (s *JournalService) RecordDetection(ev model.DetectionEvent) {
	s.add(model.EntryFromDetection(ev, s.now()))
}

// RecordChange journals a coalesced change-feed event.
func (s *JournalService) RecordChange(ev model.RemoteChangeEvent) {
	s.add(model.EntryFromChange(ev, s.now()))
}

func (s *JournalService) add(entry model.JournalEntry) {
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	full := len(s.pending) >= s.limit
	s.mu.Unlock()

	if full {
		go s.Flush()
	}
}

// Pending returns the number of buffered events.
func (s *JournalService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes buffered events to the repository. A failed batch is kept for
// the next flush.
func (s *JournalService) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make([]model.JournalEntry, 0, s.limit)
	s.mu.Unlock()

	if err := s.repo.InsertBatch(batch); err != nil {
		s.logger.Error("Error saving %d events to database: %v", len(batch), err)
		s.requeue(batch)
		return
	}

	s.logger.Info("Flushed %d events to the journal", len(batch))
}

func (s *JournalService) requeue(batch []model.JournalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(batch, s.pending...)
	if backlog := s.limit * retainBatches; len(merged) > backlog {
		dropped := len(merged) - backlog
		merged = merged[dropped:]
		s.logger.Warning("Journal backlog full, dropped %d oldest events", dropped)
	}
	s.pending = merged
}

// Prune deletes journaled events older than the retention period.
func (s *JournalService) Prune() {
	if s.retention <= 0 {
		return
	}

	deleted, err := s.repo.DeleteBefore(s.now().Add(-s.retention))
	if err != nil {
		s.logger.Error("Error pruning journal: %v", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Pruned %d events older than %s", deleted, s.retention)
	}
}
