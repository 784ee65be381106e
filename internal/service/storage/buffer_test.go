package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectstream/internal/config"
	"detectstream/internal/dto"
	"detectstream/internal/logger"
	"detectstream/internal/model"
)

type memoryRepo struct {
	mu      sync.Mutex
	entries []model.JournalEntry
	batches int
	err     error
	cutoffs []time.Time
}

func (r *memoryRepo) InsertBatch(entries []model.JournalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches++
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *memoryRepo) GetAll(*dto.EventFilters) ([]model.JournalEntry, error) { return nil, nil }
func (r *memoryRepo) GetTotalCount(*dto.EventFilters) (int, error)           { return 0, nil }
func (r *memoryRepo) CountByLabel(*dto.EventFilters) (map[string]int, error) { return nil, nil }
func (r *memoryRepo) GetSources() ([]string, error)                          { return nil, nil }

func (r *memoryRepo) DeleteBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return 0, nil
}

func (r *memoryRepo) stored() []model.JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JournalEntry(nil), r.entries...)
}

func (r *memoryRepo) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func newJournal(repo *memoryRepo, limit int, interval time.Duration) *JournalService {
	cfg := &config.Config{JournalBatchLimit: limit, JournalFlushInterval: interval}
	return NewJournalService(cfg, logger.NewWriterLogger(io.Discard), repo)
}

func TestJournalService_FlushWritesBothKinds(t *testing.T) {
	repo := &memoryRepo{}
	journal := newJournal(repo, 100, time.Hour)

	journal.RecordDetection(model.DetectionEvent{ID: "d", SourceID: "front", Label: "person", Confidence: 0.9})
	journal.RecordChange(model.RemoteChangeEvent{ID: "c"})
	assert.Equal(t, 2, journal.Pending())

	journal.Flush()
	assert.Zero(t, journal.Pending())

	stored := repo.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, model.KindDetection, stored[0].Kind)
	assert.Equal(t, model.KindChange, stored[1].Kind)
	assert.Equal(t, model.UnknownSource, stored[1].SourceID)
	assert.Nil(t, stored[1].Label)
}

func TestJournalService_FlushesWhenBatchIsFull(t *testing.T) {
	repo := &memoryRepo{}
	journal := newJournal(repo, 3, time.Hour)

	for i := 0; i < 3; i++ {
		journal.RecordDetection(model.DetectionEvent{ID: "e", SourceID: "front"})
	}

	require.Eventually(t, func() bool { return len(repo.stored()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestJournalService_FailedBatchIsRetried(t *testing.T) {
	repo := &memoryRepo{}
	repo.setErr(errors.New("disk full"))
	journal := newJournal(repo, 100, time.Hour)

	journal.RecordDetection(model.DetectionEvent{ID: "first", SourceID: "front"})
	journal.Flush()
	assert.Equal(t, 1, journal.Pending())

	repo.setErr(nil)
	journal.RecordDetection(model.DetectionEvent{ID: "second", SourceID: "front"})
	journal.Flush()

	stored := repo.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, "first", stored[0].EventID)
	assert.Equal(t, "second", stored[1].EventID)
}

func TestJournalService_BacklogIsBounded(t *testing.T) {
	repo := &memoryRepo{}
	repo.setErr(errors.New("locked"))
	journal := newJournal(repo, 2, time.Hour)
	journal.limit = 1000 // keep add from flushing on its own

	for i := 0; i < 30; i++ {
		journal.RecordDetection(model.DetectionEvent{ID: "e", SourceID: "front"})
	}
	journal.limit = 2
	journal.Flush()

	assert.Equal(t, 2*retainBatches, journal.Pending())
}

func TestJournalService_RunFlushesOnTickAndShutdown(t *testing.T) {
	repo := &memoryRepo{}
	journal := newJournal(repo, 100, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		journal.Run(ctx)
		close(done)
	}()

	journal.RecordDetection(model.DetectionEvent{ID: "tick", SourceID: "front"})
	require.Eventually(t, func() bool { return len(repo.stored()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	journal.RecordDetection(model.DetectionEvent{ID: "late", SourceID: "front"})
	journal.Flush()
	assert.Len(t, repo.stored(), 2)
}

func TestJournalService_PruneUsesRetention(t *testing.T) {
	repo := &memoryRepo{}
	journal := newJournal(repo, 10, time.Hour)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	journal.now = func() time.Time { return now }

	journal.Prune()
	assert.Empty(t, repo.cutoffs)

	journal.retention = 24 * time.Hour
	journal.Prune()
	require.Len(t, repo.cutoffs, 1)
	assert.Equal(t, now.Add(-24*time.Hour), repo.cutoffs[0])
}
