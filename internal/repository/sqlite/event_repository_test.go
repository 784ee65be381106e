package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectstream/internal/dto"
	"detectstream/internal/model"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func detectionEntry(id, source, label string, confidence float64, at time.Time) model.JournalEntry {
	return model.EntryFromDetection(model.DetectionEvent{
		ID:         id,
		SourceID:   source,
		BBox:       [4]float64{0.1, 0.2, 0.3, 0.4},
		Label:      label,
		Confidence: confidence,
		Timestamp:  at,
	}, at)
}

func TestEventRepository_InsertAndQuery(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	name := "visitor"
	change := model.EntryFromChange(model.RemoteChangeEvent{
		ID:          "c1",
		SubjectName: &name,
		Timestamp:   base.Add(3 * time.Minute),
	}, base)

	require.NoError(t, repo.InsertBatch([]model.JournalEntry{
		detectionEntry("d1", "front", "person", 0.9, base),
		detectionEntry("d2", "front", "car", 0.7, base.Add(time.Minute)),
		detectionEntry("d3", "back", "person", 0.6, base.Add(2*time.Minute)),
		change,
	}))

	all, err := repo.GetAll(&dto.EventFilters{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "c1", all[0].EventID)
	assert.Equal(t, "d1", all[3].EventID)

	// Absent fields come back absent.
	assert.Equal(t, model.KindChange, all[0].Kind)
	assert.Equal(t, model.UnknownSource, all[0].SourceID)
	assert.Nil(t, all[0].Label)
	assert.Nil(t, all[0].Confidence)
	assert.Nil(t, all[0].BBox)
	require.NotNil(t, all[0].SubjectName)
	assert.Equal(t, "visitor", *all[0].SubjectName)

	d1 := all[3]
	assert.Equal(t, model.KindDetection, d1.Kind)
	require.NotNil(t, d1.Label)
	assert.Equal(t, "person", *d1.Label)
	require.NotNil(t, d1.BBox)
	assert.Equal(t, [4]float64{0.1, 0.2, 0.3, 0.4}, *d1.BBox)
	assert.True(t, base.Equal(d1.Timestamp))

	front, err := repo.GetAll(&dto.EventFilters{Source: "front"})
	require.NoError(t, err)
	assert.Len(t, front, 2)

	persons, err := repo.GetAll(&dto.EventFilters{Label: "person", Limit: 1})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	assert.Equal(t, "d3", persons[0].EventID)

	count, err := repo.GetTotalCount(&dto.EventFilters{Label: "person"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	recent, err := repo.GetAll(&dto.EventFilters{After: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestEventRepository_CountsAndSources(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	at := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertBatch([]model.JournalEntry{
		detectionEntry("a", "front", "person", 0.9, at),
		detectionEntry("b", "front", "person", 0.8, at),
		detectionEntry("c", "yard", "car", 0.8, at),
		model.EntryFromChange(model.RemoteChangeEvent{ID: "x", SourceID: "yard", Timestamp: at}, at),
	}))

	counts, err := repo.CountByLabel(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"person": 2, "car": 1}, counts)

	counts, err = repo.CountByLabel(&dto.EventFilters{Source: "yard"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"car": 1}, counts)

	sources, err := repo.GetSources()
	require.NoError(t, err)
	assert.Equal(t, []string{"front", "yard"}, sources)
}

func TestEventRepository_DeleteBefore(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertBatch([]model.JournalEntry{
		detectionEntry("old", "front", "person", 0.9, base.Add(-48*time.Hour)),
		detectionEntry("new", "front", "person", 0.9, base),
	}))

	deleted, err := repo.DeleteBefore(base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := repo.GetAll(nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].EventID)
}

func TestEventRepository_EmptyBatch(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	require.NoError(t, repo.InsertBatch(nil))

	count, err := repo.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}
