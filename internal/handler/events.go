package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"detectstream/internal/dto"
	"detectstream/internal/logger"
	"detectstream/internal/model"
	"detectstream/internal/repository"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// GetEventsHandler returns the filtered journal of coalesced events, newest first.
func GetEventsHandler(eventRepo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := parseEventFilters(r)

		entries, err := eventRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying events from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := eventRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting events: %v", err)
			totalCount = len(entries)
		}

		counts, err := eventRepo.CountByLabel(filter)
		if err != nil {
			logger.Error("Error counting labels: %v", err)
			counts = map[string]int{}
		}

		events := make([]dto.EventInfo, 0, len(entries))
		for _, e := range entries {
			events = append(events, eventInfo(e))
		}

		writeJSON(w, http.StatusOK, dto.EventsData{
			Events:     events,
			Counts:     counts,
			Length:     len(events),
			TotalCount: totalCount,
			Limit:      filter.Limit,
			Offset:     filter.Offset,
		})
	}
}

// GetSourcesHandler lists every source present in the journal.
func GetSourcesHandler(eventRepo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := eventRepo.GetSources()
		if err != nil {
			logger.Error("Error querying sources: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if sources == nil {
			sources = []string{}
		}
		writeJSON(w, http.StatusOK, sources)
	}
}

func parseEventFilters(r *http.Request) *dto.EventFilters {
	q := r.URL.Query()

	limit := atoiDefault(q.Get("limit"), defaultEventLimit)
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	return &dto.EventFilters{
		Source: q.Get("source"),
		Label:  q.Get("label"),
		Kind:   q.Get("kind"),
		After:  parseTimestamp(q.Get("after")),
		Before: parseTimestamp(q.Get("before")),
		Limit:  limit,
		Offset: offset,
	}
}

func eventInfo(e model.JournalEntry) dto.EventInfo {
	return dto.EventInfo{
		ID:          e.EventID,
		Kind:        string(e.Kind),
		Source:      e.SourceID,
		Label:       e.Label,
		Confidence:  e.Confidence,
		BBox:        e.BBox,
		SubjectName: e.SubjectName,
		Timestamp:   e.Timestamp,
	}
}

// atoiDefault parses s as a positive integer, returning def otherwise.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseTimestamp accepts RFC 3339 or a plain "2006-01-02" date.
func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t
	}
	return time.Time{}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
