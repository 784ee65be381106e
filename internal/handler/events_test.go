package handler

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"1", 0, 1},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
		{"12.5", 5, 5},
	}

	for _, tt := range tests {
		result := atoiDefault(tt.input, tt.def)
		if result != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, result, tt.expected)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"", time.Time{}},
		{"garbage", time.Time{}},
		{"2026-03-04", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"2026-03-04T05:06:07Z", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
	}

	for _, tt := range tests {
		result := parseTimestamp(tt.input)
		if !result.Equal(tt.expected) {
			t.Errorf("parseTimestamp(%q) = %v, expected %v", tt.input, result, tt.expected)
		}
	}
}

func TestParseEventFilters(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/events?source=front&label=person&limit=9999&offset=-3", nil)
	filter := parseEventFilters(req)

	if filter.Source != "front" || filter.Label != "person" {
		t.Errorf("unexpected filter %+v", filter)
	}
	if filter.Limit != maxEventLimit {
		t.Errorf("limit = %d, expected %d", filter.Limit, maxEventLimit)
	}
	if filter.Offset != 0 {
		t.Errorf("offset = %d, expected 0", filter.Offset)
	}

	filter = parseEventFilters(httptest.NewRequest("GET", "/api/events", nil))
	if filter.Limit != defaultEventLimit {
		t.Errorf("default limit = %d, expected %d", filter.Limit, defaultEventLimit)
	}
}
