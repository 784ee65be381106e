// EventFilters describe user-provided filters to narrow the journal listing.
package dto

import "time"

type EventFilters struct {
	Source string
	Label  string
	Kind   string
	After  time.Time
	Before time.Time
	Limit  int
	Offset int
}
