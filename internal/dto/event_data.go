// EventsData is a paginated response payload for the journal listing.
package dto

type EventsData struct {
	Events     []EventInfo    `json:"events"`
	Counts     map[string]int `json:"counts"`
	Length     int            `json:"length"`
	TotalCount int            `json:"totalCount"`
	Limit      int            `json:"pageSize"`
	Offset     int            `json:"offset"`
}
