package models

import (
	"fmt"
	"time"
)

// SearchFilter narrows search results after the vector lookup. Zero values
// mean "no constraint".
type SearchFilter struct {
	SourceType SourceType `json:"source_type,omitempty"`
	Since      time.Time  `json:"since,omitempty"`
}

// Matches reports whether r passes the filter.
func (f *SearchFilter) Matches(r *Record) bool {
	if f == nil {
		return true
	}
	if f.SourceType != "" && r.SourceType != f.SourceType {
		return false
	}
	if !f.Since.IsZero() && r.InsertedAt.Before(f.Since) {
		return false
	}
	return true
}

// SearchQuery represents a semantic search request.
type SearchQuery struct {
	Query  string        `json:"query"`
	Limit  int           `json:"limit,omitempty"`
	Filter *SearchFilter `json:"filter,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the query text is empty; otherwise normalizes the limit.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Filter != nil && q.Filter.SourceType != "" && !q.Filter.SourceType.Valid() {
		return fmt.Errorf("unknown source type: %q", q.Filter.SourceType)
	}
	return nil
}

// RecentQuery represents a recency read. It bypasses the vector index entirely
// and reads straight from the record store ordered by insertion time.
type RecentQuery struct {
	SourceType SourceType `json:"source_type,omitempty"`
	Since      time.Time  `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// Validate normalizes the limit and checks the source type.
func (q *RecentQuery) Validate() error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.SourceType != "" && !q.SourceType.Valid() {
		return fmt.Errorf("unknown source type: %q", q.SourceType)
	}
	return nil
}
