// Package models defines core data structures for cached records, queries, and search results.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceType identifies the kind of upstream CRM object a record was built from.
type SourceType string

const (
	SourceContact            SourceType = "contact"
	SourceCompany            SourceType = "company"
	SourceEngagement         SourceType = "engagement"
	SourceConversationThread SourceType = "conversation_thread"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceContact, SourceCompany, SourceEngagement, SourceConversationThread:
		return true
	}
	return false
}

// ParseSourceType converts a string to a SourceType, returning an error for unknown values.
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown source type: %q", s)
	}
	return st, nil
}

// Record is one cached unit of CRM knowledge. RawPayload holds the upstream
// object verbatim; NormalizedText is the flattened form that was embedded and
// is re-derivable from RawPayload.
type Record struct {
	ID             string          `json:"id" db:"id"`
	SourceType     SourceType      `json:"source_type" db:"source_type"`
	RawPayload     json.RawMessage `json:"raw_payload" db:"raw_payload"`
	NormalizedText string          `json:"normalized_text" db:"normalized_text"`
	ContentHash    string          `json:"content_hash" db:"content_hash"`
	InsertedAt     time.Time       `json:"inserted_at" db:"inserted_at"`
	LastAccess     time.Time       `json:"last_access" db:"last_access"`
}
