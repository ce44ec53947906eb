package models

// SearchHit is a single semantic search result with its hydrated record.
type SearchHit struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// SearchResponse is the response for a semantic search request.
type SearchResponse struct {
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
	Query     string       `json:"query"`
}

// IngestFailure describes one record that could not be ingested.
type IngestFailure struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	Reason   string `json:"reason"`
}

// IngestReport summarizes a batch ingest: which records made it in and which
// failed, with reasons. A partially failed batch is not an error.
type IngestReport struct {
	BatchID   string          `json:"batch_id"`
	Succeeded []string        `json:"succeeded"`
	Failed    []IngestFailure `json:"failed,omitempty"`
}
