package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hubmind/crmcache/internal/cache"
	"github.com/hubmind/crmcache/internal/models"
	"github.com/hubmind/crmcache/internal/storage"
)

// ingestRequest is the body for single and batch ingest.
type ingestRequest struct {
	SourceType string            `json:"source_type"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Payloads   []json.RawMessage `json:"payloads,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sourceType, err := models.ParseSourceType(req.SourceType)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payload) == 0 {
		s.respondError(w, http.StatusBadRequest, "payload is required")
		return
	}
	id, err := s.coordinator.Ingest(r.Context(), req.Payload, sourceType)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "cached"})
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sourceType, err := models.ParseSourceType(req.SourceType)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payloads) == 0 {
		s.respondError(w, http.StatusBadRequest, "payloads is required")
		return
	}
	report, err := s.coordinator.IngestBatch(r.Context(), req.Payloads, sourceType)
	if err != nil {
		s.logger.Error("batch ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.coordinator.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	query := models.RecentQuery{}
	if v := r.URL.Query().Get("source_type"); v != "" {
		st, err := models.ParseSourceType(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		query.SourceType = st
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		query.Since = since
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		query.Limit = limit
	}
	recs, err := s.coordinator.ListRecent(r.Context(), &query)
	if err != nil {
		s.logger.Error("recent failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
		"total":   len(recs),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.storage.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "record not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.storage.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"records":           count,
		"vector_index_size": s.coordinator.IndexSize(),
	}
	if s.storageCfg != nil {
		resp["storage_dir"] = s.storageCfg.Dir
		if diskBytes, err := storage.DiskUsageBytes(s.storageCfg.Dir); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps coordinator errors to HTTP status codes. Retryable
// failures get 503 so clients know to retry.
func statusForError(err error) int {
	switch {
	case errors.Is(err, cache.ErrRetryable):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
