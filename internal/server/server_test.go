package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hubmind/crmcache/internal/cache"
	"github.com/hubmind/crmcache/internal/config"
	"github.com/hubmind/crmcache/internal/embedding"
	"github.com/hubmind/crmcache/internal/storage"
	"github.com/hubmind/crmcache/internal/vector"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	emb, err := embedding.NewCachingEmbedder(
		embedding.NewMockEmbedder(64), filepath.Join(dir, "embedcache"), 100)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vector.NewFlatIndex(64)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		emb.Close()
		store.Close()
	})
	coordinator := cache.New(store, emb, idx,
		filepath.Join(dir, "index.bin"), filepath.Join(dir, "meta.json"))
	return NewServer(coordinator, store,
		&config.ServerConfig{Host: "localhost", Port: 0},
		&config.StorageConfig{Dir: dir},
		zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func ingestContact(t *testing.T, handler http.Handler, id, first, title, company string) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/ingest", map[string]interface{}{
		"source_type": "contact",
		"payload": map[string]interface{}{
			"id": id,
			"properties": map[string]string{
				"firstname": first,
				"jobtitle":  title,
				"company":   company,
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleIngest(t *testing.T) {
	handler := newTestServer(t).Router()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/ingest", map[string]interface{}{
		"source_type": "contact",
		"payload":     map[string]string{"id": "1", "firstname": "Jane", "lastname": "Doe"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] != "contact:1" {
		t.Errorf("unexpected id %q", resp["id"])
	}
}

func TestHandleIngestBadRequests(t *testing.T) {
	handler := newTestServer(t).Router()

	cases := []struct {
		name string
		body interface{}
	}{
		{"unknown source type", map[string]interface{}{
			"source_type": "invoice",
			"payload":     map[string]string{"id": "1", "name": "x"},
		}},
		{"missing payload", map[string]interface{}{
			"source_type": "contact",
		}},
		{"missing source type", map[string]interface{}{
			"payload": map[string]string{"id": "1"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/v1/ingest", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON should 400, got %d", rec.Code)
	}
}

func TestHandleIngestBatch(t *testing.T) {
	handler := newTestServer(t).Router()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/ingest/batch", map[string]interface{}{
		"source_type": "contact",
		"payloads": []map[string]string{
			{"id": "1", "firstname": "Jane"},
			{"id": "2", "firstname": "John"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		BatchID   string   `json:"batch_id"`
		Succeeded []string `json:"succeeded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Succeeded) != 2 || report.BatchID == "" {
		t.Errorf("unexpected report: %s", rec.Body.String())
	}
}

func TestHandleSearch(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Router()
	ingestContact(t, handler, "1", "Jane", "CEO", "Acme")
	ingestContact(t, handler, "2", "John", "Engineer", "Globex")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query": "CEO at Acme",
		"limit": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total int `json:"total"`
		Hits  []struct {
			Record struct {
				ID string `json:"id"`
			} `json:"record"`
			Score float64 `json:"score"`
			Rank  int     `json:"rank"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total == 0 {
		t.Fatal("expected hits")
	}
	if resp.Hits[0].Record.ID != "contact:1" {
		t.Errorf("expected Jane first, got %s", resp.Hits[0].Record.ID)
	}
}

func TestHandleSearchEmptyQuery(t *testing.T) {
	handler := newTestServer(t).Router()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/search", map[string]string{"query": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query should 400, got %d", rec.Code)
	}
}

func TestHandleRecent(t *testing.T) {
	handler := newTestServer(t).Router()
	for i := 1; i <= 3; i++ {
		ingestContact(t, handler, fmt.Sprintf("%d", i), "Person", "Role", "Corp")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recent?source_type=contact&limit=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 records, got %d", resp.Total)
	}
}

func TestHandleRecentBadParams(t *testing.T) {
	handler := newTestServer(t).Router()
	for _, path := range []string{
		"/api/v1/recent?source_type=invoice",
		"/api/v1/recent?since=yesterday",
		"/api/v1/recent?limit=many",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s should 400, got %d", path, rec.Code)
		}
	}
}

func TestHandleGetRecord(t *testing.T) {
	handler := newTestServer(t).Router()
	ingestContact(t, handler, "1", "Jane", "CEO", "Acme")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/contact:1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/records/contact:404", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing record should 404, got %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	handler := newTestServer(t).Router()
	ingestContact(t, handler, "1", "Jane", "CEO", "Acme")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Records         int64 `json:"records"`
		VectorIndexSize int   `json:"vector_index_size"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Records != 1 || resp.VectorIndexSize != 1 {
		t.Errorf("unexpected status: %s", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	handler := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
