package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/vecbridge/internal/collection"
	"github.com/hyperjump/vecbridge/internal/config"
	"github.com/hyperjump/vecbridge/internal/persist"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, autoSave bool) (*Server, http.Handler) {
	t.Helper()
	m, err := persist.NewManager(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	col := collection.New(m, zap.NewNop(), autoSave)
	t.Cleanup(func() { col.Close() })
	cfg := config.Default()
	enabled := autoSave
	cfg.Persistence.AutoSave = &enabled
	srv := NewServer(col, cfg, zap.NewNop())
	return srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, false)
	w, out := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if out["status"] != "ok" || out["service"] != ServiceName {
		t.Errorf("body: %v", out)
	}
	if out["persisted"] != false {
		t.Errorf("persisted: got %v, want false", out["persisted"])
	}
}

func TestHandleNotFound(t *testing.T) {
	_, h := newTestServer(t, false)
	w, out := doJSON(t, h, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", w.Code)
	}
	if out["error"] != "Not found" {
		t.Errorf("body: %v", out)
	}
	// Wrong method on a known path is also a 404 with the same body.
	w, out = doJSON(t, h, http.MethodGet, "/insert", nil)
	if w.Code != http.StatusNotFound || out["error"] != "Not found" {
		t.Errorf("method mismatch: status=%d body=%v", w.Code, out)
	}
}

func TestInitInsertSearchScenario(t *testing.T) {
	_, h := newTestServer(t, false)

	w, out := doJSON(t, h, http.MethodPost, "/init", map[string]any{"dimension": 4})
	if w.Code != http.StatusOK || out["success"] != true || out["dimension"] != float64(4) {
		t.Fatalf("init: status=%d body=%v", w.Code, out)
	}

	w, out = doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"id": "a", "vector": []float32{1, 0, 0, 0},
	})
	if w.Code != http.StatusOK || out["success"] != true || out["id"] != "a" {
		t.Fatalf("insert a: status=%d body=%v", w.Code, out)
	}
	w, _ = doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"id": "b", "vector": []float32{0, 1, 0, 0},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("insert b: status=%d", w.Code)
	}

	w, out = doJSON(t, h, http.MethodPost, "/search", map[string]any{
		"vector": []float32{1, 0, 0, 0}, "k": 1,
	})
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("search: status=%d body=%v", w.Code, out)
	}
	results := out["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results: got %v", results)
	}
	top := results[0].(map[string]any)
	if top["id"] != "a" {
		t.Errorf("top hit: got %v", top)
	}
	if score := top["score"].(float64); math.Abs(score-1.0) > 1e-6 {
		t.Errorf("score: got %f, want ~1.0", score)
	}
	if _, leaked := top["metadata"].(map[string]any)["vector"]; leaked {
		t.Error("internal vector copy leaked into response metadata")
	}

	// Overwrite a, then the new vector must find it with new metadata.
	w, _ = doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"id": "a", "vector": []float32{0, 0, 1, 0}, "metadata": map[string]any{"x": 9},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("overwrite: status=%d", w.Code)
	}
	_, out = doJSON(t, h, http.MethodPost, "/search", map[string]any{
		"vector": []float32{0, 0, 1, 0}, "k": 1,
	})
	top = out["results"].([]any)[0].(map[string]any)
	if top["id"] != "a" || top["metadata"].(map[string]any)["x"] != float64(9) {
		t.Errorf("overwrite result: %v", top)
	}
}

func TestInsertGeneratesMissingID(t *testing.T) {
	_, h := newTestServer(t, false)
	w, out := doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"vector": []float32{1, 0},
	})
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("insert: status=%d body=%v", w.Code, out)
	}
	if id, _ := out["id"].(string); id == "" {
		t.Error("expected a generated id")
	}
}

func TestInsertDimensionMismatchShape(t *testing.T) {
	_, h := newTestServer(t, false)
	doJSON(t, h, http.MethodPost, "/init", map[string]any{"dimension": 4})

	w, out := doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"id": "bad", "vector": []float32{1, 0},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", w.Code)
	}
	if out["success"] != false || out["action"] != "restart_required" {
		t.Errorf("body: %v", out)
	}
	if out["currentDimension"] != float64(4) || out["requestedDimension"] != float64(2) {
		t.Errorf("dimensions: %v", out)
	}
}

func TestInsertBatch(t *testing.T) {
	_, h := newTestServer(t, false)
	w, out := doJSON(t, h, http.MethodPost, "/insert_batch", map[string]any{
		"items": []map[string]any{
			{"id": "a", "vector": []float32{1, 0, 0}},
			{"id": "b", "vector": []float32{0, 1, 0}},
			{"id": "c", "vector": []float32{0, 0, 1}},
		},
	})
	if w.Code != http.StatusOK || out["inserted"] != float64(3) {
		t.Fatalf("batch: status=%d body=%v", w.Code, out)
	}

	// One bad record rejects the whole batch.
	w, out = doJSON(t, h, http.MethodPost, "/insert_batch", map[string]any{
		"items": []map[string]any{
			{"id": "d", "vector": []float32{1, 1, 0}},
			{"id": "bad", "vector": []float32{1}},
		},
	})
	if w.Code != http.StatusConflict || out["action"] != "restart_required" {
		t.Fatalf("batch mismatch: status=%d body=%v", w.Code, out)
	}
	_, stats := doJSON(t, h, http.MethodGet, "/stats", nil)
	if stats["count"] != float64(3) {
		t.Errorf("count after rejected batch: got %v, want 3", stats["count"])
	}
}

func TestSearchDefaultsAndEmpty(t *testing.T) {
	_, h := newTestServer(t, false)
	// Empty collection: success with empty results, never an error.
	w, out := doJSON(t, h, http.MethodPost, "/search", map[string]any{
		"vector": []float32{1, 0},
	})
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("search: status=%d body=%v", w.Code, out)
	}
	if results := out["results"].([]any); len(results) != 0 {
		t.Errorf("results: got %v, want empty", results)
	}

	doJSON(t, h, http.MethodPost, "/insert_batch", map[string]any{
		"items": []map[string]any{
			{"id": "a", "vector": []float32{1, 0}},
			{"id": "b", "vector": []float32{0, 1}},
		},
	})
	// k omitted defaults to 10.
	_, out = doJSON(t, h, http.MethodPost, "/search", map[string]any{
		"vector": []float32{1, 0},
	})
	if results := out["results"].([]any); len(results) != 2 {
		t.Errorf("results: got %v, want 2", results)
	}
}

func TestInvalidRequestBody(t *testing.T) {
	_, h := newTestServer(t, false)
	r := httptest.NewRequest(http.MethodPost, "/insert", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["success"] != false {
		t.Errorf("body: %v", out)
	}
	_, stats := doJSON(t, h, http.MethodGet, "/stats", nil)
	if stats["count"] != float64(0) {
		t.Errorf("rejected body changed state: %v", stats)
	}
}

func TestSaveLoadEndpoints(t *testing.T) {
	_, h := newTestServer(t, false)
	doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"id": "a", "vector": []float32{1, 0, 0, 0},
	})

	w, out := doJSON(t, h, http.MethodPost, "/save", nil)
	if w.Code != http.StatusOK || out["count"] != float64(1) {
		t.Fatalf("save: status=%d body=%v", w.Code, out)
	}
	// No mutation since: the second save is skipped.
	_, out = doJSON(t, h, http.MethodPost, "/save", nil)
	if out["message"] != "No changes to save" {
		t.Errorf("second save: %v", out)
	}

	w, out = doJSON(t, h, http.MethodPost, "/load", nil)
	if w.Code != http.StatusOK || out["count"] != float64(1) || out["dimension"] != float64(4) {
		t.Fatalf("load: status=%d body=%v", w.Code, out)
	}
}

func TestLoadWithNothingPersisted(t *testing.T) {
	_, h := newTestServer(t, false)
	w, out := doJSON(t, h, http.MethodPost, "/load", nil)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("load: status=%d body=%v", w.Code, out)
	}
	if out["message"] != "No persisted data found" || out["count"] != float64(0) {
		t.Errorf("body: %v", out)
	}
}

func TestClearAndStats(t *testing.T) {
	_, h := newTestServer(t, true)
	doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"id": "a", "vector": []float32{1, 0},
	})
	_, stats := doJSON(t, h, http.MethodGet, "/stats", nil)
	if stats["initialized"] != true || stats["count"] != float64(1) ||
		stats["dimension"] != float64(2) || stats["persistedToDisk"] != true ||
		stats["autoSave"] != true || stats["isDirty"] != false {
		t.Fatalf("stats: %v", stats)
	}
	if stats["diskSizeBytes"].(float64) <= 0 {
		t.Errorf("diskSizeBytes: %v", stats["diskSizeBytes"])
	}

	w, out := doJSON(t, h, http.MethodPost, "/clear", nil)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("clear: status=%d body=%v", w.Code, out)
	}
	_, stats = doJSON(t, h, http.MethodGet, "/stats", nil)
	if stats["initialized"] != false || stats["count"] != float64(0) ||
		stats["persistedToDisk"] != false {
		t.Errorf("stats after clear: %v", stats)
	}
}

func TestInitDefaultsDimension(t *testing.T) {
	_, h := newTestServer(t, false)
	w, out := doJSON(t, h, http.MethodPost, "/init", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("init: status=%d", w.Code)
	}
	if out["dimension"] != float64(config.DefaultDimension) {
		t.Errorf("dimension: got %v, want %d", out["dimension"], config.DefaultDimension)
	}
}
