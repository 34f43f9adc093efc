package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/hyperjump/vecbridge/internal/collection"
	"github.com/hyperjump/vecbridge/internal/shadow"
	"go.uber.org/zap"
)

type insertItem struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

func (it *insertItem) record() shadow.Record {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	return shadow.Record{ID: it.ID, Vector: it.Vector, Metadata: it.Metadata}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   ServiceName,
		"persisted": s.col.Persisted(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.col.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"initialized":     stats.Initialized,
		"count":           stats.Count,
		"dimension":       stats.Dimension,
		"dataDir":         stats.DataDir,
		"persistedToDisk": stats.PersistedToDisk,
		"diskSizeBytes":   stats.DiskSizeBytes,
		"autoSave":        stats.AutoSave,
		"isDirty":         stats.Dirty,
	})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dimension int `json:"dimension"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dim := req.Dimension
	if dim == 0 {
		dim = s.persist.DefaultDimension
	}
	s.logger.Debug("init request", zap.Int("dimension", dim))
	if err := s.col.Init(r.Context(), dim); err != nil {
		s.logger.Error("init failed", zap.Error(err))
		s.respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "dimension": dim})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var item insertItem
	if err := decodeBody(r, &item); err != nil {
		s.respondFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec := item.record()
	s.logger.Debug("insert request", zap.String("id", rec.ID), zap.Int("length", len(rec.Vector)))
	if err := s.col.Insert(r.Context(), rec); err != nil {
		s.respondInsertError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "id": rec.ID})
}

func (s *Server) handleInsertBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []insertItem `json:"items"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	recs := make([]shadow.Record, len(req.Items))
	for i := range req.Items {
		recs[i] = req.Items[i].record()
	}
	s.logger.Debug("insert batch request", zap.Int("items", len(recs)))
	inserted, err := s.col.InsertBatch(r.Context(), recs)
	if err != nil {
		s.respondInsertError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "inserted": inserted})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector []float32 `json:"vector"`
		K      int       `json:"k"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.K <= 0 {
		req.K = 10
	}
	s.logger.Debug("search request", zap.Int("k", req.K), zap.Int("length", len(req.Vector)))
	results, err := s.col.Search(r.Context(), req.Vector, req.K)
	if err != nil {
		var dim *collection.DimensionMismatchError
		if errors.As(err, &dim) {
			s.respondFailure(w, http.StatusBadRequest, dim.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("clear request")
	if err := s.col.Clear(r.Context()); err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		s.respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	saved, count, err := s.col.Save(r.Context())
	if err != nil {
		s.logger.Error("save failed", zap.Error(err))
		s.respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !saved {
		s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "No changes to save"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "count": count})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	loaded, err := s.col.Load(r.Context())
	if err != nil {
		s.logger.Error("load failed", zap.Error(err))
		s.respondFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !loaded {
		s.respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "No persisted data found",
			"count":   0,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"count":     s.col.Count(),
		"dimension": s.col.Dimension(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusNotFound, "Not found")
}

// respondInsertError shapes insert and batch failures. Dimension mismatches
// carry the bound and requested dimensions plus a restart_required action,
// since rebinding requires an explicit clear and a process restart.
func (s *Server) respondInsertError(w http.ResponseWriter, err error) {
	var dim *collection.DimensionMismatchError
	if errors.As(err, &dim) {
		s.respondJSON(w, http.StatusConflict, map[string]any{
			"success":            false,
			"error":              dim.Error(),
			"currentDimension":   dim.Current,
			"requestedDimension": dim.Requested,
			"action":             "restart_required",
		})
		return
	}
	s.logger.Error("insert failed", zap.Error(err))
	s.respondFailure(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		// An absent body is fine; endpoints like clear and save take none.
		return nil
	}
	return err
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondFailure(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{"success": false, "error": message})
}
