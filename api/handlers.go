// Package api serves the extraction engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/goextract"
	"github.com/brunobiangulo/goextract/store"
)

const extractTimeout = 30 * time.Minute

type handler struct {
	engine *goextract.Engine
}

func newHandler(e *goextract.Engine) *handler {
	return &handler{engine: e}
}

// NewHandler builds the routed API with its middleware chain. An empty
// apiKey disables authentication and empty corsOrigins disables CORS.
func NewHandler(e *goextract.Engine, apiKey, corsOrigins string) http.Handler {
	h := newHandler(e)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /extract", h.handleExtract)
	mux.HandleFunc("GET /cases/stats", h.handleCaseStats)
	mux.HandleFunc("GET /cases/search", h.handleCaseSearch)
	mux.HandleFunc("GET /schemas", h.handleSchemas)
	mux.HandleFunc("GET /extractions/{id}", h.handleGetExtraction)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Middleware chain: recovery -> cors -> auth -> request id -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// POST /extract
// Accepts a JSON request, or a multipart upload with the file under "file"
// and the JSON request under "request".
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), extractTimeout)
	defer cancel()

	var req goextract.Request
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		if raw := r.FormValue("request"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request JSON")
				return
			}
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart request needs a file")
			return
		}
		defer file.Close()

		// Sanitise filename to prevent path traversal.
		safeName := filepath.Base(header.Filename)
		tmpDir, err := os.MkdirTemp("", "goextract-upload-")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process file")
			slog.Error("creating temp dir", "error", err)
			return
		}
		defer os.RemoveAll(tmpDir)

		tmpPath := filepath.Join(tmpDir, safeName)
		dst, err := os.Create(tmpPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process file")
			slog.Error("creating temp file", "error", err)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			writeError(w, http.StatusInternalServerError, "failed to save file")
			slog.Error("saving uploaded file", "error", err)
			return
		}
		dst.Close()
		req.Text = ""
		req.FilePath = tmpPath
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		// Server-side paths are not readable through the JSON API.
		if req.FilePath != "" {
			writeError(w, http.StatusBadRequest, "file_path is not accepted, upload the file instead")
			return
		}
	}

	resp, err := h.engine.Extract(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, goextract.ErrUnsupportedTask):
			status = http.StatusUnprocessableEntity
		case goextract.IsClientError(err):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		slog.Error("extract error", "task", req.Task, "error", err)
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("X-Request-ID", resp.ID)
	writeJSON(w, http.StatusOK, resp)
}

// GET /cases/stats
func (h *handler) handleCaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /cases/search?q=...&task=...&limit=...
func (h *handler) handleCaseSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	cases, trace, err := h.engine.SearchCases(r.Context(), query, q.Get("task"), limit)
	switch {
	case errors.Is(err, goextract.ErrNoStore):
		writeError(w, http.StatusNotFound, "case search needs the sqlite store")
		return
	case goextract.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "case search failed")
		slog.Error("case search error", "error", err)
		return
	}
	if cases == nil {
		cases = []store.Case{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"trace": trace,
	})
}

// GET /schemas
func (h *handler) handleSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"schemas": h.engine.Schemas(),
		"modes":   h.engine.Modes(),
	})
}

// GET /extractions/{id}
func (h *handler) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	x, err := h.engine.Extraction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "extraction not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read extraction")
		slog.Error("get extraction error", "id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, x)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"cases":  h.engine.Repository() != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
