package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

const maxBodyBytes = 1 << 20

type apiResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, apiResponse{
		Error: &apiError{Code: code, Message: message},
	})
}

func respondFields(w http.ResponseWriter, fields catalog.FieldErrors) {
	writeEnvelope(w, http.StatusUnprocessableEntity, apiResponse{
		Error: &apiError{Code: "validation_error", Message: "invalid request", Fields: fields},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondResult writes a service result, mapping failures to a status code.
func respondResult(w http.ResponseWriter, status int, res progress.Result) {
	if res.Success {
		writeEnvelope(w, status, apiResponse{Success: true, Message: res.Message, Data: res.Data})
		return
	}

	var fields catalog.FieldErrors
	if errors.As(res.Err, &fields) {
		respondFields(w, fields)
		return
	}

	status, code := errorStatus(res.Err)
	msg := res.Message
	if msg == "" {
		msg = progress.Message(res.Err)
	}
	respondError(w, status, code, msg)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, progress.ErrUnknownItem), errors.Is(err, progress.ErrUnknownUnit), errors.Is(err, progress.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, progress.ErrAlreadyEnrolled):
		return http.StatusConflict, "already_enrolled"
	case errors.Is(err, progress.ErrNotEnrolled):
		return http.StatusConflict, "not_enrolled"
	case errors.Is(err, progress.ErrInvalidRating), errors.Is(err, progress.ErrInvalidPosition):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, progress.ErrMissingUser):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Warn("storage not ready", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "storage not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"items":  s.catalog.Len(),
	})
}

// Catalog handlers

type catalogResponse struct {
	Items   []catalog.Item  `json:"items"`
	Total   int             `json:"total"`
	Options catalog.Options `json:"options"`
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	opts, err := catalog.ParseOptions(r.URL.Query())
	if err != nil {
		var fields catalog.FieldErrors
		if errors.As(err, &fields) {
			respondFields(w, fields)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var lookup catalog.ProgressLookup
	if userID := r.URL.Query().Get("user"); userID != "" {
		lookup, err = s.store.Lookup(r.Context(), userID)
		if err != nil {
			slog.Error("failed to load progress for catalog", "user_id", userID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to load progress")
			return
		}
	}

	s.respondCatalog(w, opts, lookup)
}

func (s *Server) respondCatalog(w http.ResponseWriter, opts catalog.Options, lookup catalog.ProgressLookup) {
	items := s.catalog.Filter(opts, lookup)
	respondJSON(w, http.StatusOK, catalogResponse{
		Items:   items,
		Total:   len(items),
		Options: opts.Normalize(),
	})
}

func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"categories":   s.catalog.Categories(),
		"tags":         s.catalog.Tags(),
		"difficulties": []catalog.Difficulty{catalog.DifficultyBeginner, catalog.DifficultyIntermediate, catalog.DifficultyAdvanced},
		"durations":    []catalog.DurationBucket{catalog.DurationAll, catalog.DurationShort, catalog.DurationMedium, catalog.DurationLong},
		"statuses":     []catalog.ProgressStatus{catalog.StatusNotStarted, catalog.StatusInProgress, catalog.StatusCompleted},
		"sort_keys": []catalog.SortKey{
			catalog.SortDefault, catalog.SortTitle, catalog.SortDuration, catalog.SortRating,
			catalog.SortCreated, catalog.SortUpdated, catalog.SortProgress,
		},
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	item, ok := s.catalog.Get(itemID)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "catalog item not found")
		return
	}
	respondJSON(w, http.StatusOK, item)
}
