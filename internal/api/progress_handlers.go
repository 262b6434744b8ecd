package api

import (
	"bytes"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/progress"
	"github.com/p-n-ai/pai-academy/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ratingRequest struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
}

type feedbackRequest struct {
	UserID  string `json:"user_id"`
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment"`
}

type positionRequest struct {
	UnitID          string `json:"unit_id"`
	PositionSeconds int    `json:"position_seconds"`
}

type preferencesRequest struct {
	Flags map[string]bool `json:"flags"`
}

// Progress handlers

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.ListProgress(r.Context(), chi.URLParam(r, "userID")))
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.ResetUser(r.Context(), chi.URLParam(r, "userID")))
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	res := s.service.Progress(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID"))
	respondResult(w, http.StatusOK, res)
}

func (s *Server) handleCompleteUnit(w http.ResponseWriter, r *http.Request) {
	res := s.service.CompleteUnit(r.Context(),
		chi.URLParam(r, "userID"),
		chi.URLParam(r, "itemID"),
		chi.URLParam(r, "unitID"),
	)
	respondResult(w, http.StatusOK, res)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := s.service.UpdatePosition(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID"), req.UnitID, req.PositionSeconds)
	respondResult(w, http.StatusOK, res)
}

func (s *Server) handleToggleBookmark(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.ToggleBookmark(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID")))
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.ToggleFavorite(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID")))
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusCreated, s.service.Enroll(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID")))
}

func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.Unenroll(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "itemID")))
}

// Rating and feedback handlers

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.Rating(r.Context(), chi.URLParam(r, "itemID")))
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := s.service.SubmitRating(r.Context(), req.UserID, chi.URLParam(r, "itemID"), req.Rating)
	respondResult(w, http.StatusOK, res)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.Feedback(r.Context(), chi.URLParam(r, "itemID")))
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := s.service.SubmitFeedback(r.Context(), progress.Feedback{
		UserID:  req.UserID,
		ItemID:  chi.URLParam(r, "itemID"),
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	respondResult(w, http.StatusCreated, res)
}

// Preference handlers

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	respondResult(w, http.StatusOK, s.service.Preferences(r.Context(), chi.URLParam(r, "userID")))
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	respondResult(w, http.StatusOK, s.service.SetFlags(r.Context(), chi.URLParam(r, "userID"), req.Flags))
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	res := s.service.Preferences(r.Context(), chi.URLParam(r, "userID"))
	if res.Success {
		res.Data = res.Data.(progress.Preferences).Filters
	}
	respondResult(w, http.StatusOK, res)
}

func (s *Server) handleUpdateFilters(w http.ResponseWriter, r *http.Request) {
	var req catalog.OptionsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	res := s.service.UpdateFilters(r.Context(), chi.URLParam(r, "userID"), req)
	if res.Success {
		res.Data = res.Data.(progress.Preferences).Filters
	}
	respondResult(w, http.StatusOK, res)
}

func (s *Server) handleClearFilters(w http.ResponseWriter, r *http.Request) {
	res := s.service.ClearFilters(r.Context(), chi.URLParam(r, "userID"))
	if res.Success {
		res.Data = res.Data.(progress.Preferences).Filters
	}
	respondResult(w, http.StatusOK, res)
}

// handleUserCatalog filters the catalog with the user's saved options and
// progress.
func (s *Server) handleUserCatalog(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	res := s.service.Preferences(r.Context(), userID)
	if !res.Success {
		respondResult(w, http.StatusOK, res)
		return
	}
	lookup, err := s.store.Lookup(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load progress for catalog", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load progress")
		return
	}
	s.respondCatalog(w, res.Data.(progress.Preferences).Filters, lookup)
}

// Report handler

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	records, err := s.store.ListForUser(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load progress for report", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to build report")
		return
	}
	ratings, err := s.store.Ratings(r.Context())
	if err != nil {
		slog.Error("failed to load ratings for report", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to build report")
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, report.Data{UserID: userID, Records: records, Ratings: ratings, Catalog: s.catalog}); err != nil {
		slog.Error("failed to write report", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to build report")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": "progress-" + userID + ".xlsx",
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to send report", "user_id", userID, "error", err)
	}
}
