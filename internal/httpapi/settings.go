package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rbright/tospeak/internal/rules"
	"github.com/rbright/tospeak/internal/settings"
)

// maxSettingsBody bounds settings documents accepted over HTTP.
const maxSettingsBody = 1 << 20

type settingsResponse struct {
	Settings rules.Settings `json:"settings"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	cur := s.store.Get()
	respondJSON(w, http.StatusOK, settingsResponse{Settings: cur, Warnings: rules.Lint(cur)})
}

func (s *Server) handleReplaceSettings(w http.ResponseWriter, r *http.Request) {
	next, warnings, err := s.store.Import(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{Settings: next, Warnings: warnings})
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	next, warnings, err := s.store.Patch(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{Settings: next, Warnings: warnings})
}

func (s *Server) handleResetSettings(w http.ResponseWriter, _ *http.Request) {
	next, err := s.store.Reset()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{Settings: next})
}

func (s *Server) handleExportSettings(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := s.store.Export(&buf); err != nil {
		s.respondStoreError(w, err)
		return
	}
	filename := fmt.Sprintf("tospeak-settings-%s.json", s.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAddReplacement(w http.ResponseWriter, r *http.Request) {
	var rule rules.Replacement
	if !decodeRule(w, r, &rule) {
		return
	}
	s.respondEdit(w, http.StatusCreated)(s.store.AddReplacement(rule))
}

func (s *Server) handleUpdateReplacement(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	var rule rules.Replacement
	if !decodeRule(w, r, &rule) {
		return
	}
	s.respondEdit(w, http.StatusOK)(s.store.UpdateReplacement(index, rule))
}

func (s *Server) handleRemoveReplacement(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	s.respondEdit(w, http.StatusOK)(s.store.RemoveReplacement(index))
}

func (s *Server) handleAddBlockRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.BlockRule
	if !decodeRule(w, r, &rule) {
		return
	}
	s.respondEdit(w, http.StatusCreated)(s.store.AddBlockRule(rule))
}

func (s *Server) handleUpdateBlockRule(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	var rule rules.BlockRule
	if !decodeRule(w, r, &rule) {
		return
	}
	s.respondEdit(w, http.StatusOK)(s.store.UpdateBlockRule(index, rule))
}

func (s *Server) handleRemoveBlockRule(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	s.respondEdit(w, http.StatusOK)(s.store.RemoveBlockRule(index))
}

func (s *Server) respondEdit(w http.ResponseWriter, status int) func(rules.Settings, error) {
	return func(next rules.Settings, err error) {
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondJSON(w, status, settingsResponse{Settings: next})
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, settings.ErrIndexOutOfRange):
		respondError(w, http.StatusNotFound, "index_out_of_range", err.Error())
	case errors.Is(err, settings.ErrInvalidDocument):
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
	case errors.As(err, &maxBytes):
		respondError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, rules.ErrEmptyBlockRule),
		errors.Is(err, rules.ErrEmptyReplacement),
		errors.Is(err, rules.ErrPatternTooLong),
		errors.Is(err, rules.ErrInvalidPattern):
		respondError(w, http.StatusBadRequest, "invalid_rule", err.Error())
	default:
		s.logger.Error("settings update failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
	}
}

func decodeRule(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "missing_body", "a rule is required")
		} else {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		}
		return false
	}
	return true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "invalid_index", fmt.Sprintf("index %q must be a non-negative integer", raw))
		return 0, false
	}
	return index, true
}
