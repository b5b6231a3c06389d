package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/freesleep-core/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// maxQueryParamLen bounds free-form query and header values.
	maxQueryParamLen = 128
)

// snapshotResponse wraps the cached snapshot with its pod id.
type snapshotResponse struct {
	PodID    string          `json:"pod_id"`
	Snapshot device.Snapshot `json:"snapshot"`
}

// categoryResponse is one category value with its freshness.
type categoryResponse struct {
	PodID     string            `json:"pod_id"`
	Category  device.Category   `json:"category"`
	Value     any               `json:"value"`
	Freshness *device.Freshness `json:"freshness,omitempty"`
}

// handleGetSnapshot returns the full cached snapshot.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshotResponse{
		PodID:    s.podID,
		Snapshot: s.state.Snapshot(),
	})
}

// handleGetCategory returns a single category of the cached snapshot.
func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := device.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	snap := s.state.Snapshot()
	value, err := snap.Category(category)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	resp := categoryResponse{
		PodID:    s.podID,
		Category: category,
		Value:    value,
	}
	if category != device.CategoryAvailability {
		resp.Freshness = snap.Freshness(category)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetDerived returns the derived view of the current snapshot.
func (s *Server) handleGetDerived(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, device.Derive(s.state.Snapshot()))
}

// handleListPresets returns the base preset table.
func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"presets":   device.Presets(),
		"tolerance": device.PresetTolerance,
	})
}

// handleGetDeviceVersion reads the firmware version block from the pod.
// It is the one read that goes to the device instead of the cache.
func (s *Server) handleGetDeviceVersion(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeServiceUnavailable(w, "device client not configured")
		return
	}

	version, err := s.device.GetVersion(r.Context())
	if err != nil {
		status, code := commandStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// handleGetHistory returns recorded state changes, newest first.
//
// Query parameters:
//   - category: status, base, vitals or settings (optional)
//   - limit: 1-200 (default 50)
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "state history not configured")
		return
	}

	var category device.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		if len(raw) > maxQueryParamLen {
			writeBadRequest(w, "invalid category")
			return
		}
		c, err := device.ParseCategory(raw)
		if err != nil || c == device.CategoryAvailability {
			writeBadRequest(w, fmt.Sprintf("invalid category %q", raw))
			return
		}
		category = c
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.List(r.Context(), s.podID, category, limit)
	if err != nil {
		s.logger.Error("listing state history failed", "error", err)
		writeInternalError(w, "failed to list state history")
		return
	}
	if entries == nil {
		entries = []device.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pod_id":  s.podID,
		"entries": entries,
		"count":   len(entries),
	})
}

// parseLimit parses a limit query value. Empty means defaultHistoryLimit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if limit < 1 || limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit)
	}
	return limit, nil
}
