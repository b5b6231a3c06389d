package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/freesleep-core/internal/bridges/freesleep"
	"github.com/nerrad567/freesleep-core/internal/device"
)

// commandRequest is the body of POST /commands/{kind}.
//
// Example:
//
//	{"side": "left", "params": {"temperature_f": 78}}
type commandRequest struct {
	ID     string           `json:"id,omitempty"`
	Side   device.Side      `json:"side,omitempty"`
	Params freesleep.Params `json:"params"`
}

// commandResponse is returned for a command the pod accepted.
type commandResponse struct {
	Command freesleep.Record `json:"command"`
}

// handleExecuteCommand runs one command through the gateway.
//
// The body may be empty for kinds that take no side or parameters
// (prime-pod, refresh, close-base, ...).
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	kind, err := freesleep.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.ID) > maxQueryParamLen {
		writeBadRequest(w, "command id too long")
		return
	}

	s.execute(w, r, freesleep.Command{
		ID:     req.ID,
		Kind:   kind,
		Side:   req.Side,
		Params: req.Params,
		Source: freesleep.SourceAPI,
	})
}

// handleRefresh re-reads settings and schedules from the pod.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, freesleep.Command{
		Kind:   freesleep.KindRefresh,
		Source: freesleep.SourceAPI,
	})
}

// execute runs cmd and writes the record or the mapped error.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd freesleep.Command) {
	rec, err := s.commands.Execute(r.Context(), cmd)
	if err != nil {
		writeCommandError(w, rec, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: rec})
}

// handleListCommandKinds returns every accepted command kind.
func (s *Server) handleListCommandKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kinds": freesleep.Kinds(),
	})
}

// handleListCommandLog returns executed commands, newest first.
//
// Query parameters:
//   - kind: filter by command kind (optional)
//   - limit: 1-200 (default 50)
func (s *Server) handleListCommandLog(w http.ResponseWriter, r *http.Request) {
	if s.commandLog == nil {
		writeServiceUnavailable(w, "command log not configured")
		return
	}

	var kind freesleep.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := freesleep.ParseKind(raw)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		kind = k
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	records, err := s.commandLog.List(r.Context(), s.podID, kind, limit)
	if err != nil {
		s.logger.Error("listing command log failed", "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}
	if records == nil {
		records = []freesleep.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pod_id":   s.podID,
		"commands": records,
		"count":    len(records),
	})
}
