package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/freesleep-core/internal/bridges/freesleep"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Command carries the log record when a command failed.
	Command *freesleep.Record `json:"command,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeBadGateway         = "bad_gateway"
	ErrCodeGatewayTimeout     = "gateway_timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceUnavailable writes a 503 error response.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// commandStatus maps a gateway error onto an HTTP status and error code.
//
// Caller mistakes are 4xx. Pod failures are reported as gateway errors
// because the core is proxying the request to the pod.
func commandStatus(err error) (int, string) {
	if errors.Is(err, freesleep.ErrStopped) {
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	}
	switch freesleep.ErrorCode(err) {
	case freesleep.ErrCodeInvalidParameters, freesleep.ErrCodeInvalidCommand:
		return http.StatusBadRequest, ErrCodeValidation
	case freesleep.ErrCodeAwayModeBlocked:
		return http.StatusConflict, ErrCodeConflict
	case freesleep.ErrCodeDeviceUnreachable:
		return http.StatusGatewayTimeout, ErrCodeGatewayTimeout
	case freesleep.ErrCodeDeviceError, freesleep.ErrCodeProtocolError:
		return http.StatusBadGateway, ErrCodeBadGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeCommandError writes the response for a failed command. The gateway
// code (AWAY_MODE_BLOCKED, DEVICE_UNREACHABLE, ...) is kept on the record.
func writeCommandError(w http.ResponseWriter, rec freesleep.Record, err error) {
	status, code := commandStatus(err)
	resp := Error{
		Status:  status,
		Code:    code,
		Message: err.Error(),
	}
	if rec.ID != "" {
		resp.Command = &rec
	}
	writeJSON(w, status, resp)
}
