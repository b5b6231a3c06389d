package freesleep

import (
	"errors"
	"fmt"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Domain errors for the pod bridge.
var (
	// ErrUnreachable is returned when the pod cannot be reached or the
	// request timed out.
	ErrUnreachable = errors.New("freesleep: pod unreachable")

	// ErrProtocol is returned when the pod answers with a payload that cannot
	// be parsed.
	ErrProtocol = errors.New("freesleep: unexpected payload")

	// ErrNoBase is returned by base reads when the pod reports no base.
	ErrNoBase = errors.New("freesleep: no adjustable base")

	// ErrStopped is returned when a command arrives after shutdown began.
	ErrStopped = errors.New("freesleep: stopped")

	// ErrUnknownCommand is returned for a command kind that does not exist.
	ErrUnknownCommand = errors.New("freesleep: unknown command")
)

// Error codes carried in MQTT acks and HTTP error bodies.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceError       = "DEVICE_ERROR"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeAwayModeBlocked   = "AWAY_MODE_BLOCKED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// DeviceError is returned when the pod rejects a request.
type DeviceError struct {
	// Status is the HTTP status code returned by the pod.
	Status int

	// Message is the pod's explanation, or the raw body if it sent none.
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("freesleep: pod returned %d", e.Status)
	}
	return fmt.Sprintf("freesleep: pod returned %d: %s", e.Status, e.Message)
}

// ValidationError is returned when a command parameter is missing or out of
// range. No request is sent to the pod.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("freesleep: invalid %s: %s", e.Field, e.Reason)
}

// AwayModeBlockedError is returned when a side in away mode receives a
// temperature or power-on command.
type AwayModeBlockedError struct {
	Side device.Side
	Kind Kind
}

func (e *AwayModeBlockedError) Error() string {
	return fmt.Sprintf("freesleep: %s side is in away mode, %s rejected; disable away mode first", e.Side, e.Kind)
}

// ErrorCode maps an error onto the code reported to callers.
func ErrorCode(err error) string {
	var (
		deviceErr     *DeviceError
		validationErr *ValidationError
		awayErr       *AwayModeBlockedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &awayErr):
		return ErrCodeAwayModeBlocked
	case errors.As(err, &validationErr):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.As(err, &deviceErr):
		return ErrCodeDeviceError
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, ErrUnreachable):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}
