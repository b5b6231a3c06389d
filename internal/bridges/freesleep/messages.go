package freesleep

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// MQTT message types exchanged with consumers of the pod bridge.

// CommandMessage is published by a consumer to run a command.
// Topic: freesleep/{pod}/command/{kind}
type CommandMessage struct {
	// ID correlates the command with its ack. Generated if empty.
	ID string `json:"id,omitempty"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Side targets one side for sided commands ("left" or "right").
	Side device.Side `json:"side,omitempty"`

	// Params carries the command parameters, e.g.
	//   {"temperature_f": 78} for set-temperature
	//   {"head": 30, "feet": 15, "feed_rate": 60} for set-base-position
	Params Params `json:"params"`

	// Source indicates where the command originated. Defaults to "mqtt".
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the pod accepted the write.
	AckAccepted AckStatus = "accepted"

	// AckRejected indicates the command was refused before reaching the pod.
	AckRejected AckStatus = "rejected"

	// AckFailed indicates the pod or the network failed the command.
	AckFailed AckStatus = "failed"
)

// AckMessage reports a command's outcome.
// Topic: freesleep/{pod}/ack/{kind}
// QoS: 1, Retained: No
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// PodID is the pod identifier.
	PodID string `json:"pod_id"`

	// Kind is the command kind.
	Kind Kind `json:"kind"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// DurationMS is how long the command took.
	DurationMS int64 `json:"duration_ms"`

	// Error contains details if status is not "accepted".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "AWAY_MODE_BLOCKED", "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// NewAckMessage builds the ack for a gateway record.
func NewAckMessage(rec Record) AckMessage {
	msg := AckMessage{
		CommandID:  rec.ID,
		Timestamp:  time.Now().UTC(),
		PodID:      rec.PodID,
		Kind:       rec.Kind,
		Status:     AckAccepted,
		DurationMS: rec.Duration.Milliseconds(),
	}
	switch rec.Outcome {
	case OutcomeSuccess:
		return msg
	case OutcomeRejected:
		msg.Status = AckRejected
	default:
		msg.Status = AckFailed
	}
	msg.Error = &AckError{Code: rec.ErrorCode, Message: rec.ErrorMessage}
	return msg
}

// StateMessage carries one snapshot category.
// Topic: freesleep/{pod}/state/{category}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// PodID is the pod identifier.
	PodID string `json:"pod_id"`

	// Category is the snapshot partition.
	Category device.Category `json:"category"`

	// Timestamp is when the message was built (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Available mirrors the pod's availability at publish time.
	Available bool `json:"available"`

	// State is the category value, including its freshness.
	State json.RawMessage `json:"state"`
}

// DerivedMessage carries the derived view.
// Topic: freesleep/{pod}/derived
// QoS: 1, Retained: Yes
type DerivedMessage struct {
	PodID     string             `json:"pod_id"`
	Timestamp time.Time          `json:"timestamp"`
	Derived   device.DerivedView `json:"derived"`
}

// HealthStatus represents the operational status of the bridge and pod.
type HealthStatus string

const (
	// HealthOnline indicates the pod answers and every loaded category is fresh.
	HealthOnline HealthStatus = "online"

	// HealthDegraded indicates the pod answers but some category is stale,
	// or the broker connection is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the pod is unavailable.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: freesleep/{pod}/health
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// PodID is the pod identifier.
	PodID string `json:"pod_id"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the core software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// ConsecutiveFailures is the current status-poll failure streak.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// StaleCategories lists categories whose last poll failed.
	StaleCategories []device.Category `json:"stale_categories,omitempty"`

	// Statistics contains operational counters.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	// CommandsReceived is the number of MQTT commands received.
	CommandsReceived uint64 `json:"commands_received"`

	// CommandsFailed is the number of MQTT commands that did not succeed.
	CommandsFailed uint64 `json:"commands_failed"`

	// StatePublishes is the number of state messages published.
	StatePublishes uint64 `json:"state_publishes"`
}

// NewHealthMessage creates a health message.
func NewHealthMessage(podID, version string, status HealthStatus, stats BridgeStatistics, startTime time.Time) HealthMessage {
	return HealthMessage{
		PodID:         podID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Statistics:    &stats,
	}
}
