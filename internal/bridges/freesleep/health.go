package freesleep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is how often health is published.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// PodID is the pod identifier for health messages.
	PodID string

	// Version is the core software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Cache supplies availability and staleness.
	Cache *device.Cache

	// Stats supplies bridge counters. Optional.
	Stats func() BridgeStatistics
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	podID     string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	cache     *device.Cache
	stats     func() BridgeStatistics

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logSink
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	return &HealthReporter{
		podID:     cfg.PodID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		cache:     cfg.Cache,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after availability changes.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge and pod status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cache != nil {
		snap := h.cache.Snapshot()
		if !snap.Available {
			return HealthOffline, fmt.Sprintf("pod unreachable (%d consecutive status failures)", snap.ConsecutiveFailures)
		}
		if stale := staleCategories(snap); len(stale) > 0 {
			names := make([]string, len(stale))
			for i, c := range stale {
				names[i] = string(c)
			}
			return HealthDegraded, "stale: " + strings.Join(names, ", ")
		}
	}

	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	return HealthOnline, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var stats BridgeStatistics
	if h.stats != nil {
		stats = h.stats()
	}

	msg := NewHealthMessage(h.podID, h.version, status, stats, h.startTime)
	msg.Reason = reason
	if h.cache != nil {
		snap := h.cache.Snapshot()
		msg.ConsecutiveFailures = snap.ConsecutiveFailures
		msg.StaleCategories = staleCategories(snap)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(mqtt.Topics{}.PodHealth(h.podID), payload, 1, true)
}

// staleCategories lists the categories whose last poll failed.
func staleCategories(snap device.Snapshot) []device.Category {
	var stale []device.Category
	for _, c := range device.Categories {
		if f := snap.Freshness(c); f != nil && f.Stale {
			stale = append(stale, c)
		}
	}
	return stale
}
