package freesleep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/mqtt"
)

// Availability payloads published on the retained availability topic.
const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client implements it; tests substitute a mock.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// CommandExecutor runs commands. *Gateway implements it.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd Command) (Record, error)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// PodID names the pod in every topic. Required.
	PodID string

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Executor runs received commands. Required.
	Executor CommandExecutor

	// Cache is the source of state and change signals. Required.
	Cache *device.Cache

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published (default 30s).
	HealthInterval time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge exposes the pod over MQTT.
// It handles:
//   - Publishing each category as retained state when it changes
//   - Publishing the derived view and availability alongside
//   - Receiving commands on freesleep/{pod}/command/{kind} and acking them
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	podID    string
	mqtt     MQTTClient
	executor CommandExecutor
	cache    *device.Cache
	health   *HealthReporter
	topics   mqtt.Topics

	sub *device.Subscription

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statePublishes   atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopMu    sync.Mutex
	stopping  bool
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logSink
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.PodID == "" {
		return nil, fmt.Errorf("pod id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("command executor is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		podID:     opts.PodID,
		mqtt:      opts.MQTTClient,
		executor:  opts.Executor,
		cache:     opts.Cache,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}
	b.SetLogger(opts.Logger)

	b.health = NewHealthReporter(HealthReporterConfig{
		PodID:     opts.PodID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Cache:     opts.Cache,
		Stats:     b.statistics,
	})
	b.health.SetLogger(opts.Logger)

	return b, nil
}

// Start subscribes to command topics, publishes the current state and starts
// forwarding change signals and health.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllPodCommands(b.podID)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.sub = b.cache.Notifier().Subscribe()
	b.publishAll()

	b.wg.Add(1)
	go b.forwardLoop()

	b.health.Start(ctx)

	b.logInfo("bridge started", "pod_id", b.podID)
	return nil
}

// Stop gracefully shuts down the bridge. Commands already received finish
// and are acked.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopping = true
		b.stopMu.Unlock()

		close(b.done)

		b.health.Stop()
		b.wg.Wait()
		b.ctxCancel()

		if b.sub != nil {
			b.sub.Close()
		}

		b.logInfo("bridge stopped", "pod_id", b.podID)
	})
}

// forwardLoop publishes each signalled category.
func (b *Bridge) forwardLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.sub.C():
			if !ok {
				return
			}
			snap := b.cache.Snapshot()
			b.publishCategory(sig.Category, snap)
			b.publishDerived(snap)
			if sig.Category == device.CategoryAvailability {
				if err := b.health.PublishNow(); err != nil {
					b.logError("failed to publish health", err)
				}
			}
		}
	}
}

// publishAll publishes every loaded category, the derived view and availability.
func (b *Bridge) publishAll() {
	snap := b.cache.Snapshot()
	for _, category := range device.Categories {
		if snap.Freshness(category).Loaded() {
			b.publishCategory(category, snap)
		}
	}
	b.publishCategory(device.CategoryAvailability, snap)
	b.publishDerived(snap)
}

// publishCategory publishes one category as retained state. Availability is
// also published as a plain online/offline payload.
func (b *Bridge) publishCategory(category device.Category, snap device.Snapshot) {
	value, err := snap.Category(category)
	if err != nil {
		b.logError("unknown category", err)
		return
	}
	state, err := json.Marshal(value)
	if err != nil {
		b.logError("failed to marshal state", err, "category", category)
		return
	}

	msg := StateMessage{
		PodID:     b.podID,
		Category:  category,
		Timestamp: time.Now().UTC(),
		Available: snap.Available,
		State:     state,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state message", err, "category", category)
		return
	}

	if err := b.mqtt.Publish(b.topics.PodState(b.podID, string(category)), payload, 1, true); err != nil {
		b.logError("failed to publish state", err, "category", category)
		return
	}
	b.statePublishes.Add(1)

	if category == device.CategoryAvailability {
		availability := availabilityOnline
		if !snap.Available {
			availability = availabilityOffline
		}
		if err := b.mqtt.Publish(b.topics.PodAvailability(b.podID), []byte(availability), 1, true); err != nil {
			b.logError("failed to publish availability", err)
		}
	}
}

func (b *Bridge) publishDerived(snap device.Snapshot) {
	payload, err := json.Marshal(DerivedMessage{
		PodID:     b.podID,
		Timestamp: time.Now().UTC(),
		Derived:   device.Derive(snap),
	})
	if err != nil {
		b.logError("failed to marshal derived view", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.PodDerived(b.podID), payload, 1, true); err != nil {
		b.logError("failed to publish derived view", err)
	}
}

// handleCommand parses a command message and runs it in the background so
// the MQTT client's delivery goroutine is never held by a pod call.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.commandsReceived.Add(1)

	kindName := topic[strings.LastIndex(topic, "/")+1:]

	var msg CommandMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.commandsFailed.Add(1)
			b.publishAck(Record{
				PodID:        b.podID,
				Kind:         Kind(kindName),
				Outcome:      OutcomeRejected,
				ErrorCode:    ErrCodeInvalidParameters,
				ErrorMessage: fmt.Sprintf("invalid command payload: %v", err),
			})
			return fmt.Errorf("parsing command: %w", err)
		}
	}

	kind, err := ParseKind(kindName)
	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(Record{
			ID:           msg.ID,
			PodID:        b.podID,
			Kind:         Kind(kindName),
			Outcome:      OutcomeRejected,
			ErrorCode:    ErrorCode(err),
			ErrorMessage: err.Error(),
		})
		return err
	}

	source := msg.Source
	if source == "" {
		source = SourceMQTT
	}
	cmd := Command{ID: msg.ID, Kind: kind, Side: msg.Side, Params: msg.Params, Source: source}

	b.stopMu.Lock()
	if b.stopping {
		b.stopMu.Unlock()
		return ErrStopped
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	go func() {
		defer b.wg.Done()
		rec, err := b.executor.Execute(b.ctx, cmd)
		if err != nil {
			b.commandsFailed.Add(1)
		}
		b.publishAck(rec)
	}()
	return nil
}

func (b *Bridge) publishAck(rec Record) {
	payload, err := json.Marshal(NewAckMessage(rec))
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.PodAck(b.podID, string(rec.Kind)), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err, "command_id", rec.ID)
	}
}

func (b *Bridge) statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatePublishes:   b.statePublishes.Load(),
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected bool `json:"connected"`
	BridgeStatistics
}

// GetMetrics returns the bridge's connection state and counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		BridgeStatistics: b.statistics(),
	}
}
