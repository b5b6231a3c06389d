package freesleep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Default poll cadences.
const (
	DefaultStatusInterval = 5 * time.Second
	DefaultBaseInterval   = 10 * time.Second
	DefaultVitalsInterval = 60 * time.Second
)

// CoordinatorOptions holds configuration for creating a coordinator.
type CoordinatorOptions struct {
	// Client is the pod REST client. Required.
	Client PodClient

	// Cache receives every merge. Required.
	Cache *device.Cache

	// PodID identifies the pod in logs.
	PodID string

	// Poll cadences. Zero selects the defaults.
	StatusInterval time.Duration
	BaseInterval   time.Duration
	VitalsInterval time.Duration

	// RequestTimeout bounds each pod call. Zero selects DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Coordinator drives the pod's poll loops and owns the settings reload.
//
// Loops:
//   - status: always active, every StatusInterval
//   - base: started only if the startup probe finds a base; never stopped or
//     re-probed afterwards
//   - vitals: every VitalsInterval, skipped while biometrics are disabled
//   - settings/schedules: loaded at startup, then only on RequestSettingsReload
//     or RefreshSettings
//
// A failed poll marks its category stale and nothing else. Loops never back
// off and never exit on error.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	client  PodClient
	cache   *device.Cache
	podID   string
	metrics *Metrics

	statusInterval time.Duration
	baseInterval   time.Duration
	vitalsInterval time.Duration
	timeout        time.Duration

	reload     chan struct{}
	vitalsKick chan struct{}
	settingsMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logSink
}

// NewCoordinator creates a coordinator. Call Start to begin polling.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("pod client is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	c := &Coordinator{
		client:         opts.Client,
		cache:          opts.Cache,
		podID:          opts.PodID,
		metrics:        opts.Metrics,
		statusInterval: orDefault(opts.StatusInterval, DefaultStatusInterval),
		baseInterval:   orDefault(opts.BaseInterval, DefaultBaseInterval),
		vitalsInterval: orDefault(opts.VitalsInterval, DefaultVitalsInterval),
		timeout:        orDefault(opts.RequestTimeout, DefaultRequestTimeout),
		reload:         make(chan struct{}, 1),
		vitalsKick:     make(chan struct{}, 1),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
	}
	c.SetLogger(opts.Logger)
	return c, nil
}

// Start launches the loops and returns immediately. Calling it more than once
// has no effect.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(4)
		go func() {
			defer c.wg.Done()
			c.runLoop(device.CategoryStatus, c.statusInterval, c.pollStatus, nil, true)
		}()
		go func() {
			defer c.wg.Done()
			c.runLoop(device.CategoryVitals, c.vitalsInterval, c.pollVitals, c.vitalsKick, true)
		}()
		go c.settingsWorker()
		go c.baseWorker()

		c.logInfo("coordinator started",
			"pod_id", c.podID,
			"status_interval", c.statusInterval,
			"base_interval", c.baseInterval,
			"vitals_interval", c.vitalsInterval)
	})
}

// Stop signals every loop to exit before its next tick and waits for them.
// Calls already in flight run to completion or timeout.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.ctxCancel()
		c.logInfo("coordinator stopped", "pod_id", c.podID)
	})
}

// Snapshot returns a copy of the cached pod state. It never blocks on the pod.
func (c *Coordinator) Snapshot() device.Snapshot {
	return c.cache.Snapshot()
}

// Derived returns the derived view of the current snapshot.
func (c *Coordinator) Derived() device.DerivedView {
	return device.Derive(c.cache.Snapshot())
}

// Subscribe registers for change signals, optionally filtered by category.
func (c *Coordinator) Subscribe(filter ...device.Category) *device.Subscription {
	return c.cache.Notifier().Subscribe(filter...)
}

// RequestSettingsReload asks the settings worker to re-read settings and
// schedules. Requests made while one is pending are coalesced.
func (c *Coordinator) RequestSettingsReload() {
	select {
	case c.reload <- struct{}{}:
	default:
	}
}

// RefreshSettings reads settings and schedules now and merges whatever
// succeeded. Reloads are serialised so merges land in call order.
//
// Returns:
//   - error: The joined read errors, nil if both reads succeeded
func (c *Coordinator) RefreshSettings(ctx context.Context) error {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()

	hadBiometrics := c.cache.BiometricsEnabled()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var errs []error

	start := time.Now()
	settingsOK := false
	if settings, err := c.client.GetSettings(callCtx); err != nil {
		errs = append(errs, fmt.Errorf("settings: %w", err))
	} else {
		c.cache.MergeSettings(settings)
		settingsOK = true
	}

	switch left, right, err := c.client.GetSchedules(callCtx); {
	case err != nil:
		errs = append(errs, fmt.Errorf("schedules: %w", err))
	case settingsOK:
		c.cache.MergeSchedules(left, right)
	default:
		// Schedules alone must not mark the category loaded: away mode and
		// biometrics would read as confirmed zero values.
		c.cache.ApplyOptimistic(device.CategorySettings, func(s *device.Snapshot) {
			s.Settings.Left.Schedules = left
			s.Settings.Right.Schedules = right
		})
	}

	joined := errors.Join(errs...)
	c.metrics.ObservePoll(device.CategorySettings, time.Since(start), joined)
	if joined != nil {
		c.cache.MarkStale(device.CategorySettings, joined)
	}
	c.cache.Notifier().Flush()

	if !hadBiometrics && c.cache.BiometricsEnabled() {
		select {
		case c.vitalsKick <- struct{}{}:
		default:
		}
	}
	return joined
}

// runLoop polls on every tick until Stop, and once up front if immediate is
// set. A send on kick triggers an extra poll.
func (c *Coordinator) runLoop(category device.Category, interval time.Duration, poll func() error, kick <-chan struct{}, immediate bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failing bool
	run := func() {
		err := poll()
		c.cache.Notifier().Flush()
		switch {
		case err != nil && !failing:
			failing = true
			c.logWarn("poll failed", "pod_id", c.podID, "category", category, "error", err)
		case err != nil:
			c.logDebug("poll still failing", "pod_id", c.podID, "category", category, "error", err)
		case failing:
			failing = false
			c.logInfo("poll recovered", "pod_id", c.podID, "category", category)
		}
	}

	if immediate {
		run()
	}
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			run()
		case <-kick:
			run()
		}
	}
}

func (c *Coordinator) pollStatus() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status, err := c.client.GetStatus(ctx)
	c.metrics.ObservePoll(device.CategoryStatus, time.Since(start), err)
	if err != nil {
		c.cache.MarkStale(device.CategoryStatus, err)
		return err
	}
	c.cache.MergeStatus(status)
	return nil
}

func (c *Coordinator) pollBase() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	start := time.Now()
	base, err := c.client.GetBase(ctx)
	c.metrics.ObservePoll(device.CategoryBase, time.Since(start), err)
	if err != nil {
		c.cache.MarkStale(device.CategoryBase, err)
		return err
	}
	c.cache.MergeBase(base)
	return nil
}

// pollVitals reads both sides. Nothing is merged unless both reads succeed.
func (c *Coordinator) pollVitals() error {
	if !c.cache.BiometricsEnabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var vitals device.Vitals
	var err error
	for _, side := range device.Sides {
		var v device.SideVitals
		if v, err = c.client.GetVitalsSummary(ctx, side); err != nil {
			err = fmt.Errorf("%s: %w", side, err)
			break
		}
		*vitals.Side(side) = v
	}
	c.metrics.ObservePoll(device.CategoryVitals, time.Since(start), err)
	if err != nil {
		c.cache.MarkStale(device.CategoryVitals, err)
		return err
	}
	c.cache.MergeVitals(vitals)
	return nil
}

// settingsWorker performs the startup load and then serves reload requests.
func (c *Coordinator) settingsWorker() {
	defer c.wg.Done()

	if err := c.RefreshSettings(c.ctx); err != nil {
		c.logWarn("initial settings load failed", "pod_id", c.podID, "error", err)
	}

	for {
		select {
		case <-c.done:
			return
		case <-c.reload:
			if err := c.RefreshSettings(c.ctx); err != nil {
				c.logWarn("settings reload failed", "pod_id", c.podID, "error", err)
			}
		}
	}
}

// baseWorker probes for a base once. If one answers it becomes the base loop
// for the rest of the process; otherwise it exits and the base is never
// polled.
func (c *Coordinator) baseWorker() {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	base, err := c.client.GetBase(ctx)
	cancel()

	if err != nil {
		if errors.Is(err, ErrNoBase) {
			c.logInfo("no adjustable base attached", "pod_id", c.podID)
		} else {
			c.logWarn("base probe failed, base polling disabled", "pod_id", c.podID, "error", err)
		}
		return
	}

	c.cache.MarkBaseDetected()
	c.cache.MergeBase(base)
	c.cache.Notifier().Flush()

	c.runLoop(device.CategoryBase, c.baseInterval, c.pollBase, nil, false)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
