package device

import (
	"encoding/json"
	"sync"
	"time"
)

// Availability thresholds, counted in consecutive status-loop failures.
const (
	DefaultUnavailableThreshold = 3
	MinUnavailableThreshold     = 3
)

// DefaultFeedRate is the base movement speed used until a command sets one.
const DefaultFeedRate = 50

// Logger defines the logging interface used by the Cache.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Cache is the single owner of the device snapshot.
//
// Every write goes through one merge path under the write lock: poll results
// (which refresh the category's freshness) and optimistic command results
// (which do not). Each merge marks the category pending on the Notifier;
// signals go out when the caller flushes.
//
// Reads return deep copies and never hold the lock longer than the copy.
// All public methods are thread-safe.
type Cache struct {
	mu        sync.RWMutex
	snap      Snapshot
	notifier  *Notifier
	threshold int
	now       func() time.Time
	logger    Logger
}

// NewCache creates an empty cache.
//
// Parameters:
//   - notifier: Receives a Notify for every merge; a new one is created if nil
//   - threshold: Consecutive status failures before the pod is unavailable
//     (raised to MinUnavailableThreshold if lower)
//
// Returns:
//   - *Cache: Cache with an empty, available snapshot
func NewCache(notifier *Notifier, threshold int) *Cache {
	if notifier == nil {
		notifier = NewNotifier()
	}
	if threshold < MinUnavailableThreshold {
		threshold = MinUnavailableThreshold
	}
	return &Cache{
		snap: Snapshot{
			Available: true,
			Base:      Base{FeedRate: DefaultFeedRate},
		},
		notifier:  notifier,
		threshold: threshold,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// Notifier returns the notifier the cache signals.
func (c *Cache) Notifier() *Notifier {
	return c.notifier
}

// Threshold returns the effective unavailable threshold.
func (c *Cache) Threshold() int {
	return c.threshold
}

// Snapshot returns a deep copy of the current state. Callers may modify it.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// Available reports the aggregated availability condition.
func (c *Cache) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Available
}

// BaseDetected reports whether a base has ever been observed.
func (c *Cache) BaseDetected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Base.Detected
}

// BiometricsEnabled reports whether the last settings read enabled biometrics.
func (c *Cache) BiometricsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Settings.BiometricsEnabled
}

// MergeStatus stores a successful status read. It clears status staleness and
// resets the consecutive failure count, restoring availability if it was lost.
func (c *Cache) MergeStatus(status Status) {
	c.merge(CategoryStatus, true, func(s *Snapshot) {
		s.Status = status
	})
}

// MergeBase stores a successful base read. Detection is never cleared and the
// feed rate is kept unless the new value carries one.
func (c *Cache) MergeBase(base Base) {
	c.merge(CategoryBase, true, func(s *Snapshot) {
		detected := s.Base.Detected || base.Detected
		feedRate := s.Base.FeedRate
		if base.FeedRate > 0 {
			feedRate = base.FeedRate
		}
		s.Base = base
		s.Base.Detected = detected
		s.Base.FeedRate = feedRate
		s.Base.ConfirmedHeadAngle = base.HeadAngle
		s.Base.ConfirmedFeetAngle = base.FeetAngle
	})
}

// MergeVitals stores a successful vitals read.
func (c *Cache) MergeVitals(vitals Vitals) {
	c.merge(CategoryVitals, true, func(s *Snapshot) {
		s.Vitals = vitals
	})
}

// MergeSettings stores a successful settings read. Schedules already in the
// cache are kept; they are merged separately by MergeSchedules.
func (c *Cache) MergeSettings(settings Settings) {
	c.merge(CategorySettings, true, func(s *Snapshot) {
		left, right := s.Settings.Left.Schedules, s.Settings.Right.Schedules
		s.Settings = settings
		s.Settings.Left.Schedules = left
		s.Settings.Right.Schedules = right
	})
}

// MergeSchedules stores a successful schedules read for both sides.
func (c *Cache) MergeSchedules(left, right map[string]json.RawMessage) {
	c.merge(CategorySettings, true, func(s *Snapshot) {
		s.Settings.Left.Schedules = left
		s.Settings.Right.Schedules = right
	})
}

// MarkBaseDetected records that a base is attached. Returns true if this call
// changed the flag.
func (c *Cache) MarkBaseDetected() bool {
	c.mu.Lock()
	changed := !c.snap.Base.Detected
	c.snap.Base.Detected = true
	c.mu.Unlock()

	if changed {
		c.logger.Info("adjustable base detected")
		c.notifier.Notify(CategoryBase)
	}
	return changed
}

// ApplyOptimistic folds a command's intended result into the snapshot
// through the merge path. Freshness is left alone: the value is unconfirmed
// until the category's next successful poll.
func (c *Cache) ApplyOptimistic(category Category, apply func(*Snapshot)) {
	c.merge(category, false, apply)
}

// MarkStale records a failed poll for category. Cached values stay readable.
// A status failure counts towards the unavailable threshold.
func (c *Cache) MarkStale(category Category, err error) {
	c.mu.Lock()
	f := c.snap.Freshness(category)
	if f == nil {
		c.mu.Unlock()
		return
	}

	wasStale := f.Stale
	f.Stale = true
	if err != nil {
		f.LastError = err.Error()
	}

	var lost bool
	failures := c.snap.ConsecutiveFailures
	if category == CategoryStatus {
		c.snap.ConsecutiveFailures++
		failures = c.snap.ConsecutiveFailures
		if c.snap.Available && failures >= c.threshold {
			c.snap.Available = false
			lost = true
		}
	}
	c.mu.Unlock()

	if !wasStale {
		c.notifier.Notify(category)
	}
	if lost {
		c.logger.Warn("pod unavailable", "consecutive_failures", failures, "error", err)
		c.notifier.Notify(CategoryAvailability)
	}
}

// merge is the only path that writes the snapshot.
func (c *Cache) merge(category Category, confirmed bool, apply func(*Snapshot)) {
	c.mu.Lock()
	apply(&c.snap)

	var restored bool
	if confirmed {
		if f := c.snap.Freshness(category); f != nil {
			f.LastUpdated = c.now()
			f.Stale = false
			f.LastError = ""
		}
		if category == CategoryStatus {
			c.snap.ConsecutiveFailures = 0
			if !c.snap.Available {
				c.snap.Available = true
				restored = true
			}
		}
	}
	c.mu.Unlock()

	c.notifier.Notify(category)
	if restored {
		c.logger.Info("pod available again")
		c.notifier.Notify(CategoryAvailability)
	}
}
