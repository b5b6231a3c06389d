// Package device holds the pod's state model for freesleep-core.
//
// The Cache is the single authoritative snapshot of last-known pod state,
// partitioned into categories that are polled and merged independently.
// Pure derivation functions project the raw readings into higher-level
// values, and the Notifier tells subscribers which categories changed.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────┐
//	│                           device package                           │
//	│                                                                    │
//	│  ┌─────────────────┐   Notify   ┌─────────────────┐                │
//	│  │      Cache      │──────────▶│    Notifier     │──▶ Subscription │
//	│  │   (cache.go)    │            │  (notifier.go)  │    .C()        │
//	│  │ • merge path    │            │ • pending set   │                │
//	│  │ • staleness     │            │ • Flush per tick│                │
//	│  │ • availability  │            └─────────────────┘                │
//	│  └─────────────────┘                                               │
//	│           │ Snapshot()                                             │
//	│           ▼                                                        │
//	│  ┌─────────────────┐            ┌─────────────────┐                │
//	│  │     Derive      │            │     History     │                │
//	│  │   (derive.go)   │            │(history_sqlite) │                │
//	│  └─────────────────┘            └─────────────────┘                │
//	└───────────────────────────────────────────────────────────────────┘
//
// # Categories
//
//   - status: power, temperatures, priming, water level (fast poll)
//   - base: head/feet angles and movement (only once a base is detected)
//   - vitals: heart rate, HRV, breathing rate (only with biometrics enabled)
//   - settings: away mode, link-both-sides, schedules and alarms (on demand)
//   - availability: signal-only, raised when the pod stops or resumes answering
//
// A failed poll marks its category stale but keeps the last values readable.
//
// # Usage
//
//	notifier := device.NewNotifier()
//	cache := device.NewCache(notifier, cfg.Device.UnavailableThreshold)
//
//	sub := notifier.Subscribe(device.CategoryStatus)
//	defer sub.Close()
//
//	cache.MergeStatus(status)
//	notifier.Flush()
//
//	<-sub.C()
//	view := device.Derive(cache.Snapshot())
//
// # Thread Safety
//
// Cache and Notifier are safe for concurrent use. Derivation functions are
// pure. Snapshots returned by the cache are deep copies.
package device
