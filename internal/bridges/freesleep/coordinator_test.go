package freesleep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

const testInterval = 10 * time.Millisecond

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCoordinator(t *testing.T, client PodClient, cache *device.Cache) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorOptions{
		Client:         client,
		Cache:          cache,
		PodID:          "pod-1",
		StatusInterval: testInterval,
		BaseInterval:   testInterval,
		VitalsInterval: testInterval,
		RequestTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	if _, err := NewCoordinator(CoordinatorOptions{Cache: device.NewCache(nil, 3)}); err == nil {
		t.Error("NewCoordinator() without client error = nil")
	}
	if _, err := NewCoordinator(CoordinatorOptions{Client: NewMockPodClient()}); err == nil {
		t.Error("NewCoordinator() without cache error = nil")
	}
}

func TestCoordinatorInitialLoad(t *testing.T) {
	client := NewMockPodClient()
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	c.Start()
	defer c.Stop()

	waitFor(t, "status, settings and vitals", func() bool {
		snap := c.Snapshot()
		return snap.Status.Loaded() && snap.Settings.Loaded() && snap.Vitals.Loaded()
	})

	snap := c.Snapshot()
	if snap.Status.Left.TargetTemperatureF != 80 {
		t.Errorf("left target = %d, want 80", snap.Status.Left.TargetTemperatureF)
	}
	if _, ok := snap.Settings.Left.Schedules["monday"]; !ok {
		t.Error("schedules not merged")
	}
	if snap.Vitals.Right.HeartRate == nil || *snap.Vitals.Right.HeartRate != 62 {
		t.Errorf("right vitals = %+v", snap.Vitals.Right)
	}

	// No base answered the probe: it is never polled again.
	time.Sleep(5 * testInterval)
	if calls := client.Calls("GetBase"); len(calls) != 1 {
		t.Errorf("GetBase calls = %d, want 1", len(calls))
	}
	if snap.Base.Detected {
		t.Error("base detected without a base")
	}
}

func TestCoordinatorBaseDetected(t *testing.T) {
	client := NewMockPodClient()
	client.SetBase(device.Base{Detected: true, HeadAngle: 10, FeetAngle: 5}, nil)
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	c.Start()
	defer c.Stop()

	waitFor(t, "base polling", func() bool {
		return cache.BaseDetected() && len(client.Calls("GetBase")) >= 3
	})

	// A later failure marks the base stale but never clears detection.
	client.SetBase(device.Base{}, ErrUnreachable)
	waitFor(t, "base stale", func() bool {
		return c.Snapshot().Base.Stale
	})
	base := c.Snapshot().Base
	if !base.Detected || base.HeadAngle != 10 {
		t.Errorf("base = %+v", base)
	}
}

func TestCoordinatorBaseProbeFailureDisablesBase(t *testing.T) {
	client := NewMockPodClient()
	client.SetBase(device.Base{}, ErrUnreachable)
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	c.Start()
	defer c.Stop()

	// The probe is not retried while the status loop keeps running.
	waitFor(t, "status polls", func() bool { return len(client.Calls("GetStatus")) >= 5 })

	if n := len(client.Calls("GetBase")); n != 1 {
		t.Errorf("GetBase calls = %d, want 1", n)
	}
	if cache.BaseDetected() {
		t.Error("base detected after a failed startup probe")
	}
}

func TestCoordinatorAvailability(t *testing.T) {
	client := NewMockPodClient()
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	sub := c.Subscribe(device.CategoryAvailability)
	defer sub.Close()

	c.Start()
	defer c.Stop()

	waitFor(t, "first status", func() bool { return c.Snapshot().Status.Loaded() })

	client.SetStatusErr(ErrUnreachable)
	waitFor(t, "unavailable", func() bool { return !cache.Available() })

	snap := c.Snapshot()
	if snap.ConsecutiveFailures < device.DefaultUnavailableThreshold {
		t.Errorf("ConsecutiveFailures = %d", snap.ConsecutiveFailures)
	}
	if !snap.Status.Stale {
		t.Error("status not stale")
	}
	if snap.Status.Left.TargetTemperatureF != 80 {
		t.Error("cached status lost while unavailable")
	}

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("no availability signal on loss")
	}

	client.SetStatusErr(nil)
	waitFor(t, "available again", func() bool { return cache.Available() })
	if got := c.Snapshot(); got.ConsecutiveFailures != 0 || got.Status.Stale {
		t.Errorf("after recovery failures=%d stale=%v", got.ConsecutiveFailures, got.Status.Stale)
	}
}

func TestCoordinatorVitalsFollowBiometrics(t *testing.T) {
	client := NewMockPodClient()
	client.SetSettings(device.Settings{BiometricsEnabled: false}, nil)
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	c.Start()
	defer c.Stop()

	waitFor(t, "settings", func() bool { return c.Snapshot().Settings.Loaded() })
	time.Sleep(5 * testInterval)
	if calls := client.Calls("GetVitalsSummary"); len(calls) != 0 {
		t.Fatalf("GetVitalsSummary calls = %d with biometrics disabled", len(calls))
	}

	client.SetSettings(device.Settings{BiometricsEnabled: true}, nil)
	c.RequestSettingsReload()
	waitFor(t, "vitals after enabling biometrics", func() bool {
		return c.Snapshot().Vitals.Loaded()
	})
}

func TestCoordinatorRefreshSettingsPartialFailure(t *testing.T) {
	client := NewMockPodClient()
	client.SetSettings(device.Settings{}, &DeviceError{Status: 500})
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	err := c.RefreshSettings(context.Background())
	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatalf("RefreshSettings() error = %v, want *DeviceError", err)
	}

	snap := c.Snapshot()
	if _, ok := snap.Settings.Left.Schedules["monday"]; !ok {
		t.Error("schedules not merged after settings failure")
	}
	if !snap.Settings.Stale {
		t.Error("settings not marked stale")
	}
	if snap.Settings.Loaded() {
		t.Error("settings reported loaded although only schedules were read")
	}
	if !cache.Available() || snap.ConsecutiveFailures != 0 {
		t.Error("settings failure counted towards availability")
	}
}

func TestCoordinatorStop(t *testing.T) {
	client := NewMockPodClient()
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	c := newTestCoordinator(t, client, cache)

	c.Start()
	waitFor(t, "first status", func() bool { return cache.Snapshot().Status.Loaded() })
	c.Stop()
	c.Stop()

	calls := len(client.Calls("GetStatus"))
	time.Sleep(5 * testInterval)
	if after := len(client.Calls("GetStatus")); after != calls {
		t.Errorf("GetStatus calls grew from %d to %d after Stop", calls, after)
	}
}
