package freesleep

import (
	"context"
	"sync"
	"testing"

	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/influxdb"
)

type writtenPoint struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
}

// mockPointWriter records points.
type mockPointWriter struct {
	mu     sync.Mutex
	points []writtenPoint
}

func (w *mockPointWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, writtenPoint{Measurement: measurement, Tags: tags, Fields: fields})
}

func (w *mockPointWriter) byMeasurement(measurement string) []writtenPoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []writtenPoint
	for _, p := range w.points {
		if p.Measurement == measurement {
			out = append(out, p)
		}
	}
	return out
}

type historyCall struct {
	Category device.Category
	Source   string
}

// mockHistory implements device.HistoryRepository.
type mockHistory struct {
	mu    sync.Mutex
	calls []historyCall
}

func (h *mockHistory) Record(_ context.Context, _ string, category device.Category, _ any, source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, historyCall{Category: category, Source: source})
	return nil
}

func (h *mockHistory) List(context.Context, string, device.Category, int) ([]device.HistoryEntry, error) {
	return nil, nil
}

func (h *mockHistory) recorded() []historyCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]historyCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func newTestRecorder(t *testing.T) (*Recorder, *device.Cache, *mockPointWriter, *mockHistory) {
	t.Helper()
	cache := device.NewCache(nil, device.DefaultUnavailableThreshold)
	points := &mockPointWriter{}
	history := &mockHistory{}
	r, err := NewRecorder(RecorderOptions{
		Cache:   cache,
		PodID:   "pod-1",
		Points:  points,
		History: history,
	})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r, cache, points, history
}

func TestRecorderStatusChange(t *testing.T) {
	r, cache, points, history := newTestRecorder(t)

	cache.MergeStatus(device.Status{
		Left:       device.SideStatus{IsOn: true, TargetTemperatureF: 70, CurrentTemperatureF: 75},
		WaterLevel: &device.WaterLevelReading{Raw: 550, CalibratedEmpty: 100, CalibratedFull: 1000},
	})
	r.handle(device.CategoryStatus, cache.Snapshot())

	sides := points.byMeasurement(influxdb.MeasurementPodSide)
	if len(sides) != 2 {
		t.Fatalf("pod_side points = %d, want 2", len(sides))
	}
	left := sides[0]
	if left.Tags["side"] != "left" || left.Tags["pod"] != "pod-1" {
		t.Errorf("tags = %v", left.Tags)
	}
	if left.Fields["hvac_action"] != string(device.HVACCooling) {
		t.Errorf("hvac_action = %v, want cooling", left.Fields["hvac_action"])
	}

	status := points.byMeasurement(influxdb.MeasurementPodStatus)
	if len(status) != 1 {
		t.Fatalf("pod_status points = %d, want 1", len(status))
	}
	if pct, ok := status[0].Fields["water_level_percent"].(float64); !ok || pct != 50 {
		t.Errorf("water_level_percent = %v, want 50", status[0].Fields["water_level_percent"])
	}

	calls := history.recorded()
	if len(calls) != 1 || calls[0].Source != device.HistorySourcePoll {
		t.Errorf("history = %+v", calls)
	}
}

func TestRecorderSkipsUnchangedContent(t *testing.T) {
	r, cache, points, history := newTestRecorder(t)

	status := device.Status{Left: device.SideStatus{TargetTemperatureF: 70}}
	cache.MergeStatus(status)
	r.handle(device.CategoryStatus, cache.Snapshot())

	// Same values again: only freshness moves.
	cache.MergeStatus(status)
	r.handle(device.CategoryStatus, cache.Snapshot())

	if got := len(history.recorded()); got != 1 {
		t.Errorf("history rows = %d, want 1", got)
	}
	if got := len(points.byMeasurement(influxdb.MeasurementPodStatus)); got != 1 {
		t.Errorf("pod_status points = %d, want 1", got)
	}
}

func TestRecorderOptimisticChangeIsCommandSource(t *testing.T) {
	r, cache, points, history := newTestRecorder(t)

	cache.MergeStatus(device.Status{Left: device.SideStatus{TargetTemperatureF: 70}})
	r.handle(device.CategoryStatus, cache.Snapshot())

	cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
		s.Status.Left.TargetTemperatureF = 65
	})
	r.handle(device.CategoryStatus, cache.Snapshot())

	calls := history.recorded()
	if len(calls) != 2 {
		t.Fatalf("history rows = %d, want 2", len(calls))
	}
	if calls[1].Source != device.HistorySourceCommand {
		t.Errorf("second source = %q, want command", calls[1].Source)
	}
	if got := len(points.byMeasurement(influxdb.MeasurementPodStatus)); got != 1 {
		t.Errorf("optimistic change wrote points: %d pod_status points", got)
	}
}

func TestRecorderIgnoresUnloadedAndUndetected(t *testing.T) {
	r, cache, points, history := newTestRecorder(t)

	r.handle(device.CategoryVitals, cache.Snapshot())
	if len(history.recorded()) != 0 {
		t.Error("recorded a category that was never loaded")
	}

	cache.MergeBase(device.Base{HeadAngle: 10})
	r.handle(device.CategoryBase, cache.Snapshot())
	if len(points.byMeasurement(influxdb.MeasurementPodBase)) != 0 {
		t.Error("wrote base points without a detected base")
	}
}

func TestRecorderVitalsPoints(t *testing.T) {
	r, cache, points, _ := newTestRecorder(t)

	cache.MergeVitals(device.Vitals{Left: device.SideVitals{HeartRate: floatPtr(55), HRV: floatPtr(40)}})
	r.handle(device.CategoryVitals, cache.Snapshot())

	vitals := points.byMeasurement(influxdb.MeasurementPodVitals)
	if len(vitals) != 1 {
		t.Fatalf("pod_vitals points = %d, want 1 (right side has no readings)", len(vitals))
	}
	if _, ok := vitals[0].Fields["breathing_rate"]; ok {
		t.Error("nil breathing rate written")
	}
	if vitals[0].Fields["heart_rate"] != 55.0 {
		t.Errorf("heart_rate = %v", vitals[0].Fields["heart_rate"])
	}
}

func TestRecorderStartStop(t *testing.T) {
	r, cache, points, history := newTestRecorder(t)
	r.Start()

	cache.MarkBaseDetected()
	cache.MergeBase(device.Base{Detected: true, HeadAngle: 30, FeetAngle: 15})
	cache.Notifier().Flush()

	waitFor(t, "base history row", func() bool { return len(history.recorded()) > 0 })
	r.Stop()
	r.Stop()

	base := points.byMeasurement(influxdb.MeasurementPodBase)
	if len(base) != 1 || base[0].Fields["preset"] != string(device.PresetRelax) {
		t.Errorf("base points = %+v", base)
	}
}
