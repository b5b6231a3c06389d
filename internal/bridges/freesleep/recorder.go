package freesleep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/influxdb"
)

// historyWriteTimeout bounds one history insert.
const historyWriteTimeout = 5 * time.Second

// PointWriter writes time-series points. *influxdb.Client implements it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// RecorderOptions holds configuration for creating a recorder.
type RecorderOptions struct {
	// Cache is the source of change signals and snapshots. Required.
	Cache *device.Cache

	// PodID tags every point and history row.
	PodID string

	// Points is optional. If nil, no telemetry is written.
	Points PointWriter

	// History is optional. If nil, no history rows are written.
	History device.HistoryRepository

	// Logger is optional.
	Logger Logger
}

// Recorder persists category changes.
//
// It subscribes to the cache's notifier and, for each signal, compares the
// category's content (freshness excluded) with the last one it saw. Only real
// changes produce a history row and, for confirmed poll results, telemetry
// points. A change whose LastUpdated did not move came from a command's
// optimistic merge and is recorded with source "command".
type Recorder struct {
	cache   *device.Cache
	podID   string
	points  PointWriter
	history device.HistoryRepository

	last        map[device.Category][]byte
	lastUpdated map[device.Category]time.Time

	sub      *device.Subscription
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logSink
}

// recordedCategories are the categories the recorder persists.
var recordedCategories = []device.Category{
	device.CategoryStatus,
	device.CategoryBase,
	device.CategoryVitals,
	device.CategorySettings,
}

// NewRecorder creates a recorder. Call Start to begin recording.
func NewRecorder(opts RecorderOptions) (*Recorder, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	r := &Recorder{
		cache:       opts.Cache,
		podID:       opts.PodID,
		points:      opts.Points,
		history:     opts.History,
		last:        make(map[device.Category][]byte),
		lastUpdated: make(map[device.Category]time.Time),
		done:        make(chan struct{}),
	}
	r.SetLogger(opts.Logger)
	return r, nil
}

// Start subscribes to the notifier and processes signals in the background.
func (r *Recorder) Start() {
	r.sub = r.cache.Notifier().Subscribe(recordedCategories...)

	r.wg.Add(1)
	go r.loop()
}

// Stop unsubscribes and waits for the current signal to finish.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if r.sub != nil {
			r.sub.Close()
		}
	})
}

func (r *Recorder) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case sig, ok := <-r.sub.C():
			if !ok {
				return
			}
			r.handle(sig.Category, r.cache.Snapshot())
		}
	}
}

// handle records one category if its content changed.
func (r *Recorder) handle(category device.Category, snap device.Snapshot) {
	f := snap.Freshness(category)
	if f == nil || !f.Loaded() {
		return
	}
	freshness := *f

	data, err := categoryContent(snap, category)
	if err != nil {
		r.logError("failed to encode category", err, "category", category)
		return
	}
	if bytes.Equal(r.last[category], data) {
		return
	}
	r.last[category] = data

	source := device.HistorySourceCommand
	if !freshness.LastUpdated.Equal(r.lastUpdated[category]) {
		source = device.HistorySourcePoll
		r.lastUpdated[category] = freshness.LastUpdated
	}

	if r.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		err := r.history.Record(ctx, r.podID, category, json.RawMessage(data), source)
		cancel()
		if err != nil {
			r.logError("failed to record state history", err, "category", category)
		}
	}

	if r.points != nil && source == device.HistorySourcePoll {
		r.writePoints(category, snap)
	}
}

// categoryContent encodes a category with its freshness zeroed.
func categoryContent(snap device.Snapshot, category device.Category) ([]byte, error) {
	*snap.Freshness(category) = device.Freshness{}
	v, err := snap.Category(category)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// writePoints emits the telemetry for one category.
func (r *Recorder) writePoints(category device.Category, snap device.Snapshot) {
	switch category {
	case device.CategoryStatus:
		for _, side := range device.Sides {
			s := snap.Status.Side(side)
			r.points.WritePoint(influxdb.MeasurementPodSide, r.tags(side), map[string]any{
				"current_temperature_f": s.CurrentTemperatureF,
				"target_temperature_f":  s.TargetTemperatureF,
				"on":                    s.IsOn,
				"seconds_remaining":     s.SecondsRemaining,
				"hvac_action":           string(device.HVACAction(*s)),
			})
		}

		fields := map[string]any{
			"is_priming":     snap.Status.IsPriming,
			"water_level_ok": snap.Status.WaterLevelOK,
		}
		if wl := snap.Status.WaterLevel; wl != nil {
			if pct, ok := device.WaterLevelPercent(*wl); ok {
				fields["water_level_percent"] = pct
			}
		}
		if rc := snap.Status.RoomClimate; rc != nil {
			if rc.TemperatureC != nil {
				fields["room_temperature_f"] = device.CelsiusToFahrenheit(*rc.TemperatureC)
			}
			if rc.Humidity != nil {
				fields["room_humidity"] = *rc.Humidity
			}
		}
		r.points.WritePoint(influxdb.MeasurementPodStatus, r.tags(""), fields)

	case device.CategoryBase:
		if !snap.Base.Detected {
			return
		}
		r.points.WritePoint(influxdb.MeasurementPodBase, r.tags(""), map[string]any{
			"head_angle": snap.Base.HeadAngle,
			"feet_angle": snap.Base.FeetAngle,
			"moving":     snap.Base.IsMoving,
			"preset":     string(device.ClassifyPreset(snap.Base.HeadAngle, snap.Base.FeetAngle)),
		})

	case device.CategoryVitals:
		for _, side := range device.Sides {
			v := snap.Vitals.Side(side)
			fields := make(map[string]any, 3)
			if v.HeartRate != nil {
				fields["heart_rate"] = *v.HeartRate
			}
			if v.HRV != nil {
				fields["hrv"] = *v.HRV
			}
			if v.BreathingRate != nil {
				fields["breathing_rate"] = *v.BreathingRate
			}
			if len(fields) > 0 {
				r.points.WritePoint(influxdb.MeasurementPodVitals, r.tags(side), fields)
			}
		}
	}
}

func (r *Recorder) tags(side device.Side) map[string]string {
	tags := map[string]string{"pod": r.podID}
	if side != "" {
		tags["side"] = string(side)
	}
	return tags
}
