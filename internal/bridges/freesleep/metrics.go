package freesleep

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Poll and command outcomes used as metric labels.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics is a prometheus collector for one pod.
//
// Counters are fed by the coordinator and gateway; gauges are refreshed from
// the cache snapshot on every scrape. All methods are safe on a nil receiver
// so callers may run without metrics.
type Metrics struct {
	cache *device.Cache
	podID string

	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	commands     *prometheus.CounterVec

	available           prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	stale               *prometheus.GaugeVec
	lastUpdated         *prometheus.GaugeVec
	temperature         *prometheus.GaugeVec
	powerOn             *prometheus.GaugeVec
	waterLevel          prometheus.Gauge
	baseAngle           *prometheus.GaugeVec
}

// NewMetrics creates the collector. Register it on a prometheus registry.
func NewMetrics(cache *device.Cache, podID string) *Metrics {
	constLabels := prometheus.Labels{"pod": podID}
	return &Metrics{
		cache: cache,
		podID: podID,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "freesleep_polls_total",
			Help:        "Pod reads by category and outcome",
			ConstLabels: constLabels,
		}, []string{"category", "outcome"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "freesleep_poll_duration_seconds",
			Help:        "Pod read latency by category",
			ConstLabels: constLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"category"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "freesleep_commands_total",
			Help:        "Commands by kind and result code (empty code = success)",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome", "code"}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "freesleep_pod_available",
			Help:        "1 while the pod answers status polls",
			ConstLabels: constLabels,
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "freesleep_status_consecutive_failures",
			Help:        "Consecutive failed status polls",
			ConstLabels: constLabels,
		}),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "freesleep_category_stale",
			Help:        "1 if the last poll for the category failed",
			ConstLabels: constLabels,
		}, []string{"category"}),
		lastUpdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "freesleep_category_last_update_timestamp_seconds",
			Help:        "Last successful merge per category (epoch seconds)",
			ConstLabels: constLabels,
		}, []string{"category"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "freesleep_temperature_fahrenheit",
			Help:        "Side temperature (current or target)",
			ConstLabels: constLabels,
		}, []string{"side", "kind"}),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "freesleep_side_on",
			Help:        "1 if the side is powered on",
			ConstLabels: constLabels,
		}, []string{"side"}),
		waterLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "freesleep_water_level_percent",
			Help:        "Derived water level",
			ConstLabels: constLabels,
		}),
		baseAngle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "freesleep_base_angle_degrees",
			Help:        "Adjustable base angle",
			ConstLabels: constLabels,
		}, []string{"part"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.polls,
		m.pollDuration,
		m.commands,
		m.available,
		m.consecutiveFailures,
		m.stale,
		m.lastUpdated,
		m.temperature,
		m.powerOn,
		m.waterLevel,
		m.baseAngle,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.refresh()
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ObservePoll records one pod read.
func (m *Metrics) ObservePoll(category device.Category, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.polls.WithLabelValues(string(category), outcome).Inc()
	m.pollDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
}

// ObserveCommand records one executed command.
func (m *Metrics) ObserveCommand(kind Kind, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.commands.WithLabelValues(string(kind), outcome, ErrorCode(err)).Inc()
}

// refresh copies snapshot values into the gauges.
func (m *Metrics) refresh() {
	if m.cache == nil {
		return
	}
	snap := m.cache.Snapshot()

	m.available.Set(boolGauge(snap.Available))
	m.consecutiveFailures.Set(float64(snap.ConsecutiveFailures))

	for _, category := range device.Categories {
		f := snap.Freshness(category)
		m.stale.WithLabelValues(string(category)).Set(boolGauge(f.Stale))
		if f.Loaded() {
			m.lastUpdated.WithLabelValues(string(category)).Set(float64(f.LastUpdated.Unix()))
		}
	}

	if snap.Status.Loaded() {
		for _, side := range device.Sides {
			s := snap.Status.Side(side)
			m.temperature.WithLabelValues(string(side), "current").Set(s.CurrentTemperatureF)
			m.temperature.WithLabelValues(string(side), "target").Set(float64(s.TargetTemperatureF))
			m.powerOn.WithLabelValues(string(side)).Set(boolGauge(s.IsOn))
		}
	}
	if snap.Status.WaterLevel != nil {
		if pct, ok := device.WaterLevelPercent(*snap.Status.WaterLevel); ok {
			m.waterLevel.Set(pct)
		}
	}
	if snap.Base.Detected {
		m.baseAngle.WithLabelValues("head").Set(snap.Base.HeadAngle)
		m.baseAngle.WithLabelValues("feet").Set(snap.Base.FeetAngle)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
