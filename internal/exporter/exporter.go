// Package exporter exposes the latest poll snapshot as Prometheus metrics.
package exporter

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/nut-monitor/internal/metrics"
	"github.com/sweeney/nut-monitor/internal/monitor"
	"github.com/sweeney/nut-monitor/internal/nut"
)

const namespace = "nut"

// fieldGauge is one per-device gauge fed from a well-known summary field.
type fieldGauge struct {
	vec   *prometheus.GaugeVec
	value func(s nut.Summary) *string
}

// Exporter is a prometheus.Collector over the most recent snapshot. Update
// and MarkDown may be called from any goroutine; a scrape always sees one
// whole snapshot.
type Exporter struct {
	mu sync.Mutex

	up           prometheus.Gauge
	lastSnapshot prometheus.Gauge
	fields       []fieldGauge
	loadWatts    *prometheus.GaugeVec
	onBattery    *prometheus.GaugeVec
	lowBattery   *prometheus.GaugeVec
	info         *prometheus.GaugeVec
}

func newDeviceGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"ups"})
}

// New returns an exporter that reports nut_up 0 until the first snapshot.
func New() *Exporter {
	return &Exporter{
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the last poll produced a snapshot, 0 after a poll error",
		}),
		lastSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_snapshot_timestamp_seconds",
			Help:      "Capture time of the last snapshot (epoch seconds)",
		}),
		fields: []fieldGauge{
			{newDeviceGauge("battery_charge_percent", "Battery charge (%)"), func(s nut.Summary) *string { return s.BatteryChargePercent }},
			{newDeviceGauge("battery_runtime_seconds", "Estimated battery runtime (s)"), func(s nut.Summary) *string { return s.BatteryRuntimeSeconds }},
			{newDeviceGauge("battery_voltage_volts", "Battery voltage (V)"), func(s nut.Summary) *string { return s.BatteryVoltage }},
			{newDeviceGauge("input_voltage_volts", "Input voltage (V)"), func(s nut.Summary) *string { return s.InputVoltage }},
			{newDeviceGauge("output_voltage_volts", "Output voltage (V)"), func(s nut.Summary) *string { return s.OutputVoltage }},
			{newDeviceGauge("input_frequency_hertz", "Input frequency (Hz)"), func(s nut.Summary) *string { return s.InputFrequencyHertz }},
			{newDeviceGauge("output_frequency_hertz", "Output frequency (Hz)"), func(s nut.Summary) *string { return s.OutputFrequencyHertz }},
			{newDeviceGauge("ups_load_percent", "Load relative to nominal capacity (%)"), func(s nut.Summary) *string { return s.LoadPercent }},
			{newDeviceGauge("ups_realpower_watts", "Real power drawn, as reported by the device (W)"), func(s nut.Summary) *string { return s.RealPowerWatts }},
		},
		loadWatts:  newDeviceGauge("load_watts", "Real power drawn, reported or derived from load and nominal power (W)"),
		onBattery:  newDeviceGauge("on_battery", "1 if the UPS is running on battery"),
		lowBattery: newDeviceGauge("low_battery", "1 if the UPS reports a low battery"),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ups_info",
			Help:      "UPS identity",
		}, []string{"ups", "model", "mfr", "serial"}),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.collectors() {
		c.Collect(ch)
	}
}

func (e *Exporter) collectors() []prometheus.Collector {
	out := []prometheus.Collector{e.up, e.lastSnapshot, e.loadWatts, e.onBattery, e.lowBattery, e.info}
	for _, f := range e.fields {
		out = append(out, f.vec)
	}
	return out
}

// Update replaces every per-device series with the values in snap. Devices
// missing from snap disappear from the output; unparseable values are
// skipped.
func (e *Exporter) Update(snap monitor.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetDevices()
	for _, d := range snap.Devices {
		s, ok := snap.Summaries[d.Name]
		if !ok {
			continue
		}
		for _, f := range e.fields {
			if p := f.value(s); p != nil {
				if v, ok := metrics.ParseFloat(*p); ok {
					f.vec.WithLabelValues(d.Name).Set(v)
				}
			}
		}

		m := metrics.Compute(s)
		e.loadWatts.WithLabelValues(d.Name).Set(m.LoadWatts)
		e.onBattery.WithLabelValues(d.Name).Set(boolValue(m.OnBattery))
		e.lowBattery.WithLabelValues(d.Name).Set(boolValue(m.LowBattery))
		e.info.WithLabelValues(d.Name, deref(s.Model), deref(s.Manufacturer), deref(s.Serial)).Set(1)
	}
	e.up.Set(1)
	e.lastSnapshot.Set(float64(snap.Time.Unix()))
}

// MarkDown records a failed poll: nut_up drops to 0 and per-device readings
// are withdrawn so stale values are not scraped. The last snapshot time is
// kept.
func (e *Exporter) MarkDown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDevices()
	e.up.Set(0)
}

func (e *Exporter) resetDevices() {
	for _, f := range e.fields {
		f.vec.Reset()
	}
	e.loadWatts.Reset()
	e.onBattery.Reset()
	e.lowBattery.Reset()
	e.info.Reset()
}

// Registry returns a fresh registry holding e and nothing else.
func (e *Exporter) Registry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
