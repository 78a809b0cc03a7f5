// Package metrics derives display values from one device summary. There is
// no I/O and no side effects; all functions are safe to call from any
// goroutine.
package metrics

import (
	"math"
	"strconv"
	"strings"

	"github.com/sweeney/nut-monitor/internal/nut"
)

// Metrics holds values derived from a nut.Summary.
//
// JSON tags are the wire names used by the MQTT state topic and the
// computed/ topics. When adding a field, update Compute and AsTopicMap.
type Metrics struct {
	LoadWatts                float64 `json:"load_watts"`
	BatteryRuntimeMins       float64 `json:"battery_runtime_mins"`
	BatteryRuntimeHours      float64 `json:"battery_runtime_hours"`
	OnBattery                bool    `json:"on_battery"`
	LowBattery               bool    `json:"low_battery"`
	ReplaceBattery           bool    `json:"replace_battery"`
	StatusDisplay            string  `json:"status_display"`
	InputVoltageDeviationPct float64 `json:"input_voltage_deviation_pct"`
}

// AsTopicMap returns each metric as a name to string-payload pair.
func (m Metrics) AsTopicMap() map[string]string {
	return map[string]string{
		"load_watts":                  formatFloat(m.LoadWatts),
		"battery_runtime_mins":        formatFloat(m.BatteryRuntimeMins),
		"battery_runtime_hours":       formatFloat(m.BatteryRuntimeHours),
		"on_battery":                  strconv.FormatBool(m.OnBattery),
		"low_battery":                 strconv.FormatBool(m.LowBattery),
		"replace_battery":             strconv.FormatBool(m.ReplaceBattery),
		"status_display":              m.StatusDisplay,
		"input_voltage_deviation_pct": formatFloat(m.InputVoltageDeviationPct),
	}
}

// statusTokens maps ups.status tokens to human-readable labels.
var statusTokens = map[string]string{
	"OL":      "Online",
	"OB":      "On Battery",
	"LB":      "Low Battery",
	"HB":      "High Battery",
	"RB":      "Replace Battery",
	"CHRG":    "Charging",
	"DISCHRG": "Discharging",
	"BYPASS":  "Bypass",
	"CAL":     "Calibrating",
	"OFF":     "Offline",
	"OVER":    "Overloaded",
	"TRIM":    "Trimming",
	"BOOST":   "Boosting",
	"FSD":     "Forced Shutdown",
}

// Compute derives all metrics from s. Missing or unparseable variables
// produce zero values.
func Compute(s nut.Summary) Metrics {
	status := deref(s.Status)
	runtime, hasRuntime := parseFloat(deref(s.BatteryRuntimeSeconds))

	m := Metrics{
		LoadWatts:                loadWatts(s),
		OnBattery:                hasStatusToken(status, "OB"),
		LowBattery:               hasStatusToken(status, "LB"),
		ReplaceBattery:           hasStatusToken(status, "RB"),
		StatusDisplay:            StatusDisplay(status),
		InputVoltageDeviationPct: inputVoltageDeviationPct(s),
	}
	if hasRuntime {
		m.BatteryRuntimeMins = round2(runtime / 60)
		m.BatteryRuntimeHours = round2(runtime / 3600)
	}
	return m
}

// loadWatts prefers a directly reported ups.realpower and falls back to
// ups.load percent of ups.realpower.nominal.
func loadWatts(s nut.Summary) float64 {
	if w, ok := parseFloat(deref(s.RealPowerWatts)); ok {
		return round2(w)
	}
	load, ok := parseFloat(deref(s.LoadPercent))
	if !ok {
		return 0
	}
	nominal, ok := lookupFloat(s, "ups.realpower.nominal")
	if !ok {
		return 0
	}
	return round2(load / 100 * nominal)
}

func inputVoltageDeviationPct(s nut.Summary) float64 {
	voltage, ok := parseFloat(deref(s.InputVoltage))
	if !ok {
		return 0
	}
	nominal, ok := lookupFloat(s, "input.voltage.nominal")
	if !ok || nominal == 0 {
		return 0
	}
	return round2((voltage - nominal) / nominal * 100)
}

// StatusDisplay decodes a space-separated ups.status value, keeping unknown
// tokens verbatim: "OL CHRG" becomes "Online, Charging".
func StatusDisplay(status string) string {
	tokens := strings.Fields(status)
	if len(tokens) == 0 {
		return ""
	}
	decoded := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if name, ok := statusTokens[t]; ok {
			decoded = append(decoded, name)
		} else {
			decoded = append(decoded, t)
		}
	}
	return strings.Join(decoded, ", ")
}

// hasStatusToken reports whether the space-separated status string contains token.
func hasStatusToken(status, token string) bool {
	for _, t := range strings.Fields(status) {
		if t == token {
			return true
		}
	}
	return false
}

func lookupFloat(s nut.Summary, key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return parseFloat(v)
}

// ParseFloat converts a NUT value string to float64. It reports false for
// empty or unparseable strings.
func ParseFloat(s string) (float64, bool) {
	return parseFloat(s)
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatFloat returns the shortest decimal representation of v with no
// trailing zeros (72.0 -> "72", 1.37 -> "1.37").
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
