package metrics

import (
	"testing"

	"github.com/sweeney/nut-monitor/internal/nut"
)

// sampleVars mirrors the LIST VAR output of a CyberPower line-interactive unit.
var sampleVars = map[string]string{
	"ups.load":              "8",
	"ups.realpower.nominal": "900",
	"battery.runtime":       "4920",
	"input.voltage":         "242.0",
	"input.voltage.nominal": "230",
	"ups.status":            "OL",
}

func compute(vars map[string]string) Metrics {
	return Compute(nut.Summarize("ups", vars))
}

// ---- LoadWatts ------------------------------------------------------------

func TestLoadWatts(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want float64
	}{
		{"from load and nominal", sampleVars, 72},
		{"reported directly", map[string]string{"ups.realpower": "133.5", "ups.load": "8", "ups.realpower.nominal": "900"}, 133.5},
		{"unparseable realpower falls back", map[string]string{"ups.realpower": "n/a", "ups.load": "10", "ups.realpower.nominal": "500"}, 50},
		{"missing load", map[string]string{"ups.realpower.nominal": "900"}, 0},
		{"missing nominal", map[string]string{"ups.load": "8"}, 0},
		{"bad load", map[string]string{"ups.load": "bad", "ups.realpower.nominal": "900"}, 0},
		{"bad nominal", map[string]string{"ups.load": "8", "ups.realpower.nominal": "bad"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compute(tt.vars).LoadWatts; got != tt.want {
				t.Errorf("LoadWatts = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---- battery runtime ------------------------------------------------------

func TestBatteryRuntime(t *testing.T) {
	tests := []struct {
		name        string
		runtime     string
		mins, hours float64
	}{
		{"sample", "4920", 82, 1.37},
		{"one hour", "3600", 60, 1},
		{"rounded", "100", 1.67, 0.03},
		{"zero", "0", 0, 0},
		{"bad", "notanumber", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := compute(map[string]string{"battery.runtime": tt.runtime})
			if m.BatteryRuntimeMins != tt.mins || m.BatteryRuntimeHours != tt.hours {
				t.Errorf("runtime = %v mins / %v hours, want %v / %v",
					m.BatteryRuntimeMins, m.BatteryRuntimeHours, tt.mins, tt.hours)
			}
		})
	}

	if m := compute(map[string]string{}); m.BatteryRuntimeMins != 0 || m.BatteryRuntimeHours != 0 {
		t.Errorf("missing battery.runtime gave %+v", m)
	}
}

// ---- status flags ---------------------------------------------------------

func TestStatusFlags(t *testing.T) {
	tests := []struct {
		status               string
		onBatt, low, replace bool
	}{
		{"OL", false, false, false},
		{"OB DISCHRG", true, false, false},
		{"OB LB", true, true, false},
		{"OL RB", false, false, true},
		{"OLB", false, false, false}, // tokens match whole words only
		{"", false, false, false},
	}
	for _, tt := range tests {
		m := compute(map[string]string{"ups.status": tt.status})
		if m.OnBattery != tt.onBatt || m.LowBattery != tt.low || m.ReplaceBattery != tt.replace {
			t.Errorf("status %q: on=%v low=%v replace=%v, want %v %v %v",
				tt.status, m.OnBattery, m.LowBattery, m.ReplaceBattery, tt.onBatt, tt.low, tt.replace)
		}
	}
}

func TestStatusDisplay(t *testing.T) {
	tests := map[string]string{
		"OL":           "Online",
		"OL CHRG":      "Online, Charging",
		"OB DISCHRG":   "On Battery, Discharging",
		"OB LB FSD":    "On Battery, Low Battery, Forced Shutdown",
		"OL WEIRDFLAG": "Online, WEIRDFLAG",
		"  OL   TRIM ": "Online, Trimming",
		"":             "",
	}
	for in, want := range tests {
		if got := StatusDisplay(in); got != want {
			t.Errorf("StatusDisplay(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusDisplay_AllKnownTokens(t *testing.T) {
	for token, name := range statusTokens {
		if got := StatusDisplay(token); got != name {
			t.Errorf("StatusDisplay(%q) = %q, want %q", token, got, name)
		}
	}
}

// ---- InputVoltageDeviationPct ---------------------------------------------

func TestInputVoltageDeviationPct(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want float64
	}{
		{"above nominal", sampleVars, 5.22},
		{"below nominal", map[string]string{"input.voltage": "218.5", "input.voltage.nominal": "230"}, -5},
		{"exact", map[string]string{"input.voltage": "230", "input.voltage.nominal": "230"}, 0},
		{"zero nominal", map[string]string{"input.voltage": "230", "input.voltage.nominal": "0"}, 0},
		{"missing nominal", map[string]string{"input.voltage": "230"}, 0},
		{"missing voltage", map[string]string{"input.voltage.nominal": "230"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compute(tt.vars).InputVoltageDeviationPct; got != tt.want {
				t.Errorf("deviation = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---- AsTopicMap -----------------------------------------------------------

func TestAsTopicMap(t *testing.T) {
	got := compute(sampleVars).AsTopicMap()
	want := map[string]string{
		"load_watts":                  "72",
		"battery_runtime_mins":        "82",
		"battery_runtime_hours":       "1.37",
		"on_battery":                  "false",
		"low_battery":                 "false",
		"replace_battery":             "false",
		"status_display":              "Online",
		"input_voltage_deviation_pct": "5.22",
	}
	if len(got) != len(want) {
		t.Errorf("AsTopicMap has %d keys, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("AsTopicMap[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestCompute_EmptySummary(t *testing.T) {
	if m := Compute(nut.Summary{Name: "ups"}); m != (Metrics{}) {
		t.Errorf("Compute(empty) = %+v, want zero value", m)
	}
}

func TestParseFloat(t *testing.T) {
	if v, ok := ParseFloat(" 12.5 "); !ok || v != 12.5 {
		t.Errorf("ParseFloat(\" 12.5 \") = %v, %v", v, ok)
	}
	for _, in := range []string{"", "abc", "1,5"} {
		if _, ok := ParseFloat(in); ok {
			t.Errorf("ParseFloat(%q) reported ok", in)
		}
	}
}
