package nut

import "sort"

// Summary is the structured view of one LIST VAR response. Each named
// field is nil when the device does not report the variable; every other
// variable lands in Extra, sorted by name.
type Summary struct {
	Name string

	Status       *string // ups.status
	Model        *string // ups.model
	Manufacturer *string // ups.mfr
	Serial       *string // ups.serial
	Type         *string // ups.type

	LoadPercent    *string // ups.load
	RealPowerWatts *string // ups.realpower

	BatteryChargePercent  *string // battery.charge
	BatteryRuntimeSeconds *string // battery.runtime
	BatteryVoltage        *string // battery.voltage

	InputVoltage         *string // input.voltage
	OutputVoltage        *string // output.voltage
	InputFrequencyHertz  *string // input.frequency
	OutputFrequencyHertz *string // output.frequency

	Extra []Variable
}

// fields maps each well-known variable to its slot in s. The order here is
// the order Vars and callers iterating well-known keys see.
func (s *Summary) fields() []struct {
	key string
	ptr **string
} {
	return []struct {
		key string
		ptr **string
	}{
		{"ups.status", &s.Status},
		{"ups.model", &s.Model},
		{"ups.mfr", &s.Manufacturer},
		{"ups.serial", &s.Serial},
		{"ups.type", &s.Type},
		{"ups.load", &s.LoadPercent},
		{"ups.realpower", &s.RealPowerWatts},
		{"battery.charge", &s.BatteryChargePercent},
		{"battery.runtime", &s.BatteryRuntimeSeconds},
		{"battery.voltage", &s.BatteryVoltage},
		{"input.voltage", &s.InputVoltage},
		{"output.voltage", &s.OutputVoltage},
		{"input.frequency", &s.InputFrequencyHertz},
		{"output.frequency", &s.OutputFrequencyHertz},
	}
}

// Summarize projects vars into a Summary. vars is not modified.
func Summarize(name string, vars map[string]string) Summary {
	s := Summary{Name: name}
	taken := 0
	for _, f := range s.fields() {
		if v, ok := vars[f.key]; ok {
			v := v
			*f.ptr = &v
			taken++
		}
	}

	s.Extra = make([]Variable, 0, len(vars)-taken)
	for k, v := range vars {
		if !isWellKnown(k) {
			s.Extra = append(s.Extra, Variable{Name: k, Value: v})
		}
	}
	sort.Slice(s.Extra, func(i, j int) bool { return s.Extra[i].Name < s.Extra[j].Name })
	return s
}

// Vars rebuilds the name to value table the summary was projected from.
func (s Summary) Vars() map[string]string {
	m := make(map[string]string, len(s.Extra)+len(wellKnown))
	for _, f := range s.fields() {
		if *f.ptr != nil {
			m[f.key] = **f.ptr
		}
	}
	for _, v := range s.Extra {
		m[v.Name] = v.Value
	}
	return m
}

// Get returns the value of any variable, named field or extra.
func (s Summary) Get(key string) (string, bool) {
	for _, f := range s.fields() {
		if f.key == key {
			if *f.ptr == nil {
				return "", false
			}
			return **f.ptr, true
		}
	}
	i := sort.Search(len(s.Extra), func(i int) bool { return s.Extra[i].Name >= key })
	if i < len(s.Extra) && s.Extra[i].Name == key {
		return s.Extra[i].Value, true
	}
	return "", false
}

var wellKnown = func() map[string]bool {
	var s Summary
	m := make(map[string]bool)
	for _, f := range s.fields() {
		m[f.key] = true
	}
	return m
}()

func isWellKnown(key string) bool {
	return wellKnown[key]
}
