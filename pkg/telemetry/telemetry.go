// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry parses the comma-separated key:value status lines sent by
// the temperature-control boards and tracks per-device telemetry.
package telemetry

import "time"

// Known telemetry keys
const (
	KeySkinTemperature     = "Skin_Temp_Smoothed"
	KeyExteriorTemperature = "Exterior_Temp"
)

// Telemetry is the latest known state of one device. Nil fields have never
// been reported.
type Telemetry struct {
	SkinTemperature     *float64  `json:"skin_temperature,omitempty"`
	ExteriorTemperature *float64  `json:"exterior_temperature,omitempty"`
	UpdatedAt           time.Time `json:"updated_at,omitzero"`
}

// field binds a wire key to a Telemetry field
type field struct {
	set func(t *Telemetry, v float64)
	get func(t Telemetry) *float64
}

// New keys are added here
var knownFields = map[string]field{
	KeySkinTemperature: {
		set: func(t *Telemetry, v float64) { t.SkinTemperature = &v },
		get: func(t Telemetry) *float64 { return t.SkinTemperature },
	},
	KeyExteriorTemperature: {
		set: func(t *Telemetry, v float64) { t.ExteriorTemperature = &v },
		get: func(t Telemetry) *float64 { return t.ExteriorTemperature },
	},
}

// IsKnownKey reports whether key is a recognised telemetry key
func IsKnownKey(key string) bool {
	_, ok := knownFields[key]
	return ok
}

// Value returns the stored value for key
func (t Telemetry) Value(key string) (float64, bool) {
	f, ok := knownFields[key]
	if !ok {
		return 0, false
	}
	v := f.get(t)
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Empty reports whether no field has ever been reported
func (t Telemetry) Empty() bool {
	for _, f := range knownFields {
		if f.get(t) != nil {
			return false
		}
	}
	return true
}

// Apply returns t updated with every successfully parsed field of r.
// Fields that failed to parse keep their prior value.
func (t Telemetry) Apply(r Reading) Telemetry {
	if len(r.Fields) == 0 {
		return t
	}
	for _, fv := range r.Fields {
		knownFields[fv.Key].set(&t, fv.Value)
	}
	t.UpdatedAt = r.Timestamp
	return t
}

// Equal reports whether both records hold the same values
func (t Telemetry) Equal(o Telemetry) bool {
	for _, f := range knownFields {
		a, b := f.get(t), f.get(o)
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}
