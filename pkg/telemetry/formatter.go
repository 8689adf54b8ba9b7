// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"strings"
)

// FormatReading formats a parsed line into a human-readable string
func FormatReading(r Reading) string {
	timestamp := r.Timestamp.Format("15:04:05.000")

	if !r.OK() && len(r.Failures) == 0 {
		return fmt.Sprintf("[%s] %s (no telemetry)\n", timestamp, r.Device)
	}

	result := fmt.Sprintf("[%s] %s\n", timestamp, r.Device)
	for _, fv := range r.Fields {
		result += fmt.Sprintf("  %s: %.2f°C\n", fv.Key, fv.Value)
	}
	for _, f := range r.Failures {
		result += fmt.Sprintf("  %s: INVALID (%q)\n", f.Key, f.Value)
	}
	return result
}

// FormatTelemetry renders a telemetry record on one line
func FormatTelemetry(t Telemetry) string {
	parts := []string{
		"Skin " + formatTemp(t.SkinTemperature),
		"Exterior " + formatTemp(t.ExteriorTemperature),
	}
	return strings.Join(parts, "  ")
}

// FormatSkinTemperature renders the skin temperature, or N/A when unknown
func FormatSkinTemperature(t Telemetry) string {
	return formatTemp(t.SkinTemperature)
}

func formatTemp(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f°C", *v)
}

// FormatAnomaly renders the offending field of an anomaly from its details
func FormatAnomaly(v ValidationError) string {
	key, _ := v.Details["key"].(string)

	switch v.Type {
	case ANOMALY_INVALID_TEMP:
		value, _ := v.Details["value"].(float64)
		lo, _ := v.Details["min"].(float64)
		hi, _ := v.Details["max"].(float64)
		return fmt.Sprintf("%s=%.2f°C (valid: %.0f to %.0f°C)", key, value, lo, hi)
	case ANOMALY_PARSE_FAILURE:
		value, _ := v.Details["value"].(string)
		return fmt.Sprintf("%s=%q", key, value)
	default:
		return v.Message
	}
}
