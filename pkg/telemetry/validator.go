// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import "fmt"

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	ANOMALY_INVALID_TEMP AnomalyType = iota
	ANOMALY_PARSE_FAILURE
)

// Physically plausible range for a Peltier module's sensors
const (
	MinPlausibleTemp = -40.0
	MaxPlausibleTemp = 125.0
)

// ValidationError represents a telemetry validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateReading detects anomalies in a parsed line. Anomalous values are
// still stored; the result is for reporting only.
func ValidateReading(r Reading) []ValidationError {
	errors := []ValidationError{}

	for _, f := range r.Failures {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_PARSE_FAILURE,
			Message: fmt.Sprintf("%s: unparseable value %q", f.Key, f.Value),
			Details: map[string]interface{}{"key": f.Key, "value": f.Value},
		})
	}

	for _, fv := range r.Fields {
		if fv.Value < MinPlausibleTemp || fv.Value > MaxPlausibleTemp {
			errors = append(errors, ValidationError{
				Type: ANOMALY_INVALID_TEMP,
				Message: fmt.Sprintf("%s: Out of range (%.2f°C, valid: %.0f to %.0f°C)",
					fv.Key, fv.Value, MinPlausibleTemp, MaxPlausibleTemp),
				Details: map[string]interface{}{"key": fv.Key, "value": fv.Value, "min": MinPlausibleTemp, "max": MaxPlausibleTemp},
			})
		}
	}

	return errors
}
