// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotFinite is reported for NaN and infinite values
var ErrNotFinite = errors.New("value is not finite")

// FieldError is a recognised key whose value failed to parse
type FieldError struct {
	Device string
	Key    string
	Value  string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid value %q for %s: %v", e.Device, e.Value, e.Key, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// FieldValue is one successfully parsed field
type FieldValue struct {
	Key   string
	Value float64
}

// Reading is the result of parsing one status line
type Reading struct {
	Device    string
	Timestamp time.Time
	Fields    []FieldValue
	Failures  []*FieldError
}

// OK reports whether at least one field parsed
func (r Reading) OK() bool {
	return len(r.Fields) > 0
}

// Parse parses a line of the form key1:value1,key2:value2 for device.
// Unknown keys and tokens without a colon are ignored. A malformed value
// fails only its own field.
func Parse(device, line string) Reading {
	r := Reading{
		Device:    device,
		Timestamp: time.Now(),
	}

	for _, token := range strings.Split(line, ",") {
		key, value, found := strings.Cut(token, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if !IsKnownKey(key) {
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = ErrNotFinite
		}
		if err != nil {
			var numErr *strconv.NumError
			if errors.As(err, &numErr) {
				err = numErr.Err
			}
			r.Failures = append(r.Failures, &FieldError{
				Device: device,
				Key:    key,
				Value:  value,
				Err:    err,
			})
			continue
		}

		r.Fields = append(r.Fields, FieldValue{Key: key, Value: v})
	}

	return r
}

// SplitLines splits a received chunk into non-empty trimmed lines
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
