// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"time"
)

// Statistics tracks line statistics and error rates for one device
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalLines      uint64
	ParsedLines     uint64
	IgnoredLines    uint64
	FieldFailures   uint64
	AnomalousValues uint64
	InvalidTemp     uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a reading and its anomalies
func (s *Statistics) Update(r Reading, anomalies []ValidationError) {
	s.TotalLines++

	switch {
	case r.OK():
		s.ParsedLines++
	case len(r.Failures) == 0:
		// Nothing recognised, e.g. a PING reply or boot banner
		s.IgnoredLines++
	}

	for _, a := range anomalies {
		switch a.Type {
		case ANOMALY_PARSE_FAILURE:
			s.FieldFailures++
		case ANOMALY_INVALID_TEMP:
			s.InvalidTemp++
			s.AnomalousValues++
		}
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates line and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.TotalLines) / elapsed
		s.ErrorRate = float64(s.FieldFailures+s.AnomalousValues) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var parsedPercent, ignoredPercent float64
	if s.TotalLines > 0 {
		parsedPercent = float64(s.ParsedLines) * 100.0 / float64(s.TotalLines)
		ignoredPercent = float64(s.IgnoredLines) * 100.0 / float64(s.TotalLines)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Lines:     %8d\n", s.TotalLines)
	result += fmt.Sprintf("Parsed Lines:    %8d (%.1f%%)\n", s.ParsedLines, parsedPercent)

	if s.IgnoredLines > 0 {
		result += fmt.Sprintf("Ignored Lines:   %8d (%.1f%%)\n", s.IgnoredLines, ignoredPercent)
	}
	if s.FieldFailures > 0 {
		result += fmt.Sprintf("Field Failures:  %8d\n", s.FieldFailures)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d\n", s.AnomalousValues)
		if s.InvalidTemp > 0 {
			result += fmt.Sprintf("  Invalid Temp:     %5d\n", s.InvalidTemp)
		}
	}

	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", s.LineRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
