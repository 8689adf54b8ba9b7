// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		wantSkin     *float64
		wantExterior *float64
		wantFailures []string
	}{
		{
			name:         "both fields",
			line:         "Skin_Temp_Smoothed:12.12,Exterior_Temp:18.73",
			wantSkin:     ptr(12.12),
			wantExterior: ptr(18.73),
		},
		{
			name:     "whitespace around keys and values",
			line:     "  Skin_Temp_Smoothed : -3.5 , Exterior_Temp:  ",
			wantSkin: ptr(-3.5),
			wantFailures: []string{
				KeyExteriorTemperature,
			},
		},
		{
			name:         "malformed value",
			line:         "Skin_Temp_Smoothed:abc",
			wantFailures: []string{KeySkinTemperature},
		},
		{
			name:         "malformed does not abort the rest",
			line:         "Skin_Temp_Smoothed:abc,Exterior_Temp:20",
			wantExterior: ptr(20),
			wantFailures: []string{KeySkinTemperature},
		},
		{
			name:     "unknown keys ignored",
			line:     "Fan_RPM:1200,Skin_Temp_Smoothed:30",
			wantSkin: ptr(30),
		},
		{
			name: "no colon",
			line: "PONG",
		},
		{
			name:         "non-finite rejected",
			line:         "Skin_Temp_Smoothed:NaN",
			wantFailures: []string{KeySkinTemperature},
		},
		{
			name: "empty line",
			line: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse("A", tt.line)
			got := Telemetry{}.Apply(r)

			assertTemp(t, "skin", got.SkinTemperature, tt.wantSkin)
			assertTemp(t, "exterior", got.ExteriorTemperature, tt.wantExterior)

			if len(r.Failures) != len(tt.wantFailures) {
				t.Fatalf("failures = %v, want keys %v", r.Failures, tt.wantFailures)
			}
			for i, key := range tt.wantFailures {
				if r.Failures[i].Key != key {
					t.Errorf("failure[%d].Key = %q, want %q", i, r.Failures[i].Key, key)
				}
				if r.Failures[i].Device != "A" {
					t.Errorf("failure[%d].Device = %q, want A", i, r.Failures[i].Device)
				}
			}
		})
	}
}

func TestApply_FailureKeepsPriorValue(t *testing.T) {
	tel := Telemetry{}.Apply(Parse("A", "Skin_Temp_Smoothed:12.12"))
	if tel.SkinTemperature == nil || *tel.SkinTemperature != 12.12 {
		t.Fatalf("skin = %v, want 12.12", tel.SkinTemperature)
	}

	r := Parse("A", "Skin_Temp_Smoothed:abc")
	if len(r.Failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(r.Failures))
	}
	if !errors.Is(r.Failures[0], strconv.ErrSyntax) {
		t.Errorf("failure error = %v, want ErrSyntax", r.Failures[0].Err)
	}

	after := tel.Apply(r)
	if after.SkinTemperature == nil || *after.SkinTemperature != 12.12 {
		t.Errorf("skin after failure = %v, want 12.12", after.SkinTemperature)
	}
	if !after.UpdatedAt.Equal(tel.UpdatedAt) {
		t.Error("UpdatedAt changed on a line with no parsed fields")
	}
}

func TestTelemetry_ValueAndEqual(t *testing.T) {
	a := Telemetry{}.Apply(Parse("A", "Skin_Temp_Smoothed:1,Exterior_Temp:2"))
	b := Telemetry{}.Apply(Parse("A", "Exterior_Temp:2,Skin_Temp_Smoothed:1"))

	if !a.Equal(b) {
		t.Error("equal records reported different")
	}
	if v, ok := a.Value(KeyExteriorTemperature); !ok || v != 2 {
		t.Errorf("Value(exterior) = %v, %v", v, ok)
	}
	if _, ok := a.Value("Fan_RPM"); ok {
		t.Error("Value(unknown) reported ok")
	}
	if !(Telemetry{}).Empty() || a.Empty() {
		t.Error("Empty() wrong")
	}
	if a.Equal(Telemetry{}) {
		t.Error("populated record equal to empty")
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines("Skin_Temp_Smoothed:1\r\n\r\nExterior_Temp:2\nPONG")
	want := []string{"Skin_Temp_Smoothed:1", "Exterior_Temp:2", "PONG"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("SplitLines() = %q, want %q", got, want)
	}
}

func TestValidateReading(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		types []AnomalyType
	}{
		{"plausible", "Skin_Temp_Smoothed:25,Exterior_Temp:-10", nil},
		{"too hot", "Skin_Temp_Smoothed:130", []AnomalyType{ANOMALY_INVALID_TEMP}},
		{"too cold", "Exterior_Temp:-41", []AnomalyType{ANOMALY_INVALID_TEMP}},
		{"parse failure", "Skin_Temp_Smoothed:x", []AnomalyType{ANOMALY_PARSE_FAILURE}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateReading(Parse("ESP1", tt.line))
			if len(errs) != len(tt.types) {
				t.Fatalf("ValidateReading() = %v, want %d anomalies", errs, len(tt.types))
			}
			for i, typ := range tt.types {
				if errs[i].Type != typ {
					t.Errorf("anomaly[%d].Type = %v, want %v", i, errs[i].Type, typ)
				}
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()

	for _, line := range []string{
		"Skin_Temp_Smoothed:25",
		"Skin_Temp_Smoothed:200",
		"Skin_Temp_Smoothed:abc",
		"PONG",
	} {
		r := Parse("ESP1", line)
		s.Update(r, ValidateReading(r))
	}

	if s.TotalLines != 4 {
		t.Errorf("TotalLines = %d, want 4", s.TotalLines)
	}
	if s.ParsedLines != 2 {
		t.Errorf("ParsedLines = %d, want 2", s.ParsedLines)
	}
	if s.IgnoredLines != 1 {
		t.Errorf("IgnoredLines = %d, want 1", s.IgnoredLines)
	}
	if s.FieldFailures != 1 {
		t.Errorf("FieldFailures = %d, want 1", s.FieldFailures)
	}
	if s.InvalidTemp != 1 || s.AnomalousValues != 1 {
		t.Errorf("InvalidTemp = %d, AnomalousValues = %d, want 1, 1", s.InvalidTemp, s.AnomalousValues)
	}

	summary := s.String()
	if !strings.Contains(summary, "Total Lines:") || !strings.Contains(summary, "Invalid Temp:") {
		t.Errorf("String() missing sections:\n%s", summary)
	}

	s.Reset()
	if s.TotalLines != 0 || s.FieldFailures != 0 {
		t.Error("Reset() did not clear counters")
	}
}

func TestFormatters(t *testing.T) {
	tel := Telemetry{}.Apply(Parse("ESP1", "Skin_Temp_Smoothed:12.12"))
	if got := FormatTelemetry(tel); got != "Skin 12.12°C  Exterior N/A" {
		t.Errorf("FormatTelemetry() = %q", got)
	}
	if got := FormatSkinTemperature(Telemetry{}); got != "N/A" {
		t.Errorf("FormatSkinTemperature(empty) = %q", got)
	}

	out := FormatReading(Parse("ESP1", "Skin_Temp_Smoothed:12.12,Exterior_Temp:bad"))
	if !strings.Contains(out, "Skin_Temp_Smoothed: 12.12°C") || !strings.Contains(out, "Exterior_Temp: INVALID") {
		t.Errorf("FormatReading() = %q", out)
	}
	if out := FormatReading(Parse("ESP1", "PONG")); !strings.Contains(out, "(no telemetry)") {
		t.Errorf("FormatReading(PONG) = %q", out)
	}
}

func TestFormatAnomaly(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"too hot", "Skin_Temp_Smoothed:130", "Skin_Temp_Smoothed=130.00°C (valid: -40 to 125°C)"},
		{"too cold", "Exterior_Temp:-41.5", "Exterior_Temp=-41.50°C (valid: -40 to 125°C)"},
		{"parse failure", "Skin_Temp_Smoothed:abc", `Skin_Temp_Smoothed="abc"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateReading(Parse("ESP1", tt.line))
			if len(errs) != 1 {
				t.Fatalf("ValidateReading() = %v, want 1 anomaly", errs)
			}
			if got := FormatAnomaly(errs[0]); got != tt.want {
				t.Errorf("FormatAnomaly() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := FormatAnomaly(ValidationError{Type: AnomalyType(99), Message: "other"}); got != "other" {
		t.Errorf("FormatAnomaly(unknown) = %q, want message", got)
	}
}

func ptr(v float64) *float64 { return &v }

func assertTemp(t *testing.T, name string, got, want *float64) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("%s = %v, want unset", name, *got)
	case want != nil && got == nil:
		t.Errorf("%s unset, want %v", name, *want)
	case want != nil && *got != *want:
		t.Errorf("%s = %v, want %v", name, *got, *want)
	}
}
