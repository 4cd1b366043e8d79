package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// TestParseLevel verifies level names are case-insensitive and unknown names fall back to INFO
func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarning, false},
		{"Warning", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseLevel(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

// TestSetLevel verifies the program level can be changed at runtime
func TestSetLevel(t *testing.T) {
	previous := GetLevel()
	defer SetLevel(previous)

	SetLevel(LevelError)
	if GetLevel() != LevelError {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelError)
	}
}

// TestCounters verifies counters advance regardless of sampling
func TestCounters(t *testing.T) {
	SetSampleRate(1000000)
	defer SetSampleRate(100)

	before := Snapshot()

	Warn("sampled warning")
	Error("sampled error")
	ErrorHttp5xx()
	WarnHttp4xx(400)
	WarnHttp4xx(404)
	WarnHttp4xx(409)
	CountEvaluation(false)
	CountEvaluation(true)
	CountRejectedEvaluation()

	after := Snapshot()
	want := map[string]int64{
		"errors":              2,
		"warnings":            4,
		"http5xx":             1,
		"http4xx":             3,
		"http400":             1,
		"http404":             1,
		"evaluations":         2,
		"debugEvaluations":    1,
		"rejectedEvaluations": 1,
	}
	for key, delta := range want {
		if got := after[key] - before[key]; got != delta {
			t.Errorf("%s advanced by %d, want %d", key, got, delta)
		}
	}
}

// TestConfigure verifies output format and level follow the options
func TestConfigure(t *testing.T) {
	defer Configure(context.Background(), Options{Output: os.Stderr})

	var buf bytes.Buffer
	if err := Configure(context.Background(), Options{Level: "warn", Output: &buf}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	Info("dropped")
	Logger.Warn("kept", "ruleSet", "onboarding")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not a single JSON record: %v\n%s", err, buf.String())
	}
	if record["msg"] != "kept" || record["ruleSet"] != "onboarding" {
		t.Errorf("record = %v", record)
	}

	buf.Reset()
	if err := Configure(context.Background(), Options{Format: "text", Output: &buf}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	Info("plain", "tenant", "acme")
	if !strings.Contains(buf.String(), "msg=plain tenant=acme") {
		t.Errorf("text output = %q", buf.String())
	}

	if err := Configure(context.Background(), Options{Format: "xml"}); err == nil {
		t.Error("Configure() should reject an unknown format")
	}
	if err := Configure(context.Background(), Options{Level: "loud"}); err == nil {
		t.Error("Configure() should reject an unknown level")
	}
}
