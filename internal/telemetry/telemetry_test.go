package telemetry

import (
	"context"
	"testing"
)

func TestSetupDisabledForcesModeOff(t *testing.T) {
	runtime, err := Setup(Config{Enabled: false, TraceMode: "detailed"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer runtime.Shutdown(context.Background())

	if TraceMode() != "off" {
		t.Fatalf("TraceMode() = %q, want off when telemetry is disabled", TraceMode())
	}
	if ShouldTraceDependencies() {
		t.Fatal("ShouldTraceDependencies() = true with telemetry disabled")
	}
}

func TestSetupDetailedEnablesDependencySpans(t *testing.T) {
	runtime, err := Setup(Config{Enabled: true, ServiceName: "org-pulse-test", TraceMode: "detailed"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer runtime.Shutdown(context.Background())

	if !ShouldTraceDependencies() {
		t.Fatal("ShouldTraceDependencies() = false in detailed mode")
	}
	if runtime.TracerProvider == nil {
		t.Fatal("TracerProvider is nil")
	}
}

func TestNormalizeTraceMode(t *testing.T) {
	testCases := []struct {
		raw  string
		want string
	}{
		{"off", "off"},
		{"errors", "errors"},
		{"sampled", "sampled"},
		{"detailed", "detailed"},
		{" Detailed ", "detailed"},
		{"", "sampled"},
		{"bogus", "sampled"},
	}

	for _, tc := range testCases {
		if got := normalizeTraceMode(tc.raw); got != tc.want {
			t.Errorf("normalizeTraceMode(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestClampRatio(t *testing.T) {
	testCases := []struct {
		ratio float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.25, 0.25},
		{1, 1},
		{7, 1},
	}

	for _, tc := range testCases {
		if got := clampRatio(tc.ratio); got != tc.want {
			t.Errorf("clampRatio(%v) = %v, want %v", tc.ratio, got, tc.want)
		}
	}
}
