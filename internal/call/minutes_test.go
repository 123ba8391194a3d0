package call

import (
	"testing"
	"time"
)

func TestCurrentMinute(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{30 * time.Second, 1},
		{59 * time.Second, 1},
		{60 * time.Second, 2},
		{95 * time.Second, 2},
		{185 * time.Second, 4},
		{3 * time.Minute, 4},
	}
	for _, c := range cases {
		got := CurrentMinute(start, start.Add(c.elapsed))
		if got != c.want {
			t.Fatalf("CurrentMinute(%v elapsed) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestCurrentMinute_ClockSkewNeverBelowOne(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := CurrentMinute(start, start.Add(-5*time.Second)); got != 1 {
		t.Fatalf("expected 1 for negative elapsed, got %d", got)
	}
}

func TestTotalMinutes(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{1 * time.Second, 1},
		{60 * time.Second, 1},
		{61 * time.Second, 2},
		{95 * time.Second, 2},
		{185 * time.Second, 4},
		{4 * time.Minute, 4},
	}
	for _, c := range cases {
		got := TotalMinutes(start, start.Add(c.elapsed))
		if got != c.want {
			t.Fatalf("TotalMinutes(%v elapsed) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestElapsedSeconds(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := ElapsedSeconds(start, start.Add(95*time.Second)); got != 95 {
		t.Fatalf("expected 95, got %d", got)
	}
	if got := ElapsedSeconds(start, start.Add(-time.Second)); got != 0 {
		t.Fatalf("expected 0 for negative elapsed, got %d", got)
	}
}

func TestEndReasonValues(t *testing.T) {
	reasons := []EndReason{EndReasonNormal, EndReasonInsufficientFunds, EndReasonTimeout}
	for _, r := range reasons {
		if r == "" {
			t.Fatalf("expected non-empty end reason")
		}
	}
}
