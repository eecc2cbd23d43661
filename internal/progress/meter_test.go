package progress

import (
	"testing"
	"time"
)

func TestMeterRateAndETA(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(2000)

	now = now.Add(1 * time.Second)
	if done := m.Add(1000); done != 1000 {
		t.Fatalf("expected cumulative 1000, got %d", done)
	}

	stats := m.Snapshot()
	if stats.BytesDone != 1000 {
		t.Fatalf("expected bytes done 1000, got %d", stats.BytesDone)
	}
	if stats.RateBps < 900 || stats.RateBps > 1100 {
		t.Fatalf("expected rate around 1000 B/s, got %.2f", stats.RateBps)
	}
	if stats.ETA < 900*time.Millisecond || stats.ETA > 1100*time.Millisecond {
		t.Fatalf("expected ETA around 1s, got %s", stats.ETA)
	}
	if stats.AvgBps < 999 || stats.AvgBps > 1001 {
		t.Fatalf("expected average 1000 B/s, got %.2f", stats.AvgBps)
	}
}

func TestMeterEWMASmoothing(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(10000)

	now = now.Add(1 * time.Second)
	m.Add(1000)

	now = now.Add(1 * time.Second)
	m.Add(3000)

	stats := m.Snapshot()
	if stats.RateBps < 1300 || stats.RateBps > 1500 {
		t.Fatalf("expected smoothed rate around 1400 B/s, got %.2f", stats.RateBps)
	}
}

func TestMeterUnknownTotal(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(-1)

	now = now.Add(2 * time.Second)
	m.Add(40)

	stats := m.Snapshot()
	if stats.Total != -1 {
		t.Fatalf("expected unknown total, got %d", stats.Total)
	}
	if stats.ETA != 0 {
		t.Fatalf("expected no ETA, got %s", stats.ETA)
	}
	if stats.Elapsed != 2*time.Second {
		t.Fatalf("expected 2s elapsed, got %s", stats.Elapsed)
	}
}

func TestMeterIgnoresNonPositive(t *testing.T) {
	m := NewMeter()
	m.Start(10)
	m.Add(0)
	m.Add(-3)
	if got := m.Snapshot().BytesDone; got != 0 {
		t.Fatalf("expected 0 bytes, got %d", got)
	}
}
