package bench

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBenchEWMAAndPeak(t *testing.T) {
	b := NewBench()
	start := time.Unix(0, 0)

	snap := b.Tick(start, 0, 100)
	if snap.InstMBps != 0 {
		t.Fatalf("expected zero inst, got %.2f", snap.InstMBps)
	}

	snap = b.Tick(start.Add(1*time.Second), 100*mib, 200*mib)
	if snap.InstMBps < 99 || snap.InstMBps > 101 {
		t.Fatalf("unexpected inst %.2f", snap.InstMBps)
	}
	if snap.PeakMBps < snap.InstMBps {
		t.Fatalf("peak should be >= inst")
	}

	prevEWMA := snap.EwmaMBps
	snap = b.Tick(start.Add(2*time.Second), 150*mib, 200*mib)
	if snap.EwmaMBps <= 0 || snap.EwmaMBps > prevEWMA {
		t.Fatalf("unexpected ewma %.2f", snap.EwmaMBps)
	}
	if snap.PeakMBps < 99 {
		t.Fatalf("peak should hold, got %.2f", snap.PeakMBps)
	}
}

func TestBenchTTFBFreeze(t *testing.T) {
	b := NewBench()
	start := time.Unix(0, 0)
	_ = b.Tick(start, 0, 100)
	snap := b.Tick(start.Add(1500*time.Millisecond), 1, 100)
	if !snap.GotTTFB || snap.TTFB != 1500*time.Millisecond {
		t.Fatalf("expected ttfb 1500ms, got %s", snap.TTFB)
	}
	snap = b.Tick(start.Add(2500*time.Millisecond), 2, 100)
	if snap.TTFB != 1500*time.Millisecond {
		t.Fatalf("ttfb should freeze, got %s", snap.TTFB)
	}
}

func TestBenchETA(t *testing.T) {
	b := NewBench()
	start := time.Unix(0, 0)
	_ = b.Tick(start, 0, 100*mib)
	snap := b.Tick(start.Add(time.Second), 50*mib, 100*mib)
	if snap.ETA < 900*time.Millisecond || snap.ETA > 1100*time.Millisecond {
		t.Fatalf("expected ETA near 1s, got %s", snap.ETA)
	}
}

func TestAggregate(t *testing.T) {
	agg := Aggregate(map[string]Summary{
		"a": {Bytes: 10, Elapsed: time.Second, AvgMBps: 1, PeakMBps: 2},
		"b": {Bytes: 30, Elapsed: 3 * time.Second, AvgMBps: 3, PeakMBps: 4},
	})
	if agg.Files != 2 || agg.Bytes != 40 {
		t.Fatalf("unexpected totals %+v", agg)
	}
	if agg.Elapsed != 3*time.Second {
		t.Fatalf("elapsed should be the longest transfer, got %s", agg.Elapsed)
	}
	if agg.AvgMBps != 4 || agg.PeakMBps != 6 {
		t.Fatalf("rates should add up, got %+v", agg)
	}
}

func TestRecorderConcurrentObserve(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Unix(0, 0)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(10 * time.Millisecond)
		return now
	}
	r := NewRecorderWithNow(clock)

	var wg sync.WaitGroup
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for done := int64(0); done <= 1000; done += 100 {
				r.Observe(name, done, 1000)
			}
		}()
	}
	wg.Wait()

	sums := r.Summaries()
	if len(sums) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(sums))
	}
	for name, s := range sums {
		if s.Bytes != 1000 || !s.GotTTFB {
			t.Fatalf("%s: unexpected summary %+v", name, s)
		}
	}

	report := Report(sums)
	if !strings.HasPrefix(report, "BENCH a.txt:") {
		t.Fatalf("report should be sorted by name:\n%s", report)
	}
	if !strings.Contains(report, "files=3") {
		t.Fatalf("report should carry the total:\n%s", report)
	}
}
