// Package bench measures transfer throughput for the --bench summaries:
// average and peak rate, time to first byte and an ETA, per file and across a
// batch of concurrent transfers.
package bench

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const mib = 1024 * 1024

// Bench follows one transfer. It is not safe for concurrent use; Recorder
// serializes access.
type Bench struct {
	start     time.Time
	last      time.Time
	lastBytes int64
	ewma      float64
	peak      float64
	ttfb      time.Duration
	gotTTFB   bool
}

// Snapshot is the state of a transfer at one Tick.
type Snapshot struct {
	Bytes    int64
	Total    int64
	Elapsed  time.Duration
	InstMBps float64
	EwmaMBps float64
	AvgMBps  float64
	PeakMBps float64
	ETA      time.Duration
	TTFB     time.Duration
	GotTTFB  bool
}

// Summary is the outcome of a finished transfer.
type Summary struct {
	Bytes    int64
	Total    int64
	Elapsed  time.Duration
	AvgMBps  float64
	PeakMBps float64
	TTFB     time.Duration
	GotTTFB  bool
}

func NewBench() *Bench {
	return &Bench{}
}

// Tick records bytesNow cumulative bytes at now. The first Tick starts the
// clock.
func (b *Bench) Tick(now time.Time, bytesNow, totalBytes int64) Snapshot {
	if b.start.IsZero() {
		b.start = now
		b.last = now
		b.lastBytes = bytesNow
		return Snapshot{Bytes: bytesNow, Total: totalBytes}
	}
	elapsed := now.Sub(b.start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	delta := max(bytesNow-b.lastBytes, 0)
	dt := now.Sub(b.last)
	if dt <= 0 {
		dt = time.Second
	}
	inst := float64(delta) / dt.Seconds() / mib
	if b.ewma == 0 {
		b.ewma = inst
	} else {
		b.ewma = 0.2*inst + 0.8*b.ewma
	}
	b.peak = max(b.peak, inst)
	if !b.gotTTFB && bytesNow > 0 {
		b.gotTTFB = true
		b.ttfb = now.Sub(b.start)
	}

	snap := Snapshot{
		Bytes:    bytesNow,
		Total:    totalBytes,
		Elapsed:  elapsed,
		InstMBps: inst,
		EwmaMBps: b.ewma,
		AvgMBps:  float64(bytesNow) / elapsed.Seconds() / mib,
		PeakMBps: b.peak,
		TTFB:     b.ttfb,
		GotTTFB:  b.gotTTFB,
	}
	if totalBytes > 0 && b.ewma > 0 {
		remaining := max(totalBytes-bytesNow, 0)
		snap.ETA = time.Duration(float64(remaining) / (b.ewma * mib) * float64(time.Second))
	}

	b.last = now
	b.lastBytes = bytesNow
	return snap
}

// Final takes a last Tick and condenses it.
func (b *Bench) Final(now time.Time, bytesNow, totalBytes int64) Summary {
	snap := b.Tick(now, bytesNow, totalBytes)
	return Summary{
		Bytes:    snap.Bytes,
		Total:    snap.Total,
		Elapsed:  snap.Elapsed,
		AvgMBps:  snap.AvgMBps,
		PeakMBps: snap.PeakMBps,
		TTFB:     snap.TTFB,
		GotTTFB:  snap.GotTTFB,
	}
}

// Line formats s as a one-line report.
func (s Summary) Line(label string) string {
	ttfb := "--"
	if s.GotTTFB {
		ttfb = fmt.Sprintf("%dms", s.TTFB.Milliseconds())
	}
	return fmt.Sprintf("BENCH %s: bytes=%d dur=%.1fs avg=%.2fMB/s peak=%.2fMB/s ttfb=%s",
		label, s.Bytes, s.Elapsed.Seconds(), s.AvgMBps, s.PeakMBps, ttfb)
}

// AggregateSummary adds up concurrent transfers.
type AggregateSummary struct {
	Files    int
	Bytes    int64
	Elapsed  time.Duration // longest transfer
	AvgMBps  float64
	PeakMBps float64
}

// Aggregate sums rates and bytes over summaries.
func Aggregate(sums map[string]Summary) AggregateSummary {
	agg := AggregateSummary{Files: len(sums)}
	for _, s := range sums {
		agg.Bytes += s.Bytes
		agg.AvgMBps += s.AvgMBps
		agg.PeakMBps += s.PeakMBps
		agg.Elapsed = max(agg.Elapsed, s.Elapsed)
	}
	return agg
}

// Lines formats the batch report.
func (a AggregateSummary) Lines() string {
	return fmt.Sprintf(
		"BENCH TOTAL:\n  files=%d\n  bytes=%.2fMiB\n  dur=%.1fs\n  avg=%.2fMB/s\n  peak=%.2fMB/s",
		a.Files, float64(a.Bytes)/mib, a.Elapsed.Seconds(), a.AvgMBps, a.PeakMBps,
	)
}

// Recorder keeps one Bench per named transfer.
type Recorder struct {
	mu      sync.Mutex
	now     func() time.Time
	benches map[string]*Bench
	bytes   map[string]int64
	totals  map[string]int64
}

func NewRecorder() *Recorder {
	return NewRecorderWithNow(time.Now)
}

// NewRecorderWithNow returns a recorder with a custom time source (for tests).
func NewRecorderWithNow(now func() time.Time) *Recorder {
	return &Recorder{
		now:     now,
		benches: make(map[string]*Bench),
		bytes:   make(map[string]int64),
		totals:  make(map[string]int64),
	}
}

// Observe records done cumulative bytes for name. The first call for a name
// starts its clock; report done=0 when the transfer begins.
func (r *Recorder) Observe(name string, done, total int64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.benches[name]
	if !ok {
		b = NewBench()
		r.benches[name] = b
	}
	r.bytes[name] = done
	r.totals[name] = total
	return b.Tick(r.now(), done, total)
}

// Summaries finalizes every observed transfer.
func (r *Recorder) Summaries() map[string]Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make(map[string]Summary, len(r.benches))
	for name, b := range r.benches {
		out[name] = b.Final(now, r.bytes[name], r.totals[name])
	}
	return out
}

// Report formats every summary, sorted by name, followed by the total.
func Report(sums map[string]Summary) string {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(sums[name].Line(name))
		sb.WriteByte('\n')
	}
	sb.WriteString(Aggregate(sums).Lines())
	sb.WriteByte('\n')
	return sb.String()
}
