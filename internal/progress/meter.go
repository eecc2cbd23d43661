package progress

import (
	"sync"
	"time"
)

// Stats represents a point-in-time snapshot of one transfer.
type Stats struct {
	BytesDone int64
	Total     int64 // -1 when the size is not known in advance
	RateBps   float64
	AvgBps    float64
	Elapsed   time.Duration
	ETA       time.Duration
	StartedAt time.Time
}

// Meter tracks bytes moved by a transfer and computes a smoothed rate.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now, total: -1}
}

// Start resets the meter. Pass -1 when the total size is unknown.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Add records n more bytes and returns the cumulative count.
func (m *Meter) Add(n int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return m.done
	}
	now := m.now()
	m.done += int64(n)
	dt := now.Sub(m.lastAt).Seconds()
	if dt > 0 {
		inst := float64(m.done-m.lastDone) / dt
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
	return m.done
}

// Snapshot returns the current stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	elapsed := m.now().Sub(m.startedAt)
	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		Elapsed:   elapsed,
		StartedAt: m.startedAt,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		stats.AvgBps = float64(m.done) / secs
	}
	if m.rateBps > 0 && m.total > m.done {
		stats.ETA = time.Duration(float64(m.total-m.done) / m.rateBps * float64(time.Second))
	}
	return stats
}
