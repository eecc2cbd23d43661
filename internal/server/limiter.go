package server

import (
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedIPs bounds the limiter map; idle buckets are dropped past it.
const maxTrackedIPs = 4096

// ipLimiter keeps one token bucket per client IP. A nil *ipLimiter allows
// everything.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newIPLimiter(perSec float64, burst int) *ipLimiter {
	if perSec <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSec),
		burst:   burst,
	}
}

// Allow takes one token from addr's bucket.
func (l *ipLimiter) Allow(addr net.Addr) bool {
	if l == nil {
		return true
	}
	ip := hostOf(addr)
	if ip == "" {
		return true
	}

	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= maxTrackedIPs {
			l.pruneLocked()
		}
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[ip] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// pruneLocked forgets buckets that have refilled, i.e. clients that have been
// quiet long enough to start from scratch anyway.
func (l *ipLimiter) pruneLocked() {
	for ip, bucket := range l.buckets {
		if bucket.Tokens() >= float64(l.burst) {
			delete(l.buckets, ip)
		}
	}
}

func hostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case nil:
		return ""
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
