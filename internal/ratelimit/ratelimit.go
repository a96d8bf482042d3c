// Package ratelimit bounds how often a single sender can exercise the
// webhook pipeline.
package ratelimit

import (
	"sync"
	"time"
)

// Default limits applied when not configured.
const (
	// DefaultMaxRequests is the number of requests allowed per sender per window.
	DefaultMaxRequests = 10
	// DefaultWindow is the sliding window length.
	DefaultWindow = time.Minute
)

// Limiter is a sliding-window rate limiter keyed by sender JID.
type Limiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	requests map[string][]time.Time
	now      func() time.Time
}

// NewLimiter creates a limiter allowing maxRequests per sender within window.
// Non-positive arguments fall back to the defaults.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:      maxRequests,
		window:   window,
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether a request from sender may proceed, recording it when
// allowed. Senders without a JID are always allowed since there is nothing to
// key the window on.
func (l *Limiter) Allow(sender string) bool {
	if sender == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	fresh := l.requests[sender][:0]
	for _, ts := range l.requests[sender] {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}

	if len(fresh) >= l.max {
		l.requests[sender] = fresh
		return false
	}
	l.requests[sender] = append(fresh, now)
	return true
}

// Cleanup drops senders with no requests inside the window and returns how
// many were removed. Intended to run periodically so idle senders do not
// accumulate.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for sender, timestamps := range l.requests {
		fresh := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				fresh = append(fresh, ts)
			}
		}
		if len(fresh) == 0 {
			delete(l.requests, sender)
			removed++
		} else {
			l.requests[sender] = fresh
		}
	}
	return removed
}

// Window returns the configured sliding window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
