// Package stats tracks process-wide operation counters, the Go analogue
// of bees' BEESCOUNT macros, plus the snapshot save/restore the hashing
// package used for its persistent hashmaps.
package stats

import (
	"encoding/gob"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Counters is a set of named monotonic counters, safe for concurrent use.
type Counters struct {
	mu    sync.RWMutex
	start time.Time
	vals  map[string]*atomic.Uint64
}

// New returns an empty Counters set with its start time set to now, used
// by Rates to compute per-second averages.
func New() *Counters {
	return &Counters{vals: make(map[string]*atomic.Uint64), start: time.Now()}
}

func (c *Counters) counter(name string) *atomic.Uint64 {
	c.mu.RLock()
	v, ok := c.vals[name]
	c.mu.RUnlock()
	if ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok = c.vals[name]; ok {
		return v
	}
	v = &atomic.Uint64{}
	c.vals[name] = v
	return v
}

// Inc increments the named counter by one.
func (c *Counters) Inc(name string) {
	c.counter(name).Add(1)
}

// Add increments the named counter by n.
func (c *Counters) Add(name string, n uint64) {
	c.counter(name).Add(n)
}

// Get returns the current value of the named counter.
func (c *Counters) Get(name string) uint64 {
	return c.counter(name).Load()
}

// Snapshot returns a plain map of every counter's current value, suitable
// for rendering into the audit stats file or gob-encoding.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]uint64, len(c.vals))
	for k, v := range c.vals {
		out[k] = v.Load()
	}
	return out
}

// Rates divides every counter by uptime (callers typically pass Age()) to
// produce an average per-second rate, the "RATES" section
// of the original prefetch_loop's stats report.
func (c *Counters) Rates(uptime time.Duration) map[string]float64 {
	secs := uptime.Seconds()
	out := make(map[string]float64)
	if secs <= 0 {
		return out
	}
	for k, v := range c.Snapshot() {
		out[k] = float64(v) / secs
	}
	return out
}

// Age returns how long this Counters set has existed.
func (c *Counters) Age() time.Duration {
	return time.Since(c.start)
}

// SaveSnapshot gob-encodes the current counter values to path, in the same
// create-truncate-encode shape the hashing package used for its persistent
// maps.
func (c *Counters) SaveSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(c.Snapshot())
}

// LoadSnapshot restores counter values previously written by SaveSnapshot.
// Existing counters not present in the file are left untouched.
func (c *Counters) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var snap map[string]uint64
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap {
		c.counter(k).Store(v)
	}
	return nil
}
