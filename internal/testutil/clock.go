package testutil

import (
	"sync"
	"time"
)

// BaseTime is the default start of every test timeline.
var BaseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// Timeline hands out event timestamps and insertion sequence numbers.
//
// Each call to Next moves the timestamp forward by Step and returns the next
// seq. Hold keeps the timestamp where it is, which is how tests build two
// events with the same OccurredAt that only Seq can order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Timeline struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
	seq  int64
}

// NewTimeline starts a timeline at base. A non-positive step defaults to one
// hour.
func NewTimeline(base time.Time, step time.Duration) *Timeline {
	if step <= 0 {
		step = time.Hour
	}
	return &Timeline{now: base, step: step}
}

// Next advances the clock and returns the new timestamp and seq.
// The first call returns base and seq 1.
func (c *Timeline) Next() (time.Time, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq > 0 {
		c.now = c.now.Add(c.step)
	}
	c.seq++
	return c.now, c.seq
}

// Hold returns the current timestamp with the next seq.
func (c *Timeline) Hold() (time.Time, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.now, c.seq
}

// Seq returns the last seq handed out.
func (c *Timeline) Seq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the timeline to base.
func (c *Timeline) Reset(base time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = base
	c.seq = 0
}
