package core

import (
	"sync"
	"time"
)

// Clock produces block timestamps: wall time plus a development offset,
// never earlier than the parent block.
type Clock struct {
	mu     sync.Mutex
	now    func() time.Time
	offset int64
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Advance moves chain time forward by seconds. Negative values are ignored.
func (c *Clock) Advance(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds > 0 {
		c.offset += seconds
	}
	return c.offset
}

func (c *Clock) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Now returns the current chain time in unix seconds.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Unix() + c.offset
}

// Next returns the timestamp for a block whose parent sealed at parent.
func (c *Clock) Next(parent uint64) uint64 {
	now := c.Now()
	if now < 0 {
		now = 0
	}
	if uint64(now) < parent {
		return parent
	}
	return uint64(now)
}
