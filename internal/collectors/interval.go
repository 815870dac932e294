package collectors

import (
	"fmt"
	"sync"
	"time"
)

// backoffAfter is the number of consecutive quiet cycles before the
// controller slows the sampling interval down one step.
const backoffAfter = 3

// IntervalController adapts the sampling interval to how much the
// watched scores actually move: any movement snaps back to the fastest
// interval, sustained quiet doubles it up to the configured ceiling.
type IntervalController struct {
	mu sync.Mutex

	min     time.Duration
	max     time.Duration
	current time.Duration

	quiet      int
	overridden bool
}

func NewIntervalController(min, max time.Duration) (*IntervalController, error) {
	if min <= 0 {
		return nil, fmt.Errorf("minimum interval must be positive, got %v", min)
	}
	if max < min {
		return nil, fmt.Errorf("maximum interval %v below minimum %v", max, min)
	}
	return &IntervalController{min: min, max: max, current: min}, nil
}

// Interval returns the interval the next sampling cycle should wait.
func (c *IntervalController) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Observe feeds one sampling cycle's outcome into the controller:
// changed is the number of watched tasks whose score moved this cycle.
func (c *IntervalController) Observe(changed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.overridden {
		return
	}

	if changed > 0 {
		c.quiet = 0
		c.current = c.min
		return
	}

	c.quiet++
	if c.quiet < backoffAfter || c.current >= c.max {
		return
	}
	c.quiet = 0
	c.current *= 2
	if c.current > c.max {
		c.current = c.max
	}
}

// Override pins the interval to a fixed value, suspending adaptation.
// The returned restore function reverts the previous setting and must be
// called exactly once.
func (c *IntervalController) Override(interval time.Duration) (restore func(), err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("override interval must be positive, got %v", interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overridden {
		return nil, fmt.Errorf("interval already overridden")
	}

	previous := c.current
	c.overridden = true
	c.current = interval

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.overridden = false
		c.current = previous
		c.quiet = 0
	}, nil
}
