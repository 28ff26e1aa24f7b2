package playback

import (
	"fmt"
	"sync"
	"time"
)

const countdownTick = time.Second

// Countdown tracks the time left until a session end time. It recomputes the
// remainder on every one-second tick and calls OnExpire once at zero.
type Countdown struct {
	sched *Scheduler
	end   time.Time

	// OnTick, when set, receives the remainder after each tick.
	OnTick   func(remaining time.Duration)
	OnExpire func()

	mu      sync.Mutex
	running bool
	expired bool
}

func NewCountdown(sched *Scheduler, end time.Time, onExpire func()) *Countdown {
	return &Countdown{sched: sched, end: end, OnExpire: onExpire}
}

func (c *Countdown) End() time.Time {
	return c.end
}

// Remaining is end minus now, never negative.
func (c *Countdown) Remaining() time.Duration {
	d := c.end.Sub(c.sched.Clock().Now())
	if d < 0 {
		return 0
	}
	return d
}

func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Start begins ticking. An already expired end fires on the first tick.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.expired {
		return
	}
	c.running = true
	c.sched.Start(ConcernCountdown, countdownTick, c.tick)
}

func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.sched.Stop(ConcernCountdown)
}

func (c *Countdown) tick() {
	remaining := c.Remaining()
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if remaining > 0 {
		c.sched.Start(ConcernCountdown, countdownTick, c.tick)
		c.mu.Unlock()
		if c.OnTick != nil {
			c.OnTick(remaining)
		}
		return
	}
	c.running = false
	c.expired = true
	c.mu.Unlock()
	if c.OnTick != nil {
		c.OnTick(0)
	}
	if c.OnExpire != nil {
		c.OnExpire()
	}
}

// FormatRemaining renders d as HH:MM:SS, or DD:HH:MM:SS when at least a day is left.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60
	if days > 0 {
		return fmt.Sprintf("%02d:%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
