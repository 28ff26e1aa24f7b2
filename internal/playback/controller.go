// Package playback walks a cursor over a timeline with timed ticks and manual seek.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StatePaused   State = "paused"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

const DefaultBaseInterval = 2 * time.Second

var (
	ErrInvalidTransition = errors.New("invalid playback transition")
	ErrLoading           = fmt.Errorf("%w: continuation in progress", ErrInvalidTransition)
	ErrInvalidSpeed      = errors.New("speed must be positive")
)

// Status is a point-in-time view of the controller.
type Status struct {
	State    State         `json:"state"`
	Cursor   int           `json:"cursor"`
	Length   int           `json:"length"`
	Speed    float64       `json:"speed"`
	Interval time.Duration `json:"interval_ns"`
}

// Options configure a Controller. Callbacks run outside the controller lock.
type Options struct {
	BaseInterval time.Duration
	Speed        float64
	// OnTick receives the index revealed by a tick.
	OnTick func(index int)
	// OnSeek receives the index of a seek; views reconcile fully at it.
	OnSeek  func(index int)
	OnState func(Status)
}

// Controller is the playback state machine. Every transition is serialized
// behind one mutex, and each armed tick carries a generation so that a fire
// from a cancelled arming is discarded.
type Controller struct {
	sched *Scheduler
	opts  Options

	mu     sync.Mutex
	state  State
	cursor int
	length int
	speed  float64
	gen    uint64
}

func NewController(sched *Scheduler, opts Options) *Controller {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = DefaultBaseInterval
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	return &Controller{
		sched:  sched,
		opts:   opts,
		state:  StateIdle,
		cursor: -1,
		speed:  opts.Speed,
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

func (c *Controller) status() Status {
	return Status{State: c.state, Cursor: c.cursor, Length: c.length, Speed: c.speed, Interval: c.interval()}
}

func (c *Controller) interval() time.Duration {
	return time.Duration(float64(c.opts.BaseInterval) / c.speed)
}

// Play resumes from paused, or replays from the start when finished.
func (c *Controller) Play() error {
	c.mu.Lock()
	switch c.state {
	case StatePaused:
	case StateFinished:
		c.cursor = -1
	case StateLoading:
		c.mu.Unlock()
		return ErrLoading
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: play from %s", ErrInvalidTransition, st)
	}
	c.state = StateRunning
	c.arm()
	c.unlockNotify()
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateRunning {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, st)
	}
	c.disarm()
	c.state = StatePaused
	c.unlockNotify()
	return nil
}

// Seek moves the cursor to index clamped to [-1, length-1] and pauses.
func (c *Controller) Seek(index int) (int, error) {
	c.mu.Lock()
	if c.state == StateLoading {
		c.mu.Unlock()
		return 0, ErrLoading
	}
	c.disarm()
	c.cursor = clamp(index, -1, c.length-1)
	c.state = StatePaused
	cursor := c.cursor
	c.unlockNotify()
	if c.opts.OnSeek != nil {
		c.opts.OnSeek(cursor)
	}
	return cursor, nil
}

// Step seeks relative to the current cursor.
func (c *Controller) Step(delta int) (int, error) {
	c.mu.Lock()
	target := c.cursor + delta
	c.mu.Unlock()
	return c.Seek(target)
}

// BeginLoading enters loading. Only one continuation may be in flight.
func (c *Controller) BeginLoading() error {
	c.mu.Lock()
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrLoading
	}
	c.disarm()
	c.state = StateLoading
	c.unlockNotify()
	return nil
}

// LoadSucceeded leaves loading paused at cursor over a timeline of length events.
func (c *Controller) LoadSucceeded(length, cursor int) error {
	c.mu.Lock()
	if c.state != StateLoading {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: load finished from %s", ErrInvalidTransition, st)
	}
	c.length = max(length, 0)
	c.cursor = clamp(cursor, -1, c.length-1)
	c.state = StatePaused
	c.unlockNotify()
	return nil
}

// LoadFailed returns to idle, keeping the previous cursor and length.
func (c *Controller) LoadFailed() error {
	c.mu.Lock()
	if c.state != StateLoading {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: load failed from %s", ErrInvalidTransition, st)
	}
	c.state = StateIdle
	c.unlockNotify()
	return nil
}

// SetSpeed changes the tick rate. A running controller is re-armed at the new interval.
func (c *Controller) SetSpeed(speed float64) error {
	if speed <= 0 {
		return ErrInvalidSpeed
	}
	c.mu.Lock()
	c.speed = speed
	if c.state == StateRunning {
		c.arm()
	}
	c.unlockNotify()
	return nil
}

// SetLength adopts a replaced timeline of n events, paused before the first event.
func (c *Controller) SetLength(n int) error {
	c.mu.Lock()
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrLoading
	}
	c.disarm()
	c.length = max(n, 0)
	c.cursor = -1
	c.state = StatePaused
	c.unlockNotify()
	return nil
}

// Reset cancels the tick and returns to idle with no timeline.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.disarm()
	c.state = StateIdle
	c.cursor = -1
	c.length = 0
	c.unlockNotify()
}

func (c *Controller) arm() {
	c.gen++
	gen := c.gen
	c.sched.Start(ConcernTick, c.interval(), func() { c.tick(gen) })
}

func (c *Controller) disarm() {
	c.gen++
	c.sched.Stop(ConcernTick)
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	if c.length == 0 || c.cursor >= c.length-1 {
		c.state = StateFinished
		c.unlockNotify()
		return
	}
	c.cursor++
	index := c.cursor
	if c.cursor == c.length-1 {
		c.state = StateFinished
	} else {
		c.arm()
	}
	c.unlockNotify()
	if c.opts.OnTick != nil {
		c.opts.OnTick(index)
	}
}

// unlockNotify releases the lock and reports the new status.
func (c *Controller) unlockNotify() {
	st := c.status()
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(st)
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
