package continuation

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"parc/internal/playback"
)

const DefaultMaxEvents = 100

// StopReason says why an AutoLoop ended.
type StopReason string

const (
	StopCap         StopReason = "cap_reached"
	StopExpired     StopReason = "session_expired"
	StopCancelled   StopReason = "cancelled"
	StopBreakerOpen StopReason = "breaker_open"
)

// Step performs one committed continuation and returns the new timeline length.
type Step func(ctx context.Context) (int, error)

// LoopResult summarizes a finished AutoLoop.
type LoopResult struct {
	Reason   StopReason `json:"reason"`
	Steps    int        `json:"steps"`
	Failures int        `json:"failures"`
	Length   int        `json:"length"`
}

// AutoLoop runs Step on a timer until the timeline reaches MaxEvents, the
// countdown expires, the context ends or the generator breaker opens. Stopping
// or resetting the autoloop concern on Sched also ends it as cancelled.
type AutoLoop struct {
	Sched     *playback.Scheduler
	Step      Step
	Interval  time.Duration
	MaxEvents int
	// Countdown, when set, ends the loop once no time remains.
	Countdown *playback.Countdown
	Logger    *zap.Logger
}

// Run blocks until the loop stops. length is the current timeline length.
func (l *AutoLoop) Run(ctx context.Context, length int) LoopResult {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxEvents := l.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	res := LoopResult{Length: length}
	for first := true; ; first = false {
		if res.Length >= maxEvents {
			res.Reason = StopCap
			break
		}
		if l.Countdown != nil && l.Countdown.Remaining() <= 0 {
			res.Reason = StopExpired
			break
		}
		if !first {
			if err := l.wait(ctx); err != nil {
				res.Reason = StopCancelled
				break
			}
		}
		if ctx.Err() != nil {
			res.Reason = StopCancelled
			break
		}
		n, err := l.Step(ctx)
		if err != nil {
			res.Failures++
			if errors.Is(err, gobreaker.ErrOpenState) {
				res.Reason = StopBreakerOpen
				break
			}
			if ctx.Err() != nil {
				res.Reason = StopCancelled
				break
			}
			logger.Warn("autopilot step failed", zap.Int("failures", res.Failures), zap.Error(err))
			continue
		}
		res.Steps++
		res.Length = n
		logger.Info("autopilot step merged", zap.Int("events", n), zap.Int("cap", maxEvents))
	}
	logger.Info("autopilot stopped", zap.String("reason", string(res.Reason)), zap.Int("steps", res.Steps))
	return res
}

// errStopped reports that the pause timer was stopped from outside the loop.
var errStopped = errors.New("autoloop timer stopped")

func (l *AutoLoop) wait(ctx context.Context) error {
	fired := make(chan struct{}, 1)
	stopped := l.Sched.Start(playback.ConcernAutoLoop, l.Interval, func() { fired <- struct{}{} })
	select {
	case <-fired:
		return nil
	case <-stopped:
		return errStopped
	case <-ctx.Done():
		l.Sched.Stop(playback.ConcernAutoLoop)
		return ctx.Err()
	}
}
