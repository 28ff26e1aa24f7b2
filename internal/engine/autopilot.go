package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parc/internal/continuation"
	"parc/internal/domain"
	"parc/internal/generator"
	"parc/internal/playback"
	"parc/internal/repo"
)

// AutopilotOptions tune an unsupervised continuation run.
type AutopilotOptions struct {
	Sched     *playback.Scheduler
	Countdown *playback.Countdown
	ActorID   string
	// Interval overrides the configured pause between continuations.
	Interval time.Duration
	// Start, when set, is the aggregate the run continues from instead of
	// the stored one.
	Start *domain.SimulationResult
	// BeforeStep runs before every fetch. An error fails that step.
	BeforeStep func() error
	// OnMerge, when set, observes every committed continuation.
	OnMerge func(ContinueResult)
	// OnFailure observes every failed step.
	OnFailure func(error)
}

// Autopilot keeps continuing the simulation until the cap, the countdown, the
// context or the generator breaker stops it. The merged aggregate is carried in
// memory between steps so a failed save does not lose progress. The key stays
// claimed for the whole run.
func (e Engine) Autopilot(ctx context.Context, key string, opts AutopilotOptions) (continuation.LoopResult, error) {
	if e.Fetcher == nil {
		return continuation.LoopResult{}, generator.ErrNotConfigured
	}
	key = e.Key(key)
	release, err := e.Claim(key)
	if err != nil {
		return continuation.LoopResult{}, err
	}
	defer release()
	sched := opts.Sched
	if sched == nil {
		sched = playback.NewScheduler(playback.RealClock())
	}
	defer sched.Stop(playback.ConcernAutoLoop)

	current := opts.Start
	if current == nil {
		current = e.stored(ctx, key)
	}

	interval := playback.DefaultBaseInterval
	switch {
	case opts.Interval > 0:
		interval = opts.Interval
	case e.Config != nil && e.Config.AutopilotInterval() > 0:
		interval = e.Config.AutopilotInterval()
	}
	loop := &continuation.AutoLoop{
		Sched:     sched,
		Interval:  interval,
		MaxEvents: e.MaxEvents(),
		Countdown: opts.Countdown,
		Logger:    e.logger(),
		Step: func(ctx context.Context) (int, error) {
			fail := func(err error) (int, error) {
				if opts.OnFailure != nil {
					opts.OnFailure(err)
				}
				return 0, err
			}
			if opts.BeforeStep != nil {
				if err := opts.BeforeStep(); err != nil {
					return 0, err
				}
			}
			res, err := e.continueFrom(ctx, key, opts.ActorID, current)
			var serr *repo.StorageError
			if errors.Is(err, ErrConflict) {
				current = e.stored(ctx, key)
			}
			if err != nil && !errors.As(err, &serr) {
				return fail(err)
			}
			if serr != nil {
				e.logger().Warn("autopilot merge not persisted", zap.Error(serr))
			}
			current = &res.Simulation
			if opts.OnMerge != nil {
				opts.OnMerge(res)
			}
			return res.Simulation.Len(), nil
		},
	}
	result := loop.Run(ctx, current.Len())
	// A countdown with its own expiry handler logs the expiry itself.
	if result.Reason == continuation.StopExpired && (opts.Countdown == nil || opts.Countdown.OnExpire == nil) {
		if err := e.RecordExpired(context.WithoutCancel(ctx), key, opts.ActorID, result.Length); err != nil {
			e.logger().Warn("record session expiry", zap.Error(err))
		}
	}
	return result, nil
}

func (e Engine) stored(ctx context.Context, key string) *domain.SimulationResult {
	sim, found, err := e.Load(ctx, key)
	if err != nil {
		e.logger().Warn("autopilot continuing without stored state", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return &sim
}
