// Package continuation requests the next timeline chunk and merges it all-or-nothing.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"parc/internal/domain"
	"parc/internal/generator"
	"parc/internal/metrics"
	"parc/internal/timeline"
)

// GenerationError reports a failed or unusable generator call. Nothing was merged.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Cause.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// Fetcher calls a generator and validates its output at a single seam.
type Fetcher struct {
	gen     generator.Generator
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Fetcher)

func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(f *Fetcher) { f.breaker = cb }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(f *Fetcher) { f.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func WithNow(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func NewFetcher(gen generator.Generator, opts ...Option) *Fetcher {
	f := &Fetcher{gen: gen, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewBreaker opens after threshold consecutive generation failures and
// half-opens again after cooldown.
func NewBreaker(name string, threshold uint32, cooldown time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if threshold == 0 {
		threshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("generator circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Run fetches the next chunk for previous and returns the merged aggregate, or
// the chunk itself when previous is nil. On error previous is untouched.
func (f *Fetcher) Run(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error) {
	start := f.now()
	chunk, err := f.fetch(ctx, previous)
	elapsed := f.now().Sub(start)
	if err != nil {
		f.metrics.ObserveGeneration(elapsed, err, failureReason(err))
		f.logger.Warn("continuation failed",
			zap.String("generator", f.gen.Name()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return domain.SimulationResult{}, &GenerationError{Cause: err}
	}
	f.metrics.ObserveGeneration(elapsed, nil, "")
	f.logger.Info("chunk generated",
		zap.String("generator", f.gen.Name()),
		zap.Int("events", len(chunk.SimulationTimeline)),
		zap.Duration("elapsed", elapsed),
	)
	if previous == nil {
		return chunk, nil
	}
	return timeline.Append(*previous, chunk), nil
}

func (f *Fetcher) fetch(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error) {
	call := func() (interface{}, error) {
		chunk, err := f.gen.GenerateNextChunk(ctx, previous)
		if err != nil {
			return nil, err
		}
		if err := timeline.ValidateChunk(chunk); err != nil {
			return nil, err
		}
		return chunk, nil
	}
	var (
		out interface{}
		err error
	)
	if f.breaker != nil {
		out, err = f.breaker.Execute(call)
	} else {
		out, err = call()
	}
	if err != nil {
		return domain.SimulationResult{}, err
	}
	chunk, ok := out.(domain.SimulationResult)
	if !ok {
		return domain.SimulationResult{}, fmt.Errorf("unexpected generator result %T", out)
	}
	return chunk, nil
}

func failureReason(err error) string {
	var verr *timeline.ValidationError
	switch {
	case errors.As(err, &verr):
		return "invalid_chunk"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "generator"
	}
}
