package continuation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"parc/internal/domain"
	"parc/internal/metrics"
	"parc/internal/playback"
	"parc/internal/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGen struct {
	mu     sync.Mutex
	chunks []domain.SimulationResult
	errs   []error
	calls  int
}

func (g *fakeGen) Name() string { return "fake" }

func (g *fakeGen) GenerateNextChunk(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return domain.SimulationResult{}, g.errs[i]
	}
	if len(g.chunks) == 0 {
		return domain.SimulationResult{}, errors.New("no chunks")
	}
	return g.chunks[i%len(g.chunks)], nil
}

func chunk(summaries ...string) domain.SimulationResult {
	r := domain.SimulationResult{
		SimulationTitle: "T",
		ResearchDomains: []string{"d"},
		GeneratedUsers:  []domain.GeneratedUser{{Name: "Ada"}},
		FinalReport:     "report " + summaries[len(summaries)-1],
	}
	for _, s := range summaries {
		r.SimulationTimeline = append(r.SimulationTimeline, domain.Event{Summary: s, TriggeredBy: "Ada"})
	}
	return r
}

func TestRunWithoutPreviousTakesChunk(t *testing.T) {
	m := metrics.NewCollector()
	f := NewFetcher(&fakeGen{chunks: []domain.SimulationResult{chunk("a", "b")}}, WithMetrics(m))
	got, err := f.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got.SimulationTimeline, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksMerged))
}

func TestRunAppendsToPrevious(t *testing.T) {
	prev := chunk("a")
	f := NewFetcher(&fakeGen{chunks: []domain.SimulationResult{chunk("b", "c")}})
	got, err := f.Run(context.Background(), &prev)
	require.NoError(t, err)
	require.Len(t, got.SimulationTimeline, 3)
	assert.Equal(t, "c", got.SimulationTimeline[2].Summary)
	assert.Equal(t, "report c", got.FinalReport)
	assert.Len(t, prev.SimulationTimeline, 1)
}

func TestRunWrapsGeneratorFailure(t *testing.T) {
	m := metrics.NewCollector()
	cause := errors.New("network down")
	prev := chunk("a")
	f := NewFetcher(&fakeGen{errs: []error{cause}}, WithMetrics(m))

	_, err := f.Run(context.Background(), &prev)
	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	assert.ErrorIs(t, err, cause)
	assert.Len(t, prev.SimulationTimeline, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationFailures.WithLabelValues("generator")))
}

func TestRunRejectsInvalidChunk(t *testing.T) {
	bad := chunk("a")
	bad.SimulationTimeline[0].TriggeredBy = ""
	f := NewFetcher(&fakeGen{chunks: []domain.SimulationResult{bad}})

	_, err := f.Run(context.Background(), nil)
	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	var verr *timeline.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "simulationTimeline[0].triggeredBy is required")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGen{errs: []error{boom, boom, boom, boom}}
	f := NewFetcher(gen, WithBreaker(NewBreaker("test", 2, time.Hour, nil)))

	for i := 0; i < 2; i++ {
		_, err := f.Run(context.Background(), nil)
		require.ErrorIs(t, err, boom)
	}
	_, err := f.Run(context.Background(), nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, gen.calls)
}

func TestAutoLoopStopsAtCap(t *testing.T) {
	length := 0
	steps := 0
	loop := &AutoLoop{
		Sched:     playback.NewScheduler(playback.RealClock()),
		Interval:  time.Millisecond,
		MaxEvents: 40,
		Step: func(ctx context.Context) (int, error) {
			steps++
			length += 15
			return length, nil
		},
	}
	res := loop.Run(context.Background(), 0)
	assert.Equal(t, StopCap, res.Reason)
	assert.Equal(t, 3, steps)
	assert.Equal(t, 45, res.Length)
}

func TestAutoLoopDefaultCap(t *testing.T) {
	loop := &AutoLoop{
		Sched: playback.NewScheduler(playback.RealClock()),
		Step: func(ctx context.Context) (int, error) {
			t.Fatal("step called at cap")
			return 0, nil
		},
	}
	res := loop.Run(context.Background(), DefaultMaxEvents)
	assert.Equal(t, StopCap, res.Reason)
	assert.Zero(t, res.Steps)
}

func TestAutoLoopStopsWhenCountdownExpired(t *testing.T) {
	clock := playback.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := playback.NewScheduler(clock)
	loop := &AutoLoop{
		Sched:     sched,
		Countdown: playback.NewCountdown(sched, clock.Now().Add(-time.Minute), nil),
		Step: func(ctx context.Context) (int, error) {
			t.Fatal("step called after expiry")
			return 0, nil
		},
	}
	assert.Equal(t, StopExpired, loop.Run(context.Background(), 0).Reason)
}

func TestAutoLoopStopsWhenBreakerOpens(t *testing.T) {
	boom := errors.New("boom")
	f := NewFetcher(&fakeGen{errs: []error{boom, boom, boom}}, WithBreaker(NewBreaker("loop", 2, time.Hour, nil)))
	loop := &AutoLoop{
		Sched:    playback.NewScheduler(playback.RealClock()),
		Interval: time.Millisecond,
		Step: func(ctx context.Context) (int, error) {
			_, err := f.Run(ctx, nil)
			return 0, err
		},
	}
	res := loop.Run(context.Background(), 0)
	assert.Equal(t, StopBreakerOpen, res.Reason)
	assert.Equal(t, 3, res.Failures)
	assert.Zero(t, res.Steps)
}

func TestAutoLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sched := playback.NewScheduler(playback.RealClock())
	loop := &AutoLoop{
		Sched:    sched,
		Interval: time.Hour,
		Step: func(ctx context.Context) (int, error) {
			cancel()
			return 1, nil
		},
	}
	res := loop.Run(ctx, 0)
	assert.Equal(t, StopCancelled, res.Reason)
	assert.Equal(t, 1, res.Steps)
	assert.False(t, sched.Active(playback.ConcernAutoLoop))
}

func TestAutoLoopStopsWhenSchedulerReset(t *testing.T) {
	clock := playback.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := playback.NewScheduler(clock)
	loop := &AutoLoop{
		Sched:    sched,
		Interval: time.Minute,
		Step: func(ctx context.Context) (int, error) {
			return 1, nil
		},
	}
	done := make(chan LoopResult, 1)
	go func() { done <- loop.Run(context.Background(), 0) }()
	require.Eventually(t, func() bool { return sched.Active(playback.ConcernAutoLoop) }, time.Second, time.Millisecond)

	sched.Reset()
	select {
	case res := <-done:
		assert.Equal(t, StopCancelled, res.Reason)
		assert.Equal(t, 1, res.Steps)
	case <-time.After(time.Second):
		t.Fatal("loop still waiting after scheduler reset")
	}
}
