// Package session is the live state store behind playback: it owns the
// in-memory aggregate, its revision, the playback controller and the timers,
// and persists after every committed transition.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parc/internal/continuation"
	"parc/internal/domain"
	"parc/internal/engine"
	"parc/internal/graph"
	"parc/internal/playback"
	"parc/internal/repo"
	"parc/internal/repository"
	"parc/internal/timeline"
)

// ErrEmpty is returned by operations that need a loaded simulation.
var ErrEmpty = errors.New("no simulation loaded")

type Options struct {
	Clock     playback.Clock
	CacheSize int
	ActorID   string
	// Length, when positive, bounds the session with a countdown. Expiry
	// pauses playback and stops any autopilot run.
	Length time.Duration
	// OnChange is called after any change visible to views. It runs on timer
	// goroutines and must not block.
	OnChange func()
}

// View is a point-in-time rendering of the session.
type View struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Title     string           `json:"title"`
	Revision  uint64           `json:"revision"`
	Playback  playback.Status  `json:"playback"`
	Event     *domain.Event    `json:"event,omitempty"`
	Graph     engine.GraphView `json:"graph"`
	Remaining string           `json:"remaining,omitempty"`
	Busy      bool             `json:"busy"`
	Autopilot bool             `json:"autopilot"`
	LastError string           `json:"last_error,omitempty"`
}

type Session struct {
	ID  string
	Key string

	eng       engine.Engine
	sched     *playback.Scheduler
	ctrl      *playback.Controller
	cache     *graph.Cache
	countdown *playback.Countdown
	actor     string
	onChange  func()
	logger    *zap.Logger

	mu      sync.Mutex
	store   timeline.Store
	busy    bool
	lastErr string
	// stopAutopilot cancels the running autopilot, nil when none runs.
	stopAutopilot context.CancelFunc
}

// Open restores the stored aggregate for key, if any, paused at its last event.
// A storage failure is logged and the session starts empty in memory.
func Open(ctx context.Context, eng engine.Engine, key string, opts Options) (*Session, error) {
	clock := opts.Clock
	if clock == nil {
		clock = playback.RealClock()
	}
	cache, err := graph.NewCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	logger := eng.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		ID:       uuid.NewString(),
		Key:      eng.Key(key),
		eng:      eng,
		sched:    playback.NewScheduler(clock),
		cache:    cache,
		actor:    opts.ActorID,
		onChange: opts.OnChange,
		logger:   logger,
	}
	if s.actor == "" {
		s.actor = "session"
	}
	base := playback.DefaultBaseInterval
	speed := 1.0
	if eng.Config != nil {
		base = eng.Config.BaseInterval()
		speed = eng.Config.Playback.Speed
	}
	s.ctrl = playback.NewController(s.sched, playback.Options{
		BaseInterval: base,
		Speed:        speed,
		OnTick: func(int) {
			eng.Metrics.Tick()
			s.changed()
		},
		OnState: func(playback.Status) { s.changed() },
	})
	if opts.Length > 0 {
		s.countdown = playback.NewCountdown(s.sched, clock.Now().Add(opts.Length), s.expire)
		s.countdown.OnTick = func(time.Duration) { s.changed() }
	}

	sim, found, err := eng.Load(ctx, s.Key)
	if err != nil {
		s.logger.Warn("session starting in memory only", zap.String("simulation", s.Key), zap.Error(err))
		s.lastErr = err.Error()
	}
	if found {
		s.store.Adopt(sim)
		if err := s.ctrl.BeginLoading(); err != nil {
			return nil, err
		}
		if err := s.ctrl.LoadSucceeded(sim.Len(), sim.LastIndex()); err != nil {
			return nil, err
		}
	}
	if s.countdown != nil {
		s.countdown.Start()
	}
	return s, nil
}

// Close stops every timer the session owns and any autopilot run.
func (s *Session) Close() {
	s.cancelAutopilot()
	if s.countdown != nil {
		s.countdown.Stop()
	}
	s.sched.Reset()
}

// Cancel is the manual stop: autopilot ends, every timer halts and playback
// pauses where it is. Merged state is kept.
func (s *Session) Cancel() {
	s.cancelAutopilot()
	s.sched.Reset()
	if s.countdown != nil {
		s.countdown.Stop()
	}
	_ = s.ctrl.Pause()
}

// Expired reports whether the session countdown ran out.
func (s *Session) Expired() bool {
	return s.countdown != nil && s.countdown.Expired()
}

// Busy reports whether a continuation, import, reset or autopilot run holds the session.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) Status() playback.Status {
	return s.ctrl.Status()
}

// Current returns the held aggregate and its revision.
func (s *Session) Current() (*domain.SimulationResult, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Current(), s.store.Revision()
}

// Remaining is the countdown remainder; ok is false for unbounded sessions.
func (s *Session) Remaining() (time.Duration, bool) {
	if s.countdown == nil {
		return 0, false
	}
	return s.countdown.Remaining(), true
}

func (s *Session) Play() error  { return s.ctrl.Play() }
func (s *Session) Pause() error { return s.ctrl.Pause() }

func (s *Session) Seek(index int) (int, error) { return s.ctrl.Seek(index) }

func (s *Session) Step(delta int) (int, error) { return s.ctrl.Step(delta) }

func (s *Session) SetSpeed(speed float64) error { return s.ctrl.SetSpeed(speed) }

// Graph returns the knowledge graph at the playback cursor, memoized per
// aggregate revision. Warnings are reported once, when the snapshot is built.
func (s *Session) Graph() engine.GraphView {
	sim, rev := s.Current()
	cursor := graph.At(s.ctrl.Status().Cursor)
	snap, warnings, hit := s.cache.Snapshot(rev, sim, cursor)
	s.eng.Metrics.CacheLookup(hit)
	if !hit {
		s.eng.ReportWarnings("graph", s.Key, warnings)
	}
	view := engine.GraphView{Cursor: cursor.Count(sim.Len()) - 1, Snapshot: snap, Warnings: warnings}
	if view.Cursor >= 0 {
		view.Highlight = graph.Highlight(sim, view.Cursor)
	}
	return view
}

// Repositories reconciles author repositories at the playback cursor.
func (s *Session) Repositories() repository.Repositories {
	sim, _ := s.Current()
	repos, _ := s.eng.ReconcileRepositories(s.Key, sim, graph.At(s.ctrl.Status().Cursor))
	return repos
}

func (s *Session) View() View {
	sim, rev := s.Current()
	st := s.ctrl.Status()
	v := View{
		ID:       s.ID,
		Key:      s.Key,
		Revision: rev,
		Playback: st,
		Graph:    s.Graph(),
	}
	if sim != nil {
		v.Title = sim.SimulationTitle
		if st.Cursor >= 0 && st.Cursor < sim.Len() {
			ev := sim.SimulationTimeline[st.Cursor]
			v.Event = &ev
		}
	}
	if d, ok := s.Remaining(); ok {
		v.Remaining = playback.FormatRemaining(d)
	}
	s.mu.Lock()
	v.Busy = s.busy
	v.Autopilot = s.stopAutopilot != nil
	v.LastError = s.lastErr
	s.mu.Unlock()
	return v
}

// Continue fetches and merges the next chunk. Playback is loading meanwhile
// and ends paused at the last previously known event. A merge that could not
// be saved stays in memory and the *repo.StorageError is returned with it. A
// merge refused because another writer moved the stored aggregate is dropped.
func (s *Session) Continue(ctx context.Context) (engine.ContinueResult, error) {
	if err := s.acquire(); err != nil {
		return engine.ContinueResult{}, err
	}
	defer s.release()
	claim, err := s.eng.Claim(s.Key)
	if err != nil {
		return engine.ContinueResult{}, err
	}
	defer claim()
	if err := s.ctrl.BeginLoading(); err != nil {
		return engine.ContinueResult{}, err
	}
	prev, _ := s.Current()
	res, err := s.eng.Fetch(ctx, prev)
	if err == nil {
		err = s.eng.Persist(ctx, s.Key, s.actor, res)
	}
	var serr *repo.StorageError
	if err != nil && !errors.As(err, &serr) {
		_ = s.ctrl.LoadFailed()
		s.setErr(err)
		return engine.ContinueResult{}, err
	}
	s.merged(res)
	if serr != nil {
		s.logger.Warn("session state not persisted", zap.String("simulation", s.Key), zap.Error(err))
	}
	s.setErr(err)
	return res, err
}

// Import replaces the held aggregate with an exported document. An invalid
// document leaves the session untouched.
func (s *Session) Import(ctx context.Context, data []byte) (domain.SimulationResult, error) {
	if err := s.acquire(); err != nil {
		return domain.SimulationResult{}, err
	}
	defer s.release()
	sim, err := s.eng.Import(ctx, s.Key, data, s.actor)
	var serr *repo.StorageError
	if err != nil && !errors.As(err, &serr) {
		return domain.SimulationResult{}, err
	}
	s.mu.Lock()
	s.store.Adopt(sim)
	s.mu.Unlock()
	if lerr := s.ctrl.SetLength(sim.Len()); lerr != nil {
		return sim, lerr
	}
	s.setErr(err)
	return sim, err
}

// Reset clears the held and stored aggregate.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	err := s.eng.Reset(ctx, s.Key, s.actor)
	if errors.Is(err, playback.ErrLoading) {
		return err
	}
	if errors.Is(err, repo.ErrNotFound) {
		err = nil
	}
	s.ctrl.Reset()
	s.mu.Lock()
	s.store.Clear()
	s.mu.Unlock()
	s.cache.Purge()
	s.setErr(err)
	return err
}

// Autopilot continues unsupervised until the cap, the session countdown, ctx,
// Cancel or the generator breaker stops it. Each fetch puts playback in
// loading and each merge is adopted like a manual Continue.
func (s *Session) Autopilot(ctx context.Context, interval time.Duration) (continuation.LoopResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.acquireAutopilot(cancel); err != nil {
		cancel()
		return continuation.LoopResult{}, err
	}
	return s.autopilot(ctx, interval)
}

// StartAutopilot runs Autopilot in the background. done, when set, receives
// the outcome. The run is owned by the session and ends with Cancel or Close.
func (s *Session) StartAutopilot(interval time.Duration, done func(continuation.LoopResult, error)) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.acquireAutopilot(cancel); err != nil {
		cancel()
		return err
	}
	go func() {
		res, err := s.autopilot(ctx, interval)
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

func (s *Session) autopilot(ctx context.Context, interval time.Duration) (continuation.LoopResult, error) {
	defer func() {
		s.mu.Lock()
		cancel := s.stopAutopilot
		s.stopAutopilot = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.release()
	}()
	start, _ := s.Current()
	s.logger.Info("autopilot started", zap.String("session", s.ID), zap.String("simulation", s.Key))
	res, err := s.eng.Autopilot(ctx, s.Key, engine.AutopilotOptions{
		Sched:      s.sched,
		Countdown:  s.countdown,
		ActorID:    s.actor,
		Interval:   interval,
		Start:      start,
		BeforeStep: s.ctrl.BeginLoading,
		OnMerge: func(res engine.ContinueResult) {
			s.merged(res)
		},
		OnFailure: func(err error) {
			_ = s.ctrl.LoadFailed()
			s.setErr(err)
		},
	})
	if err != nil {
		s.setErr(err)
	}
	return res, err
}

// merged adopts a fetched merge and leaves loading paused at the last
// previously known event.
func (s *Session) merged(res engine.ContinueResult) {
	s.mu.Lock()
	s.store.Adopt(res.Simulation)
	s.mu.Unlock()
	if err := s.ctrl.LoadSucceeded(res.Simulation.Len(), res.Cursor()); err != nil {
		s.logger.Warn("adopt merge", zap.String("session", s.ID), zap.Error(err))
	}
	s.changed()
}

func (s *Session) expire() {
	_ = s.ctrl.Pause()
	sim, _ := s.Current()
	s.logger.Info("session expired", zap.String("session", s.ID), zap.String("simulation", s.Key))
	if err := s.eng.RecordExpired(context.Background(), s.Key, s.actor, sim.Len()); err != nil {
		s.logger.Warn("record session expiry", zap.Error(err))
	}
	s.changed()
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return playback.ErrLoading
	}
	s.busy = true
	return nil
}

func (s *Session) acquireAutopilot(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return playback.ErrLoading
	}
	s.busy = true
	s.stopAutopilot = cancel
	return nil
}

func (s *Session) cancelAutopilot() {
	s.mu.Lock()
	cancel := s.stopAutopilot
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	s.changed()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
