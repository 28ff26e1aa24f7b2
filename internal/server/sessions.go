package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"parc/internal/continuation"
	"parc/internal/engine"
	"parc/internal/playback"
	"parc/internal/repo"
	"parc/internal/session"
)

var errSessionNotFound = errors.New("session not found")

const (
	// DefaultSessionIdle is how long an untouched session is kept.
	DefaultSessionIdle = 30 * time.Minute
	// expiredGrace keeps an expired session readable for a while.
	expiredGrace = time.Minute

	concernSweep playback.Concern = "session-sweep"
)

// sessionRegistry holds live playback sessions by id. Sessions untouched for
// the idle window, or expired and untouched for a minute, are closed and
// dropped. A session running autopilot is kept until it stops.
type sessionRegistry struct {
	engine engine.Engine
	clock  playback.Clock
	sched  *playback.Scheduler
	idle   time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	*session.Session
	seen time.Time
}

func newSessionRegistry(e engine.Engine, clock playback.Clock, idle time.Duration, logger *zap.Logger) *sessionRegistry {
	if clock == nil {
		clock = playback.RealClock()
	}
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	return &sessionRegistry{
		engine:   e,
		clock:    clock,
		sched:    playback.NewScheduler(clock),
		idle:     idle,
		logger:   logger,
		sessions: make(map[string]*liveSession),
	}
}

func (r *sessionRegistry) open(ctx context.Context, req OpenSessionRequest) (*session.Session, error) {
	s, err := session.Open(ctx, r.engine, req.Key, session.Options{
		Clock:   r.clock,
		ActorID: apiActor,
		Length:  time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = &liveSession{Session: s, seen: r.clock.Now()}
	r.mu.Unlock()
	r.armSweep()
	return s, nil
}

func (r *sessionRegistry) get(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	s.seen = r.clock.Now()
	return s.Session, nil
}

func (r *sessionRegistry) close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return errSessionNotFound
	}
	s.Close()
	return nil
}

func (r *sessionRegistry) armSweep() {
	if r.sched.Active(concernSweep) {
		return
	}
	r.sched.Start(concernSweep, min(r.idle, expiredGrace), r.sweep)
}

func (r *sessionRegistry) sweep() {
	now := r.clock.Now()
	var evicted []*liveSession
	r.mu.Lock()
	for id, s := range r.sessions {
		untouched := now.Sub(s.seen)
		stale := untouched >= r.idle || (s.Expired() && untouched >= expiredGrace)
		if stale && !s.Busy() {
			evicted = append(evicted, s)
			delete(r.sessions, id)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()
	for _, s := range evicted {
		s.Close()
		r.logger.Info("session evicted", zap.String("session", s.ID), zap.Bool("expired", s.Expired()))
	}
	if remaining > 0 {
		r.armSweep()
	}
}

type sessionPath struct {
	ID string `path:"id" format:"uuid"`
}

type viewOutput struct {
	Body session.View `json:"body"`
}

func registerSessions(api huma.API, reg *sessionRegistry) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open a live playback session",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body OpenSessionRequest `required:"false"`
	}) (*viewOutput, error) {
		s, err := reg.open(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &viewOutput{Body: s.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Current playback view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*viewOutput, error) {
		s, err := reg.get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &viewOutput{Body: s.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Stop every timer and forget the session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := reg.close(input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "autopilot-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/autopilot",
		Summary:       "Keep generating chunks in the background until cancelled",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body AutopilotRequest `required:"false"`
	}) (*viewOutput, error) {
		return withSession(reg, input.ID, func(s *session.Session) error {
			interval := time.Duration(input.Body.IntervalSeconds) * time.Second
			return s.StartAutopilot(interval, func(res continuation.LoopResult, err error) {
				if err != nil {
					reg.logger.Warn("autopilot failed", zap.String("session", s.ID), zap.Error(err))
					return
				}
				reg.logger.Info("autopilot finished", zap.String("session", s.ID), zap.String("reason", string(res.Reason)), zap.Int("steps", res.Steps))
			})
		})
	})

	registerSessionAction(api, reg, "play", "Start or replay playback", func(s *session.Session) error { return s.Play() })
	registerSessionAction(api, reg, "pause", "Pause playback", func(s *session.Session) error { return s.Pause() })
	registerSessionAction(api, reg, "cancel", "Stop all timers, keeping merged state", func(s *session.Session) error {
		s.Cancel()
		return nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seek-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/seek",
		Summary:     "Seek to an event index and pause",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body SeekRequest
	}) (*viewOutput, error) {
		return withSession(reg, input.ID, func(s *session.Session) error {
			_, err := s.Seek(input.Body.Index)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "step-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/step",
		Summary:     "Seek relative to the cursor",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body StepRequest
	}) (*viewOutput, error) {
		return withSession(reg, input.ID, func(s *session.Session) error {
			_, err := s.Step(input.Body.Delta)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "speed-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/speed",
		Summary:     "Change the playback speed multiplier",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		sessionPath
		Body SpeedRequest
	}) (*viewOutput, error) {
		return withSession(reg, input.ID, func(s *session.Session) error {
			return s.SetSpeed(input.Body.Speed)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "continue-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/continue",
		Summary:     "Generate the next chunk inside the session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body ContinueResponse `json:"body"`
	}, error) {
		s, err := reg.get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := s.Continue(ctx)
		var serr *repo.StorageError
		if err != nil && !errors.As(err, &serr) {
			return nil, handleError(err)
		}
		body := continueResponse(s.Key, res)
		if serr != nil {
			body.StorageError = serr.Error()
		}
		return &struct {
			Body ContinueResponse `json:"body"`
		}{Body: body}, nil
	})
}

func registerSessionAction(api huma.API, reg *sessionRegistry, name, summary string, act func(*session.Session) error) {
	huma.Register(api, huma.Operation{
		OperationID: name + "-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/" + name,
		Summary:     summary,
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*viewOutput, error) {
		return withSession(reg, input.ID, act)
	})
}

func withSession(reg *sessionRegistry, id string, act func(*session.Session) error) (*viewOutput, error) {
	s, err := reg.get(id)
	if err != nil {
		return nil, handleError(err)
	}
	if err := act(s); err != nil {
		return nil, handleError(err)
	}
	return &viewOutput{Body: s.View()}, nil
}
