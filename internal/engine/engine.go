// Package engine implements simulation operations against the persisted aggregate.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parc/internal/config"
	"parc/internal/continuation"
	"parc/internal/domain"
	"parc/internal/events"
	"parc/internal/generator"
	"parc/internal/metrics"
	"parc/internal/repo"
	"parc/internal/timeline"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Fetcher *continuation.Fetcher
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Now     func() time.Time

	flights *inflight
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Logger:  zap.NewNop(),
		Now:     time.Now,
		flights: newInflight(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Key resolves an empty simulation key to the configured default.
func (e Engine) Key(key string) string {
	if key != "" {
		return key
	}
	if e.Config != nil && e.Config.Simulation.Key != "" {
		return e.Config.Simulation.Key
	}
	return config.Default().Simulation.Key
}

// MaxEvents is the autopilot safety cap.
func (e Engine) MaxEvents() int {
	if e.Config != nil && e.Config.Simulation.MaxEvents > 0 {
		return e.Config.Simulation.MaxEvents
	}
	return continuation.DefaultMaxEvents
}

// Load returns the stored aggregate. found is false when nothing usable is stored.
func (e Engine) Load(ctx context.Context, key string) (domain.SimulationResult, bool, error) {
	key = e.Key(key)
	sim, found, err := e.Repo.LoadSimulation(ctx, key)
	if err != nil {
		e.Metrics.StorageError("load")
		return domain.SimulationResult{}, false, err
	}
	return sim, found, nil
}

// Get is Load with absence reported as repo.ErrNotFound.
func (e Engine) Get(ctx context.Context, key string) (domain.SimulationResult, error) {
	sim, found, err := e.Load(ctx, key)
	if err != nil {
		return domain.SimulationResult{}, err
	}
	if !found {
		return domain.SimulationResult{}, fmt.Errorf("simulation %s: %w", e.Key(key), repo.ErrNotFound)
	}
	return sim, nil
}

// ContinueResult describes a committed continuation.
type ContinueResult struct {
	Simulation domain.SimulationResult `json:"simulation"`
	// Previous is the timeline length before the merge; playback resumes at Previous-1.
	Previous int    `json:"previous"`
	Added    int    `json:"added"`
	ChunkID  string `json:"chunk_id"`
}

// Cursor is where playback sits after the merge: the last previously known event.
func (r ContinueResult) Cursor() int {
	return r.Previous - 1
}

// Continue fetches the next chunk for the stored aggregate (or the first chunk
// when nothing is stored) and persists the merge. A merge that cannot be
// persisted is still returned alongside the *repo.StorageError. Only one
// write per key runs at a time; the others fail with playback.ErrLoading.
func (e Engine) Continue(ctx context.Context, key, actorID string) (ContinueResult, error) {
	if e.Fetcher == nil {
		return ContinueResult{}, generator.ErrNotConfigured
	}
	key = e.Key(key)
	release, err := e.Claim(key)
	if err != nil {
		return ContinueResult{}, err
	}
	defer release()
	prev, found, err := e.Load(ctx, key)
	if err != nil {
		e.logger().Warn("continuing without stored state", zap.String("simulation", key), zap.Error(err))
	}
	var previous *domain.SimulationResult
	if found {
		previous = &prev
	}
	return e.continueFrom(ctx, key, actorID, previous)
}

// ContinueFrom merges the next chunk onto previous and persists the result.
func (e Engine) ContinueFrom(ctx context.Context, key, actorID string, previous *domain.SimulationResult) (ContinueResult, error) {
	release, err := e.Claim(key)
	if err != nil {
		return ContinueResult{}, err
	}
	defer release()
	return e.continueFrom(ctx, key, actorID, previous)
}

func (e Engine) continueFrom(ctx context.Context, key, actorID string, previous *domain.SimulationResult) (ContinueResult, error) {
	res, err := e.Fetch(ctx, previous)
	if err != nil {
		return ContinueResult{}, err
	}
	return res, e.Persist(ctx, key, actorID, res)
}

// Fetch asks the generator for the next chunk and merges it in memory only.
func (e Engine) Fetch(ctx context.Context, previous *domain.SimulationResult) (ContinueResult, error) {
	if e.Fetcher == nil {
		return ContinueResult{}, generator.ErrNotConfigured
	}
	merged, err := e.Fetcher.Run(ctx, previous)
	if err != nil {
		return ContinueResult{}, err
	}
	return ContinueResult{
		Simulation: merged,
		Previous:   previous.Len(),
		Added:      merged.Len() - previous.Len(),
		ChunkID:    uuid.NewString(),
	}, nil
}

// Persist stores a fetched merge and logs it to the session log. A stored
// timeline longer than res.Previous means another writer merged first; the
// merge is refused with ErrConflict and nothing is written.
func (e Engine) Persist(ctx context.Context, key, actorID string, res ContinueResult) error {
	key = e.Key(key)
	evtType := events.SimulationChunkMerged
	if res.Previous == 0 {
		evtType = events.SimulationCreated
	}
	check := func(tx *sql.Tx) error {
		stored, err := e.Repo.StoredLengthTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored > res.Previous {
			e.logger().Warn("merge refused", zap.String("simulation", key), zap.Int("stored", stored), zap.Int("previous", res.Previous))
			return ErrConflict
		}
		return nil
	}
	err := e.commit(ctx, key, res.Simulation, evtType, actorID, check, events.Payload{
		"chunk_id": res.ChunkID,
		"added":    res.Added,
		"events":   res.Simulation.Len(),
		"title":    res.Simulation.SimulationTitle,
	})
	if err != nil {
		return err
	}
	e.logger().Info("simulation continued",
		zap.String("simulation", key),
		zap.String("chunk", res.ChunkID),
		zap.Int("added", res.Added),
		zap.Int("events", res.Simulation.Len()),
	)
	return nil
}

// Import parses an exported document and replaces the stored aggregate.
// Invalid documents leave stored state untouched.
func (e Engine) Import(ctx context.Context, key string, data []byte, actorID string) (domain.SimulationResult, error) {
	key = e.Key(key)
	sim, err := timeline.ParseDocument(data)
	if err != nil {
		return domain.SimulationResult{}, err
	}
	release, err := e.Claim(key)
	if err != nil {
		return domain.SimulationResult{}, err
	}
	defer release()
	err = e.commit(ctx, key, sim, events.SimulationImported, actorID, nil, events.Payload{
		"events": sim.Len(),
		"title":  sim.SimulationTitle,
	})
	if err != nil {
		return sim, err
	}
	e.logger().Info("simulation imported", zap.String("simulation", key), zap.Int("events", sim.Len()))
	return sim, nil
}

// Export renders the stored aggregate as an exported document and its suggested filename.
func (e Engine) Export(ctx context.Context, key string) ([]byte, string, error) {
	sim, err := e.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	data, err := timeline.Export(sim)
	if err != nil {
		return nil, "", err
	}
	return data, timeline.ExportFilename(e.now()), nil
}

// Reset removes the stored aggregate.
func (e Engine) Reset(ctx context.Context, key, actorID string) error {
	key = e.Key(key)
	release, err := e.Claim(key)
	if err != nil {
		return err
	}
	defer release()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return &repo.StorageError{Op: "reset", Key: key, Cause: err}
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSimulationTx(ctx, tx, key); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("simulation %s: %w", key, err)
		}
		e.Metrics.StorageError("reset")
		return err
	}
	if err := e.writer().Append(ctx, tx, events.SimulationReset, key, actorID, nil); err != nil {
		return &repo.StorageError{Op: "reset", Key: key, Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &repo.StorageError{Op: "reset", Key: key, Cause: err}
	}
	e.logger().Info("simulation reset", zap.String("simulation", key))
	return nil
}

// Save persists sim without logging a session event.
func (e Engine) Save(ctx context.Context, key string, sim domain.SimulationResult) error {
	key = e.Key(key)
	if err := e.Repo.SaveSimulation(ctx, key, sim, e.now().UTC().Format(time.RFC3339)); err != nil {
		e.Metrics.StorageError("save")
		return err
	}
	return nil
}

// RecordExpired logs that a timed session ran out.
func (e Engine) RecordExpired(ctx context.Context, key, actorID string, length int) error {
	key = e.Key(key)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return &repo.StorageError{Op: "log", Key: key, Cause: err}
	}
	defer tx.Rollback()
	if err := e.writer().Append(ctx, tx, events.SessionExpired, key, actorID, events.Payload{"events": length}); err != nil {
		return &repo.StorageError{Op: "log", Key: key, Cause: err}
	}
	return e.wrapCommit("log", key, tx.Commit())
}

// SessionEvents lists the session log newest first.
func (e Engine) SessionEvents(ctx context.Context, limit int, cursor int64, key, evtType string) ([]domain.SessionEvent, error) {
	return e.Repo.LatestEvents(ctx, limit, cursor, key, evtType)
}

func (e Engine) List(ctx context.Context) ([]domain.StoredSimulation, error) {
	return e.Repo.ListSimulations(ctx)
}

func (e Engine) commit(ctx context.Context, key string, sim domain.SimulationResult, evtType, actorID string, check func(*sql.Tx) error, payload events.Payload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return e.wrapCommit("save", key, err)
	}
	defer tx.Rollback()
	if check != nil {
		if err := check(tx); err != nil {
			return err
		}
	}
	if err := e.Repo.SaveSimulationTx(ctx, tx, key, sim, e.now().UTC().Format(time.RFC3339)); err != nil {
		e.Metrics.StorageError("save")
		return err
	}
	if err := e.writer().Append(ctx, tx, evtType, key, actorID, payload); err != nil {
		return e.wrapCommit("save", key, err)
	}
	return e.wrapCommit("save", key, tx.Commit())
}

func (e Engine) wrapCommit(op, key string, err error) error {
	if err == nil {
		return nil
	}
	e.Metrics.StorageError(op)
	return &repo.StorageError{Op: op, Key: key, Cause: err}
}
