package repo

import (
	"context"
	"database/sql"
	"errors"

	"parc/internal/domain"
	"parc/internal/timeline"
)

// SaveSimulation upserts the aggregate under key.
func (r Repo) SaveSimulation(ctx context.Context, key string, sim domain.SimulationResult, updatedAt string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("save", key, err)
	}
	defer tx.Rollback()
	if err := r.SaveSimulationTx(ctx, tx, key, sim, updatedAt); err != nil {
		return err
	}
	return storageErr("save", key, tx.Commit())
}

func (r Repo) SaveSimulationTx(ctx context.Context, tx *sql.Tx, key string, sim domain.SimulationResult, updatedAt string) error {
	doc, err := timeline.Export(sim)
	if err != nil {
		return storageErr("save", key, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO simulations(key,title,event_count,document,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(key) DO UPDATE SET title=excluded.title, event_count=excluded.event_count, document=excluded.document, updated_at=excluded.updated_at`,
		key, sim.SimulationTitle, len(sim.SimulationTimeline), string(doc), updatedAt)
	return storageErr("save", key, err)
}

// LoadSimulation returns the stored aggregate. found is false when nothing is
// stored or the stored document no longer parses; malformed rows are removed.
func (r Repo) LoadSimulation(ctx context.Context, key string) (sim domain.SimulationResult, found bool, err error) {
	var doc string
	err = r.DB.QueryRowContext(ctx, `SELECT document FROM simulations WHERE key=?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SimulationResult{}, false, nil
	}
	if err != nil {
		return domain.SimulationResult{}, false, storageErr("load", key, err)
	}
	sim, perr := timeline.ParseDocument([]byte(doc))
	if perr != nil {
		if _, err := r.DB.ExecContext(ctx, `DELETE FROM simulations WHERE key=?`, key); err != nil {
			return domain.SimulationResult{}, false, storageErr("discard", key, err)
		}
		return domain.SimulationResult{}, false, nil
	}
	return sim, true, nil
}

func (r Repo) ListSimulations(ctx context.Context) ([]domain.StoredSimulation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,title,event_count,updated_at FROM simulations ORDER BY updated_at DESC, key`)
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	defer rows.Close()
	var res []domain.StoredSimulation
	for rows.Next() {
		var s domain.StoredSimulation
		if err := rows.Scan(&s.Key, &s.Title, &s.Events, &s.UpdatedAt); err != nil {
			return nil, storageErr("list", "", err)
		}
		res = append(res, s)
	}
	return res, storageErr("list", "", rows.Err())
}

// DeleteSimulationTx removes the aggregate under key, ErrNotFound when absent.
func (r Repo) DeleteSimulationTx(ctx context.Context, tx *sql.Tx, key string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM simulations WHERE key=?`, key)
	if err != nil {
		return storageErr("delete", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StoredLengthTx is the stored timeline length under key, zero when absent.
func (r Repo) StoredLengthTx(ctx context.Context, tx *sql.Tx, key string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT event_count FROM simulations WHERE key=?`, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("load", key, err)
	}
	return n, nil
}
