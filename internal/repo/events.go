package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"parc/internal/domain"
)

const eventColumns = `id,ts,type,simulation_key,actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.SessionEvent, error) {
	defer rows.Close()
	var res []domain.SessionEvent
	for rows.Next() {
		var e domain.SessionEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SimulationKey, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents lists events newest first. cursor, when positive, returns only
// events older than that id.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, simKey, evtType string) ([]domain.SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if simKey != "" {
		clauses = append(clauses, "simulation_key=?")
		args = append(args, simKey)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, simKey string) ([]domain.SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if simKey != "" {
		clauses = append(clauses, "simulation_key=?")
		args = append(args, simKey)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context, simKey string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE (? IS NULL OR simulation_key=?)`, nullable(simKey), simKey)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
