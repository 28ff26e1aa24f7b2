// Package events appends to the session log that webhooks and `parc log tail` read.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SimulationCreated     = "simulation.created"
	SimulationChunkMerged = "simulation.chunk_merged"
	SimulationImported    = "simulation.imported"
	SimulationReset       = "simulation.reset"
	SessionExpired        = "session.expired"
)

// Types lists every session event type.
var Types = []string{SimulationCreated, SimulationChunkMerged, SimulationImported, SimulationReset, SessionExpired}

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, simKey, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,simulation_key,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, simKey, actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}
