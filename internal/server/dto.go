package server

import (
	"encoding/json"

	"parc/internal/domain"
)

type SimulationResponse struct {
	Key        string                  `json:"key"`
	Events     int                     `json:"events"`
	Simulation domain.SimulationResult `json:"simulation"`
}

type ContinueResponse struct {
	Key        string                  `json:"key"`
	ChunkID    string                  `json:"chunk_id"`
	Previous   int                     `json:"previous"`
	Added      int                     `json:"added"`
	Cursor     int                     `json:"cursor"`
	Simulation domain.SimulationResult `json:"simulation"`
	// StorageError is set when the merge succeeded but could not be saved.
	StorageError string `json:"storage_error,omitempty"`
}

type TreeResponse struct {
	Author string     `json:"author"`
	Items  []TreeItem `json:"items"`
}

type TreeItem struct {
	Path  string          `json:"path"`
	Name  string          `json:"name"`
	Level int             `json:"level"`
	IsDir bool            `json:"is_dir"`
	Type  domain.FileType `json:"type,omitempty"`
}

type SearchResponse struct {
	Term    string        `json:"term"`
	Matches []SearchMatch `json:"matches"`
}

type SearchMatch struct {
	Author string          `json:"author"`
	Path   string          `json:"path"`
	Type   domain.FileType `json:"type,omitempty"`
}

type EventResponse struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts" format:"date-time"`
	Type          string          `json:"type"`
	SimulationKey string          `json:"simulation_key"`
	ActorID       string          `json:"actor_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type OpenSessionRequest struct {
	Key string `json:"key,omitempty"`
	// DurationSeconds bounds the session with a countdown when positive.
	DurationSeconds int `json:"duration_seconds,omitempty" minimum:"0"`
}

type AutopilotRequest struct {
	// IntervalSeconds overrides the configured pause between chunks when positive.
	IntervalSeconds int `json:"interval_seconds,omitempty" minimum:"0"`
}

type SeekRequest struct {
	Index int `json:"index"`
}

type StepRequest struct {
	Delta int `json:"delta"`
}

type SpeedRequest struct {
	Speed float64 `json:"speed" exclusiveMinimum:"0"`
}

func eventResponse(evt domain.SessionEvent) EventResponse {
	resp := EventResponse{
		ID:            evt.ID,
		TS:            evt.TS,
		Type:          evt.Type,
		SimulationKey: evt.SimulationKey,
		ActorID:       evt.ActorID,
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		resp.Payload = json.RawMessage(evt.Payload)
	}
	return resp
}
