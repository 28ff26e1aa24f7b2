// Package timeline holds the authoritative simulation aggregate and its pure merge rules.
package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"parc/internal/domain"
)

// Store holds the current aggregate. Every replacement bumps Revision, which
// derived views use as the aggregate's identity.
type Store struct {
	current  *domain.SimulationResult
	revision uint64
}

// Current returns the held aggregate, nil when nothing is loaded.
func (s *Store) Current() *domain.SimulationResult {
	return s.current
}

func (s *Store) Revision() uint64 {
	return s.revision
}

// Initialize replaces all state with r after validating its shape.
func (s *Store) Initialize(r domain.SimulationResult) error {
	if err := Validate(r); err != nil {
		return err
	}
	s.set(&r)
	return nil
}

// Merge appends chunk to the held aggregate, or adopts chunk when nothing is held.
func (s *Store) Merge(chunk domain.SimulationResult) domain.SimulationResult {
	var merged domain.SimulationResult
	if s.current == nil {
		merged = chunk
	} else {
		merged = Append(*s.current, chunk)
	}
	s.set(&merged)
	return merged
}

// Adopt replaces the held aggregate with an already merged and validated one.
func (s *Store) Adopt(r domain.SimulationResult) {
	s.set(&r)
}

// Clear drops the held aggregate.
func (s *Store) Clear() {
	s.set(nil)
}

func (s *Store) set(r *domain.SimulationResult) {
	s.current = r
	s.revision++
}

// Append returns previous with chunk's events appended and chunk's final report.
// Neither input is modified.
func Append(previous, chunk domain.SimulationResult) domain.SimulationResult {
	events := make([]domain.Event, 0, len(previous.SimulationTimeline)+len(chunk.SimulationTimeline))
	events = append(events, previous.SimulationTimeline...)
	events = append(events, chunk.SimulationTimeline...)
	return domain.SimulationResult{
		SimulationTitle:    previous.SimulationTitle,
		ResearchDomains:    append([]string{}, previous.ResearchDomains...),
		GeneratedUsers:     append([]domain.GeneratedUser{}, previous.GeneratedUsers...),
		SimulationTimeline: events,
		FinalReport:        chunk.FinalReport,
	}
}

// ValidateChunk checks generator output before it is merged.
func ValidateChunk(chunk domain.SimulationResult) error {
	return Validate(chunk)
}

// importFields must be present in an imported document.
var importFields = []string{"simulationTitle", "simulationTimeline", "generatedUsers"}

// ParseDocument decodes an exported document. The three import fields must be
// present and the decoded aggregate must validate.
func ParseDocument(data []byte) (domain.SimulationResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.SimulationResult{}, newValidationError(fmt.Sprintf("document is not a JSON object: %v", err))
	}
	var missing []string
	for _, f := range importFields {
		v, ok := raw[f]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, f+" is required")
		}
	}
	if len(missing) > 0 {
		return domain.SimulationResult{}, newValidationError(missing...)
	}
	var r domain.SimulationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.SimulationResult{}, newValidationError(fmt.Sprintf("document has wrong shape: %v", err))
	}
	if err := Validate(r); err != nil {
		return domain.SimulationResult{}, err
	}
	return r, nil
}

// Export renders r as an indented JSON document.
func Export(r domain.SimulationResult) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ExportFilename names an export written at now.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("parc-simulation-%s.json", now.UTC().Format("2006-01-02T15-04-05"))
}
