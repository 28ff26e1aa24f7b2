package domain

import "fmt"

// FileType enumerates repository artifact kinds.
type FileType string

const (
	FileScript   FileType = "script"
	FileDataset  FileType = "dataset"
	FileReport   FileType = "report"
	FileCode     FileType = "code"
	FileDocument FileType = "document"
	FileImage    FileType = "image"
	FileAudio    FileType = "audio"
	FileVideo    FileType = "video"
)

// FileTypes lists every known FileType in display order.
var FileTypes = []FileType{FileScript, FileDataset, FileReport, FileCode, FileDocument, FileImage, FileAudio, FileVideo}

// Valid reports whether t is one of FileTypes.
func (t FileType) Valid() bool {
	for _, ft := range FileTypes {
		if ft == t {
			return true
		}
	}
	return false
}

type GraphNode struct {
	ID     string `json:"id" validate:"required"`
	Label  string `json:"label"`
	Domain string `json:"domain"`
}

type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Key is the dedup key of a link: ordered source/target pair.
func (l GraphLink) Key() string {
	return l.Source + "-" + l.Target
}

type GraphChange struct {
	NewNodes []GraphNode `json:"newNodes,omitempty" validate:"dive"`
	NewLinks []GraphLink `json:"newLinks,omitempty"`
}

type RepositoryFile struct {
	Path    string   `json:"path"`
	Content string   `json:"content"`
	Type    FileType `json:"type" validate:"omitempty,filetype"`
}

type RepositoryCommit struct {
	Message string           `json:"message"`
	Files   []RepositoryFile `json:"files" validate:"dive"`
}

type Event struct {
	Timestamp        int               `json:"timestamp"`
	Summary          string            `json:"summary" validate:"required"`
	Details          string            `json:"details"`
	TriggeredBy      string            `json:"triggeredBy" validate:"required"`
	AffectedDomains  []string          `json:"affectedDomains"`
	GraphChanges     *GraphChange      `json:"graphChanges,omitempty"`
	RepositoryCommit *RepositoryCommit `json:"repositoryCommit,omitempty"`
}

// NewNodes returns the event's introduced nodes, empty when graphChanges is absent.
func (e Event) NewNodes() []GraphNode {
	if e.GraphChanges == nil {
		return nil
	}
	return e.GraphChanges.NewNodes
}

// NewLinks returns the event's introduced links, empty when graphChanges is absent.
func (e Event) NewLinks() []GraphLink {
	if e.GraphChanges == nil {
		return nil
	}
	return e.GraphChanges.NewLinks
}

type GeneratedUser struct {
	Name           string `json:"name" validate:"required"`
	PersonaSummary string `json:"personaSummary"`
}

// SimulationResult is the aggregate exchanged with the generator, persisted and exported.
type SimulationResult struct {
	SimulationTitle    string          `json:"simulationTitle" validate:"required"`
	ResearchDomains    []string        `json:"researchDomains" validate:"required"`
	GeneratedUsers     []GeneratedUser `json:"generatedUsers" validate:"required,dive"`
	SimulationTimeline []Event         `json:"simulationTimeline" validate:"required,dive"`
	FinalReport        string          `json:"finalReport"`
}

// Len is the number of events in the timeline.
func (r *SimulationResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.SimulationTimeline)
}

// LastIndex is the index of the last event, -1 for an empty or nil aggregate.
func (r *SimulationResult) LastIndex() int {
	return r.Len() - 1
}

// SessionEvent is a row of the append-only session log.
type SessionEvent struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	SimulationKey string `json:"simulation_key"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}

// StoredSimulation describes a persisted aggregate without its body.
type StoredSimulation struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Events    int    `json:"events"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Warning is a non-fatal reconciliation diagnostic. Event is the timeline index
// that produced it.
type Warning struct {
	Event   int    `json:"event"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("event %d: %s", w.Event, w.Message)
}
