// Package graph folds a simulation timeline into a deduplicated knowledge graph.
package graph

import (
	"fmt"
	"math"
	"strings"

	"parc/internal/domain"
)

// Cursor selects the events folded into a view: events 0..Cursor inclusive.
// -1 folds no events. All folds the whole timeline.
type Cursor int

const All Cursor = math.MaxInt

// At returns the cursor for index k. Values below -1 are treated as -1.
func At(k int) Cursor {
	if k < -1 {
		return -1
	}
	return Cursor(k)
}

// Count is how many of n events the cursor covers.
func (c Cursor) Count(n int) int {
	if c < 0 {
		return 0
	}
	if int(c) >= n {
		return n
	}
	return int(c) + 1
}

func (c Cursor) String() string {
	if c == All {
		return "all"
	}
	return fmt.Sprintf("%d", int(c))
}

// Snapshot is the graph topology at a cursor. It carries no layout state.
type Snapshot struct {
	Nodes []domain.GraphNode `json:"nodes"`
	Links []domain.GraphLink `json:"links"`
}

// Reconcile builds the snapshot for events 0..cursor of r. Research domains seed
// the node set; the first occurrence of a node id or link key wins; links whose
// endpoints are unknown are dropped with a warning.
func Reconcile(r *domain.SimulationResult, cursor Cursor) (Snapshot, []domain.Warning) {
	snap := Snapshot{Nodes: []domain.GraphNode{}, Links: []domain.GraphLink{}}
	if r == nil {
		return snap, nil
	}
	var warnings []domain.Warning
	known := make(map[string]bool)

	for _, d := range r.ResearchDomains {
		if d == "" || known[d] {
			continue
		}
		known[d] = true
		snap.Nodes = append(snap.Nodes, domain.GraphNode{ID: d, Label: d, Domain: d})
	}

	events := r.SimulationTimeline[:cursor.Count(len(r.SimulationTimeline))]
	for i, ev := range events {
		for _, n := range ev.NewNodes() {
			if n.ID == "" {
				warnings = append(warnings, domain.Warning{Event: i, Message: "node without id skipped"})
				continue
			}
			if known[n.ID] {
				continue
			}
			known[n.ID] = true
			snap.Nodes = append(snap.Nodes, n)
		}
	}

	seen := make(map[string]bool)
	for i, ev := range events {
		for _, l := range ev.NewLinks() {
			if !known[l.Source] || !known[l.Target] {
				warnings = append(warnings, domain.Warning{
					Event:   i,
					Message: fmt.Sprintf("link %s references unknown node", l.Key()),
				})
				continue
			}
			if seen[l.Key()] {
				continue
			}
			seen[l.Key()] = true
			snap.Links = append(snap.Links, l)
		}
	}
	return snap, warnings
}

// Highlight returns the ids of nodes introduced by the event at index, in event order.
func Highlight(r *domain.SimulationResult, index int) []string {
	if r == nil || index < 0 || index >= len(r.SimulationTimeline) {
		return nil
	}
	var ids []string
	for _, n := range r.SimulationTimeline[index].NewNodes() {
		if n.ID != "" {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Summary lists the distinct concepts of a timeline as "'label' (domain)".
func Summary(events []domain.Event) string {
	seen := make(map[string]bool)
	var parts []string
	for _, ev := range events {
		for _, n := range ev.NewNodes() {
			s := fmt.Sprintf("'%s' (%s)", n.Label, n.Domain)
			if seen[s] {
				continue
			}
			seen[s] = true
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "an initial set of domain concepts"
	}
	return strings.Join(parts, ", ")
}
