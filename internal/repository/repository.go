// Package repository folds timeline commits into per-author virtual file trees.
package repository

import (
	"sort"
	"strings"

	"parc/internal/domain"
	"parc/internal/graph"
)

// Repositories maps each author to their files at a cursor.
type Repositories struct {
	authors []string
	roster  []string
	files   map[string]map[string]domain.RepositoryFile
}

// Match is one search hit.
type Match struct {
	Author string                `json:"author"`
	File   domain.RepositoryFile `json:"file"`
}

// Reconcile applies every commit of events 0..cursor in order. A later commit at
// the same path replaces the earlier file for that author. File entries without
// a path or content are skipped with a warning; the rest of the commit applies.
func Reconcile(r *domain.SimulationResult, cursor graph.Cursor) (Repositories, []domain.Warning) {
	repos := Repositories{files: make(map[string]map[string]domain.RepositoryFile)}
	if r == nil {
		return repos, nil
	}
	for _, u := range r.GeneratedUsers {
		repos.roster = append(repos.roster, u.Name)
	}
	var warnings []domain.Warning
	for i, ev := range r.SimulationTimeline[:cursor.Count(len(r.SimulationTimeline))] {
		if ev.RepositoryCommit == nil {
			continue
		}
		if ev.TriggeredBy == "" {
			warnings = append(warnings, domain.Warning{Event: i, Message: "commit without author skipped"})
			continue
		}
		for _, f := range ev.RepositoryCommit.Files {
			switch {
			case f.Path == "":
				warnings = append(warnings, domain.Warning{Event: i, Message: "file without path skipped"})
				continue
			case f.Content == "":
				warnings = append(warnings, domain.Warning{Event: i, Message: "file " + f.Path + " without content skipped"})
				continue
			}
			byPath, ok := repos.files[ev.TriggeredBy]
			if !ok {
				byPath = make(map[string]domain.RepositoryFile)
				repos.files[ev.TriggeredBy] = byPath
				repos.authors = append(repos.authors, ev.TriggeredBy)
			}
			byPath[f.Path] = f
		}
	}
	return repos, warnings
}

// Authors lists authors in the order of their first stored file.
func (r Repositories) Authors() []string {
	return append([]string(nil), r.authors...)
}

// Files returns an author's files sorted by path.
func (r Repositories) Files(author string) []domain.RepositoryFile {
	byPath := r.files[author]
	out := make([]domain.RepositoryFile, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len is the total number of files across authors.
func (r Repositories) Len() int {
	n := 0
	for _, byPath := range r.files {
		n += len(byPath)
	}
	return n
}

// Search matches term against path or content, case-insensitively, across all
// authors in roster order, then authors missing from the roster in the order
// they first committed. An empty term matches nothing.
func (r Repositories) Search(term string) []Match {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	var out []Match
	for _, author := range r.searchOrder() {
		for _, f := range r.Files(author) {
			if strings.Contains(strings.ToLower(f.Path), term) || strings.Contains(strings.ToLower(f.Content), term) {
				out = append(out, Match{Author: author, File: f})
			}
		}
	}
	return out
}

func (r Repositories) searchOrder() []string {
	order := make([]string, 0, len(r.authors))
	listed := make(map[string]bool, len(r.roster))
	for _, name := range r.roster {
		if listed[name] {
			continue
		}
		listed[name] = true
		if _, ok := r.files[name]; ok {
			order = append(order, name)
		}
	}
	for _, name := range r.authors {
		if !listed[name] {
			order = append(order, name)
		}
	}
	return order
}

// Summary lists the distinct file paths committed in events.
func Summary(events []domain.Event) string {
	seen := make(map[string]bool)
	var paths []string
	for _, ev := range events {
		if ev.RepositoryCommit == nil {
			continue
		}
		for _, f := range ev.RepositoryCommit.Files {
			if f.Path == "" || seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			paths = append(paths, f.Path)
		}
	}
	if len(paths) == 0 {
		return "no files yet"
	}
	return strings.Join(paths, ", ")
}
