package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"parc/internal/domain"
	"parc/internal/explorer"
	"parc/internal/graph"
	"parc/internal/repo"
	"parc/internal/repository"
)

// GraphView is the knowledge graph at a cursor.
type GraphView struct {
	Cursor    int              `json:"cursor"`
	Snapshot  graph.Snapshot   `json:"snapshot"`
	Highlight []string         `json:"highlight,omitempty"`
	Warnings  []domain.Warning `json:"warnings,omitempty"`
}

// RepositoryView lists every author's files at a cursor.
type RepositoryView struct {
	Cursor   int                                `json:"cursor"`
	Authors  []string                           `json:"authors"`
	Files    map[string][]domain.RepositoryFile `json:"files"`
	Warnings []domain.Warning                   `json:"warnings,omitempty"`
}

// ReconcileGraph folds sim at cursor and reports warnings through the logger and metrics.
func (e Engine) ReconcileGraph(key string, sim *domain.SimulationResult, cursor graph.Cursor) GraphView {
	snap, warnings := graph.Reconcile(sim, cursor)
	e.ReportWarnings("graph", key, warnings)
	view := GraphView{Cursor: cursor.Count(sim.Len()) - 1, Snapshot: snap, Warnings: warnings}
	if view.Cursor >= 0 {
		view.Highlight = graph.Highlight(sim, view.Cursor)
	}
	return view
}

func (e Engine) ReconcileRepositories(key string, sim *domain.SimulationResult, cursor graph.Cursor) (repository.Repositories, RepositoryView) {
	repos, warnings := repository.Reconcile(sim, cursor)
	e.ReportWarnings("repository", key, warnings)
	view := RepositoryView{
		Cursor:   cursor.Count(sim.Len()) - 1,
		Authors:  repos.Authors(),
		Files:    make(map[string][]domain.RepositoryFile),
		Warnings: warnings,
	}
	for _, a := range view.Authors {
		view.Files[a] = repos.Files(a)
	}
	return repos, view
}

func (e Engine) Graph(ctx context.Context, key string, cursor graph.Cursor) (GraphView, error) {
	sim, err := e.Get(ctx, key)
	if err != nil {
		return GraphView{}, err
	}
	return e.ReconcileGraph(e.Key(key), &sim, cursor), nil
}

func (e Engine) Repositories(ctx context.Context, key string, cursor graph.Cursor) (RepositoryView, error) {
	sim, err := e.Get(ctx, key)
	if err != nil {
		return RepositoryView{}, err
	}
	_, view := e.ReconcileRepositories(e.Key(key), &sim, cursor)
	return view, nil
}

// Tree returns the flattened explorer listing of one author's files with every
// directory expanded.
func (e Engine) Tree(ctx context.Context, key string, cursor graph.Cursor, author string, filter explorer.Filter) ([]explorer.Item, error) {
	sim, err := e.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	repos, _ := e.ReconcileRepositories(e.Key(key), &sim, cursor)
	roots := explorer.Build(repos.Files(author), filter)
	return explorer.Flatten(roots, explorer.ExpandAll(roots)), nil
}

// RunFile runs or analyzes one of author's files at cursor. A file missing
// from the author's repository is repo.ErrNotFound.
func (e Engine) RunFile(ctx context.Context, key string, cursor graph.Cursor, author, path string) (explorer.RunReport, error) {
	sim, err := e.Get(ctx, key)
	if err != nil {
		return explorer.RunReport{}, err
	}
	repos, _ := e.ReconcileRepositories(e.Key(key), &sim, cursor)
	return RunRepositoryFile(repos, author, path)
}

// RunRepositoryFile looks up path in author's files and runs it.
func RunRepositoryFile(repos repository.Repositories, author, path string) (explorer.RunReport, error) {
	for _, f := range repos.Files(author) {
		if f.Path == path {
			return explorer.Run(f)
		}
	}
	return explorer.RunReport{}, fmt.Errorf("file %s of %s: %w", path, author, repo.ErrNotFound)
}

func (e Engine) Search(ctx context.Context, key string, cursor graph.Cursor, term string) ([]repository.Match, error) {
	sim, err := e.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	repos, _ := e.ReconcileRepositories(e.Key(key), &sim, cursor)
	return repos.Search(term), nil
}

// ReportWarnings logs reconciliation warnings at warn level and counts them.
func (e Engine) ReportWarnings(reconciler, key string, warnings []domain.Warning) {
	if len(warnings) == 0 {
		return
	}
	e.Metrics.Warnings(reconciler, len(warnings))
	for _, w := range warnings {
		e.logger().Warn("reconcile warning",
			zap.String("reconciler", reconciler),
			zap.String("simulation", key),
			zap.Int("event", w.Event),
			zap.String("warning", w.Message),
		)
	}
}
