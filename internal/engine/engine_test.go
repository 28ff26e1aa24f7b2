package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"parc/internal/config"
	"parc/internal/continuation"
	"parc/internal/db"
	"parc/internal/domain"
	"parc/internal/engine"
	"parc/internal/events"
	"parc/internal/explorer"
	"parc/internal/generator"
	"parc/internal/graph"
	"parc/internal/migrate"
	"parc/internal/playback"
	"parc/internal/repo"
	"parc/internal/timeline"
)

type testEnv struct {
	Engine engine.Engine
	Gen    *generator.Static
	Ctx    context.Context
}

func chunk(title string, author string, summaries ...string) domain.SimulationResult {
	r := domain.SimulationResult{
		SimulationTitle: title,
		ResearchDomains: []string{"Physics"},
		GeneratedUsers:  []domain.GeneratedUser{{Name: author}},
		FinalReport:     "report after " + summaries[len(summaries)-1],
	}
	for i, s := range summaries {
		r.SimulationTimeline = append(r.SimulationTimeline, domain.Event{
			Timestamp:   i,
			Summary:     s,
			TriggeredBy: author,
			GraphChanges: &domain.GraphChange{
				NewNodes: []domain.GraphNode{{ID: s, Label: strings.ToUpper(s), Domain: "Physics"}},
			},
			RepositoryCommit: &domain.RepositoryCommit{
				Message: s,
				Files:   []domain.RepositoryFile{{Path: "experiments/" + s + ".py", Content: "# " + s, Type: domain.FileScript}},
			},
		})
	}
	return r
}

func newTestEnv(t *testing.T, chunks ...domain.SimulationResult) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gen := generator.NewStatic(chunks...)
	eng := engine.New(conn, config.Default())
	eng.Fetcher = continuation.NewFetcher(gen)
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Gen: gen, Ctx: context.Background()}
}

func eventTypes(t *testing.T, env testEnv) []string {
	t.Helper()
	evts, err := env.Engine.SessionEvents(env.Ctx, 50, 0, "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var out []string
	for i := len(evts) - 1; i >= 0; i-- {
		out = append(out, evts[i].Type)
	}
	return out
}

func TestContinueCreatesThenMerges(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a", "b"), chunk("ignored", "Ada", "c"))

	first, err := env.Engine.Continue(env.Ctx, "", "tester")
	if err != nil {
		t.Fatalf("first continue: %v", err)
	}
	if first.Previous != 0 || first.Added != 2 || first.Cursor() != -1 {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := env.Engine.Continue(env.Ctx, "", "tester")
	if err != nil {
		t.Fatalf("second continue: %v", err)
	}
	if second.Previous != 2 || second.Added != 1 || second.Cursor() != 1 {
		t.Fatalf("unexpected second result %+v", second)
	}
	if second.Simulation.SimulationTitle != "T" || second.Simulation.FinalReport != "report after c" {
		t.Fatalf("merge semantics broken: %+v", second.Simulation)
	}

	stored, err := env.Engine.Get(env.Ctx, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Len() != 3 {
		t.Fatalf("expected 3 stored events, got %d", stored.Len())
	}
	if got := eventTypes(t, env); strings.Join(got, ",") != events.SimulationCreated+","+events.SimulationChunkMerged {
		t.Fatalf("unexpected session log %v", got)
	}
}

func TestContinueFailureLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a"))
	if _, err := env.Engine.Continue(env.Ctx, "", "tester"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	_, err := env.Engine.Continue(env.Ctx, "", "tester")
	var gerr *continuation.GenerationError
	if !errors.As(err, &gerr) || !errors.Is(err, generator.ErrExhausted) {
		t.Fatalf("expected generation error, got %v", err)
	}
	stored, _ := env.Engine.Get(env.Ctx, "")
	if stored.Len() != 1 {
		t.Fatalf("failed continuation changed stored state: %d events", stored.Len())
	}
}

func TestContinueWithoutGenerator(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Fetcher = nil
	if _, err := env.Engine.Continue(env.Ctx, "", "tester"); !errors.Is(err, generator.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestImportReplacesAndRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a"))
	if _, err := env.Engine.Continue(env.Ctx, "", "tester"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if _, err := env.Engine.Import(env.Ctx, "", []byte(`{"simulationTitle":"X","generatedUsers":[]}`), "tester"); err == nil {
		t.Fatalf("expected validation error")
	} else {
		var verr *timeline.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	}
	stored, _ := env.Engine.Get(env.Ctx, "")
	if stored.SimulationTitle != "T" {
		t.Fatalf("invalid import touched stored state")
	}

	doc, err := timeline.Export(chunk("Imported", "Grace", "x", "y", "z"))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	sim, err := env.Engine.Import(env.Ctx, "", doc, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sim.Len() != 3 {
		t.Fatalf("expected 3 events, got %d", sim.Len())
	}
	data, name, err := env.Engine.Export(env.Ctx, "")
	if err != nil {
		t.Fatalf("export stored: %v", err)
	}
	if name != "parc-simulation-2025-03-01T12-00-00.json" || !strings.Contains(string(data), `"Imported"`) {
		t.Fatalf("unexpected export %s", name)
	}
}

func TestResetAndNotFound(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a"))
	if err := env.Engine.Reset(env.Ctx, "", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.Continue(env.Ctx, "", "tester"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if err := env.Engine.Reset(env.Ctx, "", "tester"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := env.Engine.Graph(env.Ctx, "", graph.All); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestViewsAtCursor(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a", "b", "c"))
	if _, err := env.Engine.Continue(env.Ctx, "", "tester"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	g, err := env.Engine.Graph(env.Ctx, "", graph.At(1))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	// one domain node plus two event nodes
	if len(g.Snapshot.Nodes) != 3 || g.Cursor != 1 {
		t.Fatalf("unexpected graph view %+v", g)
	}
	if len(g.Highlight) != 1 || g.Highlight[0] != "b" {
		t.Fatalf("unexpected highlight %v", g.Highlight)
	}

	repos, err := env.Engine.Repositories(env.Ctx, "", graph.All)
	if err != nil {
		t.Fatalf("repositories: %v", err)
	}
	if len(repos.Authors) != 1 || len(repos.Files["Ada"]) != 3 {
		t.Fatalf("unexpected repositories %+v", repos)
	}

	items, err := env.Engine.Tree(env.Ctx, "", graph.At(0), "Ada", explorer.Filter{})
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(items) != 2 || items[1].Path != "experiments/a.py" {
		t.Fatalf("unexpected tree %+v", items)
	}

	matches, err := env.Engine.Search(env.Ctx, "", graph.All, "# B")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].File.Path != "experiments/b.py" {
		t.Fatalf("unexpected matches %+v", matches)
	}
}

func TestAutopilotStopsAtCap(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a", "b"), chunk("T", "Ada", "c", "d"), chunk("T", "Ada", "e", "f"))
	env.Engine.Config.Simulation.MaxEvents = 4
	var merges int
	res, err := env.Engine.Autopilot(env.Ctx, "", engine.AutopilotOptions{
		ActorID:  "autopilot",
		Interval: time.Millisecond,
		OnMerge:  func(engine.ContinueResult) { merges++ },
	})
	if err != nil {
		t.Fatalf("autopilot: %v", err)
	}
	if res.Reason != continuation.StopCap || res.Length != 4 || merges != 2 {
		t.Fatalf("unexpected loop result %+v merges=%d", res, merges)
	}
	if env.Gen.Calls() != 2 {
		t.Fatalf("expected 2 generator calls, got %d", env.Gen.Calls())
	}
}

type gatedGen struct {
	next    domain.SimulationResult
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGen) Name() string { return "gated" }

func (g *gatedGen) GenerateNextChunk(ctx context.Context, _ *domain.SimulationResult) (domain.SimulationResult, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.next, nil
	case <-ctx.Done():
		return domain.SimulationResult{}, ctx.Err()
	}
}

func TestConcurrentWritesOnOneKeyAreRejected(t *testing.T) {
	env := newTestEnv(t)
	doc, err := timeline.Export(chunk("T", "Ada", "a"))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := env.Engine.Import(env.Ctx, "", doc, "tester"); err != nil {
		t.Fatalf("import: %v", err)
	}
	gen := &gatedGen{next: chunk("T", "Ada", "b", "c"), started: make(chan struct{}), release: make(chan struct{})}
	env.Engine.Fetcher = continuation.NewFetcher(gen)

	done := make(chan error, 1)
	go func() {
		_, err := env.Engine.Continue(env.Ctx, "", "first")
		done <- err
	}()
	<-gen.started

	if _, err := env.Engine.Continue(env.Ctx, "", "second"); !errors.Is(err, playback.ErrLoading) {
		t.Fatalf("expected ErrLoading for a second continue, got %v", err)
	}
	if _, err := env.Engine.Import(env.Ctx, "", doc, "second"); !errors.Is(err, playback.ErrLoading) {
		t.Fatalf("expected ErrLoading for import, got %v", err)
	}
	if err := env.Engine.Reset(env.Ctx, "", "second"); !errors.Is(err, playback.ErrLoading) {
		t.Fatalf("expected ErrLoading for reset, got %v", err)
	}
	release, err := env.Engine.Claim("other")
	if err != nil {
		t.Fatalf("another key should not be blocked, got %v", err)
	}
	release()

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("first continue: %v", err)
	}
	stored, err := env.Engine.Get(env.Ctx, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Len() != 3 {
		t.Fatalf("expected 3 stored events, got %d", stored.Len())
	}
	if _, err := env.Engine.Continue(env.Ctx, "", "third"); errors.Is(err, playback.ErrLoading) {
		t.Fatalf("key still claimed after the first continue returned")
	}
}

func TestPersistRefusesStaleMerge(t *testing.T) {
	env := newTestEnv(t, chunk("T", "Ada", "a", "b"), chunk("T", "Ada", "c"))
	if _, err := env.Engine.Continue(env.Ctx, "", "tester"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	stale, err := env.Engine.Fetch(env.Ctx, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	err = env.Engine.Persist(env.Ctx, "", "tester", stale)
	if !errors.Is(err, engine.ErrConflict) || !errors.Is(err, playback.ErrLoading) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	stored, _ := env.Engine.Get(env.Ctx, "")
	if stored.Len() != 2 {
		t.Fatalf("stale merge overwrote stored state: %d events", stored.Len())
	}
	if got := eventTypes(t, env); len(got) != 1 {
		t.Fatalf("stale merge was logged: %v", got)
	}
}
