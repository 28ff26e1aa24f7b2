package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"parc/internal/continuation"
	"parc/internal/domain"
	"parc/internal/engine"
	"parc/internal/graph"
	"parc/internal/playback"
	"parc/internal/repository"
	"parc/internal/session"
)

type fakeSession struct {
	sim         domain.SimulationResult
	status      playback.Status
	calls       []string
	continueErr error
	autopilot   bool
}

func newFakeSession() *fakeSession {
	sim := domain.SimulationResult{
		SimulationTitle: "Collective Memory",
		ResearchDomains: []string{"Neuroscience"},
		GeneratedUsers:  []domain.GeneratedUser{{Name: "Ada"}, {Name: "Grace"}},
		SimulationTimeline: []domain.Event{
			{Summary: "first", TriggeredBy: "Ada", RepositoryCommit: &domain.RepositoryCommit{Files: []domain.RepositoryFile{
				{Path: "data/a.csv", Content: "x,y", Type: domain.FileDataset},
				{Path: "reports/a.md", Content: "# a", Type: domain.FileReport},
			}}},
			{Summary: "second", TriggeredBy: "Grace"},
		},
	}
	return &fakeSession{sim: sim, status: playback.Status{State: playback.StatePaused, Cursor: 0, Length: 2, Speed: 1}}
}

func (f *fakeSession) View() session.View {
	v := session.View{Title: f.sim.SimulationTitle, Playback: f.status, Autopilot: f.autopilot}
	if f.status.Cursor >= 0 {
		ev := f.sim.SimulationTimeline[f.status.Cursor]
		v.Event = &ev
	}
	return v
}

func (f *fakeSession) Play() error {
	f.calls = append(f.calls, "play")
	f.status.State = playback.StateRunning
	return nil
}

func (f *fakeSession) Pause() error {
	f.calls = append(f.calls, "pause")
	f.status.State = playback.StatePaused
	return nil
}

func (f *fakeSession) Step(delta int) (int, error) {
	f.calls = append(f.calls, fmt.Sprintf("step %d", delta))
	f.status.Cursor = max(-1, min(f.status.Cursor+delta, f.status.Length-1))
	return f.status.Cursor, nil
}

func (f *fakeSession) SetSpeed(speed float64) error {
	f.calls = append(f.calls, fmt.Sprintf("speed %g", speed))
	f.status.Speed = speed
	return nil
}

func (f *fakeSession) Continue(ctx context.Context) (engine.ContinueResult, error) {
	f.calls = append(f.calls, "continue")
	if f.continueErr != nil {
		return engine.ContinueResult{}, f.continueErr
	}
	return engine.ContinueResult{Simulation: f.sim, Previous: 2, Added: 0}, nil
}

func (f *fakeSession) StartAutopilot(interval time.Duration, done func(continuation.LoopResult, error)) error {
	f.calls = append(f.calls, "autopilot")
	if f.autopilot {
		return playback.ErrLoading
	}
	f.autopilot = true
	go done(continuation.LoopResult{Reason: continuation.StopCap, Steps: 3, Length: 5}, nil)
	return nil
}

func (f *fakeSession) Cancel() {
	f.calls = append(f.calls, "cancel")
	f.autopilot = false
}

func (f *fakeSession) Repositories() repository.Repositories {
	repos, _ := repository.Reconcile(&f.sim, graph.At(f.status.Cursor))
	return repos
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestQuitKeys(t *testing.T) {
	for _, msg := range []tea.KeyMsg{{Type: tea.KeyCtrlC}, runes("q")} {
		_, cmd := NewModel(context.Background(), newFakeSession(), nil).Update(msg)
		if cmd == nil {
			t.Fatalf("expected quit command for %q", msg.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected tea.QuitMsg for %q", msg.String())
		}
	}
}

func TestTimelineKeysDriveSession(t *testing.T) {
	sess := newFakeSession()
	m := NewModel(context.Background(), sess, nil)
	m = press(t, m,
		tea.KeyMsg{Type: tea.KeySpace},
		tea.KeyMsg{Type: tea.KeySpace},
		tea.KeyMsg{Type: tea.KeyRight},
		tea.KeyMsg{Type: tea.KeyLeft},
		runes("+"),
		runes("+"),
		runes("-"),
	)
	want := []string{"play", "pause", "step 1", "step -1", "speed 2", "speed 4", "speed 2"}
	if strings.Join(sess.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", sess.calls, want)
	}
	if m.view.Playback.Speed != 2 {
		t.Fatalf("view not refreshed: %+v", m.view.Playback)
	}
}

func TestNextSpeedClamps(t *testing.T) {
	if got := nextSpeed(8, 1); got != 8 {
		t.Fatalf("expected clamp at 8, got %g", got)
	}
	if got := nextSpeed(0.25, -1); got != 0.25 {
		t.Fatalf("expected clamp at 0.25, got %g", got)
	}
	if got := nextSpeed(3, 1); got != 4 {
		t.Fatalf("expected 4 after 3, got %g", got)
	}
}

func TestContinueRunsOnceAndReportsResult(t *testing.T) {
	sess := newFakeSession()
	m := NewModel(context.Background(), sess, nil)
	next, cmd := m.Update(runes("c"))
	m = next.(Model)
	if cmd == nil || !m.actionInProgress {
		t.Fatalf("expected continue command and in-progress state")
	}
	m = press(t, m, runes("c"))
	if !strings.Contains(m.status, "already running") {
		t.Fatalf("expected duplicate continue to be refused, status %q", m.status)
	}
	msg := cmd()
	m = press(t, m, msg)
	if m.actionInProgress || len(sess.calls) != 1 {
		t.Fatalf("unexpected state after completion: %v %v", m.actionInProgress, sess.calls)
	}

	sess.continueErr = errors.New("model unavailable")
	next, cmd = m.Update(runes("c"))
	m = press(t, next.(Model), cmd())
	if !strings.Contains(m.status, "model unavailable") {
		t.Fatalf("expected failure in status, got %q", m.status)
	}
}

func TestExplorerNavigationAndFilter(t *testing.T) {
	sess := newFakeSession()
	m := NewModel(context.Background(), sess, nil)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.pane != PaneExplorer || m.author() != "Ada" {
		t.Fatalf("expected explorer on Ada, got pane %d author %q", m.pane, m.author())
	}
	if got := len(m.nav.Items()); got != 4 {
		t.Fatalf("expected 4 visible items, got %d", got)
	}

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyEnter})
	if m.preview == nil || m.preview.Path != "data/a.csv" {
		t.Fatalf("expected data/a.csv preview, got %+v", m.preview)
	}
	if !strings.Contains(m.View(), "x,y") {
		t.Fatalf("preview content not rendered")
	}

	m = press(t, m, runes("f"))
	if len(m.nav.Items()) != 0 || !strings.Contains(m.View(), "no files match") {
		t.Fatalf("script filter should hide every file")
	}
	m = press(t, m, runes("f"))
	items := m.nav.Items()
	if len(items) != 2 || items[1].Path != "data/a.csv" {
		t.Fatalf("dataset filter items = %+v", items)
	}
	for range domain.FileTypes {
		m = press(t, m, runes("f"))
	}
	if m.filterIdx != 0 {
		t.Fatalf("filter should wrap through all, got %d", m.filterIdx)
	}

	m = press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if len(sess.calls) != 0 {
		t.Fatalf("space in explorer must not touch playback: %v", sess.calls)
	}
}

func TestChangedMessageRefreshesAndRewaits(t *testing.T) {
	sess := newFakeSession()
	changes := make(chan struct{}, 1)
	m := NewModel(context.Background(), sess, changes)
	sess.status.Cursor = 1
	next, cmd := m.Update(changedMsg{})
	m = next.(Model)
	if m.view.Event == nil || m.view.Event.Summary != "second" {
		t.Fatalf("expected refreshed event, got %+v", m.view.Event)
	}
	if cmd == nil {
		t.Fatalf("expected to keep waiting for changes")
	}
	changes <- struct{}{}
	if _, ok := cmd().(changedMsg); !ok {
		t.Fatalf("expected changedMsg from wait command")
	}
}

func TestNotifierCoalesces(t *testing.T) {
	n := NewNotifier()
	n.Notify()
	n.Notify()
	<-n.Changes()
	select {
	case <-n.Changes():
		t.Fatalf("expected a single pending notification")
	default:
	}
}

func TestViewShowsEmptyHint(t *testing.T) {
	sess := newFakeSession()
	sess.status = playback.Status{State: playback.StateIdle, Cursor: -1, Speed: 1}
	sess.sim.SimulationTimeline = nil
	m := NewModel(context.Background(), sess, nil)
	if !strings.Contains(m.View(), "Press c") {
		t.Fatalf("expected empty timeline hint, got:\n%s", m.View())
	}
}

func TestAutopilotKeyStartsRunAndReportsOutcome(t *testing.T) {
	sess := newFakeSession()
	m := NewModel(context.Background(), sess, nil)
	next, cmd := m.Update(runes("A"))
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("expected autopilot command")
	}
	msg := cmd()
	done, ok := msg.(AutopilotComplete)
	if !ok || done.Result.Reason != continuation.StopCap {
		t.Fatalf("unexpected autopilot message %+v", msg)
	}
	m = press(t, m, msg)
	if !strings.Contains(m.status, "cap_reached") || !strings.Contains(m.status, "3 chunks") {
		t.Fatalf("status = %q", m.status)
	}
	if !strings.Contains(m.View(), "autopilot") {
		t.Fatalf("header should show autopilot while it runs")
	}
	if !strings.Contains(m.View(), "[x]stop autopilot") {
		t.Fatalf("expected stop hint while autopilot runs")
	}

	m = press(t, m, runes("A"))
	if !strings.Contains(m.status, "already running") {
		t.Fatalf("second A should be refused, status %q", m.status)
	}
	m = press(t, m, runes("x"))
	if sess.autopilot || m.view.Autopilot {
		t.Fatalf("x should cancel autopilot")
	}
	if strings.Join(sess.calls, ",") != "autopilot,cancel" {
		t.Fatalf("calls = %v", sess.calls)
	}
}

func TestAutopilotStartFailureIsReported(t *testing.T) {
	sess := newFakeSession()
	sess.autopilot = true
	msg := autopilotCmd(sess)()
	m := press(t, NewModel(context.Background(), sess, nil), msg)
	if !strings.Contains(m.status, "busy") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestRunKeyAnalyzesFocusedDataset(t *testing.T) {
	sess := newFakeSession()
	sess.sim.SimulationTimeline[0].RepositoryCommit.Files[0].Content = "x,y\n1,a\n2,b\n"
	m := NewModel(context.Background(), sess, nil)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab}, runes("r"))
	if !strings.Contains(m.status, "focus a script or dataset") {
		t.Fatalf("running a folder should be refused, status %q", m.status)
	}

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, runes("r"))
	if m.preview == nil || m.preview.Path != "data/a.csv" {
		t.Fatalf("expected data/a.csv run, got %+v", m.preview)
	}
	out := m.View()
	if !strings.Contains(out, "run data/a.csv") || !strings.Contains(out, "Analysis complete") {
		t.Fatalf("run transcript not rendered:\n%s", out)
	}
	if !strings.Contains(m.status, "ran data/a.csv") {
		t.Fatalf("status = %q", m.status)
	}
}
