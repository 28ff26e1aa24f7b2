package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"parc/internal/continuation"
	"parc/internal/domain"
	"parc/internal/engine"
	"parc/internal/explorer"
	"parc/internal/playback"
	"parc/internal/repository"
	"parc/internal/session"
)

// Session is the part of *session.Session the TUI drives.
type Session interface {
	View() session.View
	Play() error
	Pause() error
	Step(delta int) (int, error)
	SetSpeed(speed float64) error
	Continue(ctx context.Context) (engine.ContinueResult, error)
	StartAutopilot(interval time.Duration, done func(continuation.LoopResult, error)) error
	Cancel()
	Repositories() repository.Repositories
}

type Pane int

const (
	PaneTimeline Pane = iota
	PaneExplorer
)

// Speeds are the playback multipliers +/- walk through.
var Speeds = []float64{0.25, 0.5, 1, 2, 4, 8}

type changedMsg struct{}

type clockTickMsg struct{}

// ContinueComplete reports a finished continuation started with c.
type ContinueComplete struct {
	Result engine.ContinueResult
	Err    error
}

// AutopilotComplete reports the end of an autopilot run started with A.
type AutopilotComplete struct {
	Result continuation.LoopResult
	Err    error
}

type Model struct {
	ctx     context.Context
	sess    Session
	changes <-chan struct{}

	view      session.View
	pane      Pane
	nav       *explorer.Navigator
	authors   []string
	authorIdx int
	// filterIdx is -1 for all types, otherwise an index into domain.FileTypes.
	filterIdx int
	preview   *domain.RepositoryFile
	// previewTitle names what the viewport shows: a file or a run transcript.
	previewTitle string
	viewport     viewport.Model

	windowWidth      int
	windowHeight     int
	actionInProgress bool
	status           string
}

func NewModel(ctx context.Context, sess Session, changes <-chan struct{}) Model {
	m := Model{
		ctx:       ctx,
		sess:      sess,
		changes:   changes,
		pane:      PaneTimeline,
		nav:       explorer.NewNavigator(),
		filterIdx: -1,
		viewport:  viewport.New(80, 10),
	}
	return m.refresh()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.changes), clockTick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = typed.Width
		m.windowHeight = typed.Height
		m.viewport.Width = max(typed.Width, 20)
		m.viewport.Height = max(typed.Height/3, 3)
		return m, nil
	case changedMsg:
		return m.refresh(), waitForChange(m.changes)
	case clockTickMsg:
		return m.refresh(), clockTick()
	case ContinueComplete:
		m.actionInProgress = false
		switch {
		case typed.Err != nil:
			m.status = "continue failed: " + typed.Err.Error()
		default:
			m.status = fmt.Sprintf("merged %d events", typed.Result.Added)
		}
		return m.refresh(), nil
	case AutopilotComplete:
		switch {
		case typed.Err != nil:
			m.status = "autopilot: " + describeErr(typed.Err)
		default:
			m.status = fmt.Sprintf("autopilot stopped (%s) after %d chunks", typed.Result.Reason, typed.Result.Steps)
		}
		return m.refresh(), nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		if m.pane == PaneTimeline {
			m.pane = PaneExplorer
		} else {
			m.pane = PaneTimeline
		}
		return m.refresh(), nil
	case "c":
		if m.actionInProgress {
			m.status = "a continuation is already running"
			return m, nil
		}
		m.actionInProgress = true
		m.status = "generating next chunk..."
		return m, continueCmd(m.ctx, m.sess)
	case "A":
		if m.view.Autopilot {
			m.status = "autopilot is already running"
			return m, nil
		}
		m.status = "autopilot started, x stops it"
		return m, autopilotCmd(m.sess)
	case "x":
		m.sess.Cancel()
		m.status = "stopped"
		return m.refresh(), nil
	}
	if m.pane == PaneExplorer {
		return m.handleExplorerKey(msg)
	}
	return m.handleTimelineKey(msg)
}

func (m Model) handleTimelineKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch msg.String() {
	case " ":
		if m.view.Playback.State == playback.StateRunning {
			err = m.sess.Pause()
		} else {
			err = m.sess.Play()
		}
	case "left", "h":
		_, err = m.sess.Step(-1)
	case "right", "l":
		_, err = m.sess.Step(1)
	case "+", "=":
		err = m.sess.SetSpeed(nextSpeed(m.view.Playback.Speed, 1))
	case "-", "_":
		err = m.sess.SetSpeed(nextSpeed(m.view.Playback.Speed, -1))
	default:
		return m, nil
	}
	m.status = describeErr(err)
	return m.refresh(), nil
}

var explorerKeys = map[string]explorer.Key{
	"up":    explorer.KeyUp,
	"k":     explorer.KeyUp,
	"down":  explorer.KeyDown,
	"j":     explorer.KeyDown,
	"left":  explorer.KeyLeft,
	"h":     explorer.KeyLeft,
	"right": explorer.KeyRight,
	"l":     explorer.KeyRight,
	"home":  explorer.KeyHome,
	"g":     explorer.KeyHome,
	"end":   explorer.KeyEnd,
	"G":     explorer.KeyEnd,
	"enter": explorer.KeyEnter,
	" ":     explorer.KeySpace,
}

func (m Model) handleExplorerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "f":
		m.filterIdx++
		if m.filterIdx >= len(domain.FileTypes) {
			m.filterIdx = -1
		}
		return m.refresh(), nil
	case "a":
		if len(m.authors) > 0 {
			m.authorIdx = (m.authorIdx + 1) % len(m.authors)
			m.preview = nil
		}
		return m.refresh(), nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "r":
		return m.runFocused(), nil
	}
	k, ok := explorerKeys[msg.String()]
	if !ok {
		return m, nil
	}
	if file := m.nav.Handle(k); file != nil {
		f := *file
		m.preview = &f
		m.previewTitle = f.Path
		m.viewport.SetContent(f.Content)
		m.viewport.GotoTop()
	}
	return m, nil
}

// runFocused runs the focused script or analyzes the focused dataset and
// shows the transcript in the preview.
func (m Model) runFocused() Model {
	item, ok := m.nav.Focused()
	if !ok || item.File == nil || !explorer.Runnable(*item.File) {
		m.status = "focus a script or dataset to run it"
		return m
	}
	report, err := explorer.Run(*item.File)
	if err != nil {
		m.status = err.Error()
		return m
	}
	f := *item.File
	m.preview = &f
	m.previewTitle = "run " + f.Path
	m.viewport.SetContent(strings.Join(report.Lines, "\n"))
	m.viewport.GotoTop()
	m.status = "ran " + f.Path
	if report.Failed {
		m.status += " (failed)"
	}
	return m
}

// refresh re-reads the session and rebuilds the explorer tree for the
// selected author at the current cursor.
func (m Model) refresh() Model {
	if m.sess == nil {
		return m
	}
	m.view = m.sess.View()
	repos := m.sess.Repositories()
	m.authors = repos.Authors()
	if m.authorIdx >= len(m.authors) {
		m.authorIdx = 0
	}
	var files []domain.RepositoryFile
	if author := m.author(); author != "" {
		files = repos.Files(author)
	}
	m.nav.SetTree(explorer.Build(files, m.filter()))
	return m
}

func (m Model) author() string {
	if len(m.authors) == 0 {
		return ""
	}
	return m.authors[m.authorIdx]
}

func (m Model) filter() explorer.Filter {
	if m.filterIdx < 0 {
		return explorer.NewFilter()
	}
	return explorer.NewFilter(domain.FileTypes[m.filterIdx])
}

func nextSpeed(current float64, dir int) float64 {
	idx := 0
	for i, s := range Speeds {
		if s <= current {
			idx = i
		}
	}
	idx += dir
	idx = max(0, min(idx, len(Speeds)-1))
	return Speeds[idx]
}

func describeErr(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, playback.ErrLoading):
		return "busy: continuation in progress"
	case errors.Is(err, playback.ErrInvalidTransition):
		return "nothing to play yet, press c to continue"
	}
	return err.Error()
}

func continueCmd(ctx context.Context, sess Session) tea.Cmd {
	return func() tea.Msg {
		res, err := sess.Continue(ctx)
		return ContinueComplete{Result: res, Err: err}
	}
}

func autopilotCmd(sess Session) tea.Cmd {
	return func() tea.Msg {
		done := make(chan AutopilotComplete, 1)
		err := sess.StartAutopilot(0, func(res continuation.LoopResult, err error) {
			done <- AutopilotComplete{Result: res, Err: err}
		})
		if err != nil {
			return AutopilotComplete{Err: err}
		}
		return <-done
	}
}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}
