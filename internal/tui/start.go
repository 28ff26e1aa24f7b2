package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Notifier turns session change callbacks into TUI redraws. Notify never
// blocks; bursts of changes collapse into one redraw.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *Notifier) Changes() <-chan struct{} {
	return n.ch
}

// Start runs the player until the user quits or ctx ends.
func Start(ctx context.Context, sess Session, n *Notifier) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var changes <-chan struct{}
	if n != nil {
		changes = n.Changes()
	}
	program := tea.NewProgram(NewModel(ctx, sess, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return clockTickMsg{} })
}
