package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parc/internal/playback"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	focusStyle   = lipgloss.NewStyle().Reverse(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true, false, false, false)
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(renderHeader(m))
	b.WriteString("\n\n")
	if m.pane == PaneExplorer {
		b.WriteString(renderExplorer(m))
	} else {
		b.WriteString(renderTimeline(m))
	}
	b.WriteString("\n")
	b.WriteString(RenderBottomBar(m))
	return b.String()
}

func renderHeader(m Model) string {
	title := m.view.Title
	if title == "" {
		title = "no simulation yet"
	}
	st := m.view.Playback
	right := fmt.Sprintf("%s %d/%d x%g", st.State, st.Cursor+1, st.Length, st.Speed)
	if m.view.Remaining != "" {
		right += " " + m.view.Remaining + " left"
	}
	if m.view.Autopilot {
		right += " autopilot"
	}
	return layoutBar(titleStyle.Render("PARC "+title), right, m.windowWidth)
}

func renderTimeline(m Model) string {
	var b strings.Builder
	ev := m.view.Event
	switch {
	case ev != nil:
		fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("Event %d by %s", m.view.Playback.Cursor+1, ev.TriggeredBy)))
		b.WriteString(ev.Summary + "\n")
		if ev.Details != "" {
			b.WriteString(dimStyle.Render(ev.Details) + "\n")
		}
		if len(ev.AffectedDomains) > 0 {
			b.WriteString(dimStyle.Render("domains: "+strings.Join(ev.AffectedDomains, ", ")) + "\n")
		}
	case m.view.Playback.Length == 0:
		b.WriteString(dimStyle.Render("Timeline is empty. Press c to generate the first chunk.") + "\n")
	default:
		b.WriteString(dimStyle.Render("Before the first event. Press space to play.") + "\n")
	}

	g := m.view.Graph
	graph := fmt.Sprintf("graph: %d nodes, %d links", len(g.Snapshot.Nodes), len(g.Snapshot.Links))
	if len(g.Highlight) > 0 {
		graph += " | new: " + strings.Join(g.Highlight, ", ")
	}
	b.WriteString(sectionStyle.Render(graph) + "\n")
	if n := len(g.Warnings); n > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("%d reconciliation warnings", n)) + "\n")
	}
	if m.view.LastError != "" {
		b.WriteString(warnStyle.Render("last error: "+m.view.LastError) + "\n")
	}
	return b.String()
}

func renderExplorer(m Model) string {
	var b strings.Builder
	author := m.author()
	if author == "" {
		b.WriteString(dimStyle.Render("No repositories at this point of the timeline.") + "\n")
		return b.String()
	}
	filter := "all"
	if m.filterIdx >= 0 {
		filter = strings.Join(typeNames(m), ",")
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(fmt.Sprintf("repo %s (%d/%d)", author, m.authorIdx+1, len(m.authors))), dimStyle.Render("filter: "+filter))

	items := m.nav.Items()
	focus := m.nav.FocusIndex()
	if len(items) == 0 {
		b.WriteString(dimStyle.Render("no files match the filter") + "\n")
	}
	for i, it := range items {
		label := it.Name
		if it.IsDir {
			marker := "+ "
			if m.nav.IsOpen(it.Path) {
				marker = "- "
			}
			label = marker + label + "/"
		} else {
			label = "  " + label
		}
		line := strings.Repeat("  ", it.Level) + label
		if i == focus {
			line = focusStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if m.preview != nil {
		b.WriteString(sectionStyle.Render(titleStyle.Render(m.previewTitle)) + "\n")
		b.WriteString(m.viewport.View() + "\n")
	}
	return b.String()
}

func typeNames(m Model) []string {
	types := m.filter().Types()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func RenderBottomBar(m Model) string {
	left := strings.Join(actionHints(m), " ")
	if m.status != "" {
		left += " | " + m.status
	}
	right := "timeline"
	if m.pane == PaneExplorer {
		right = "explorer"
	}
	width := m.windowWidth
	if width > 0 {
		width = max(width-2, 0)
	}
	return lipgloss.NewStyle().Reverse(true).Padding(0, 1).Render(layoutBar(left, right, width))
}

func actionHints(m Model) []string {
	if m.pane == PaneExplorer {
		return []string{"[arrows]move", "[enter]open", "[r]un", "[f]ilter", "[a]uthor", "[tab]timeline", "[q]uit"}
	}
	play := "[space]play"
	if m.view.Playback.State == playback.StateRunning {
		play = "[space]pause"
	}
	hints := []string{play, "[</>]step", "[+/-]speed", "[c]ontinue", "[A]utopilot", "[tab]explorer", "[q]uit"}
	if m.actionInProgress {
		hints[3] = "(generating)"
	}
	if m.view.Autopilot {
		hints[4] = "[x]stop autopilot"
	}
	return hints
}

func layoutBar(left, right string, width int) string {
	if width <= 0 {
		return left + " " + right
	}
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}
