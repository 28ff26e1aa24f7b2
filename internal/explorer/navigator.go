package explorer

import "parc/internal/domain"

// Key is a navigation command.
type Key int

const (
	KeyUp Key = iota
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyEnter
	KeySpace
)

// DefaultOpen are the folders expanded in a fresh navigator.
var DefaultOpen = []string{"experiments", "data", "reports"}

// Navigator keeps the open folder set and a single focused item over a tree.
// Whenever the visible list is non-empty exactly one item is focused.
type Navigator struct {
	roots   []*Node
	open    map[string]bool
	items   []Item
	focused string
}

func NewNavigator() *Navigator {
	n := &Navigator{open: make(map[string]bool)}
	for _, p := range DefaultOpen {
		n.open[p] = true
	}
	return n
}

// SetTree replaces the tree, keeping the open set and, when still visible, the focus.
func (n *Navigator) SetTree(roots []*Node) {
	n.roots = roots
	n.refresh()
}

func (n *Navigator) Items() []Item {
	return n.items
}

func (n *Navigator) IsOpen(path string) bool {
	return n.open[path]
}

// Focused returns the focused item, false when the list is empty.
func (n *Navigator) Focused() (Item, bool) {
	i := n.FocusIndex()
	if i < 0 {
		return Item{}, false
	}
	return n.items[i], true
}

// FocusIndex is the position of the focused item, -1 when the list is empty.
func (n *Navigator) FocusIndex() int {
	for i, it := range n.items {
		if it.Path == n.focused {
			return i
		}
	}
	return -1
}

// Focus moves focus to path if it is visible.
func (n *Navigator) Focus(path string) bool {
	for _, it := range n.items {
		if it.Path == path {
			n.focused = path
			return true
		}
	}
	return false
}

// Handle applies a key. It returns the file activated by enter or space on a file leaf.
func (n *Navigator) Handle(k Key) *domain.RepositoryFile {
	i := n.FocusIndex()
	if i < 0 {
		return nil
	}
	cur := n.items[i]
	switch k {
	case KeyUp:
		if i > 0 {
			n.focused = n.items[i-1].Path
		}
	case KeyDown:
		if i < len(n.items)-1 {
			n.focused = n.items[i+1].Path
		}
	case KeyRight:
		if cur.IsDir && !n.open[cur.Path] {
			n.open[cur.Path] = true
			n.refresh()
		}
	case KeyLeft:
		if cur.IsDir && n.open[cur.Path] {
			delete(n.open, cur.Path)
			n.refresh()
		}
	case KeyHome:
		n.focused = n.items[0].Path
	case KeyEnd:
		n.focused = n.items[len(n.items)-1].Path
	case KeyEnter, KeySpace:
		if cur.IsDir {
			n.Toggle(cur.Path)
			return nil
		}
		return cur.File
	}
	return nil
}

// Toggle expands or collapses the directory at path.
func (n *Navigator) Toggle(path string) {
	if n.open[path] {
		delete(n.open, path)
	} else {
		n.open[path] = true
	}
	n.refresh()
}

func (n *Navigator) refresh() {
	n.items = Flatten(n.roots, n.open)
	if len(n.items) == 0 {
		n.focused = ""
		return
	}
	if n.FocusIndex() < 0 {
		n.focused = n.items[0].Path
	}
}
