// Package explorer turns an author's flat file list into a navigable tree.
package explorer

import (
	"sort"
	"strings"

	"parc/internal/domain"
)

// Node is a directory or file in the tree. A node is a directory when it has
// children; a path may be both a file and a directory.
type Node struct {
	Name     string
	Path     string
	File     *domain.RepositoryFile
	Children []*Node
}

func (n *Node) IsDir() bool {
	return n.Children != nil
}

// Filter is the set of file types to show. The zero value shows everything.
type Filter struct {
	types map[domain.FileType]bool
}

func NewFilter(types ...domain.FileType) Filter {
	f := Filter{}
	for _, t := range types {
		f.Toggle(t)
	}
	return f
}

// Toggle adds t to the set, or removes it when present.
func (f *Filter) Toggle(t domain.FileType) {
	if f.types == nil {
		f.types = make(map[domain.FileType]bool)
	}
	if f.types[t] {
		delete(f.types, t)
		return
	}
	f.types[t] = true
}

func (f Filter) Has(t domain.FileType) bool {
	return f.types[t]
}

func (f Filter) Empty() bool {
	return len(f.types) == 0
}

// Matches reports whether file passes the filter.
func (f Filter) Matches(file domain.RepositoryFile) bool {
	return f.Empty() || f.types[file.Type]
}

// Types lists the active types in display order.
func (f Filter) Types() []domain.FileType {
	var out []domain.FileType
	for _, t := range domain.FileTypes {
		if f.types[t] {
			out = append(out, t)
		}
	}
	return out
}

// Build filters files and splits their paths on "/" into a sorted tree:
// directories first, then by name.
func Build(files []domain.RepositoryFile, filter Filter) []*Node {
	root := &Node{Children: []*Node{}}
	for i := range files {
		f := files[i]
		if !filter.Matches(f) {
			continue
		}
		parts := splitPath(f.Path)
		if len(parts) == 0 {
			continue
		}
		cur := root
		for j, part := range parts {
			child := cur.child(part)
			if child == nil {
				child = &Node{Name: part, Path: strings.Join(parts[:j+1], "/")}
				cur.Children = append(cur.Children, child)
			}
			if j == len(parts)-1 {
				child.File = &f
				continue
			}
			if child.Children == nil {
				child.Children = []*Node{}
			}
			cur = child
		}
	}
	sortTree(root.Children)
	return root.Children
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func sortTree(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
	for _, n := range nodes {
		if n.IsDir() {
			sortTree(n.Children)
		}
	}
}

// Item is one visible row of a flattened tree.
type Item struct {
	Path  string                 `json:"path"`
	Name  string                 `json:"name"`
	Level int                    `json:"level"`
	IsDir bool                   `json:"is_dir"`
	File  *domain.RepositoryFile `json:"file,omitempty"`
}

// Flatten lists the tree in pre-order, omitting children of directories not in open.
func Flatten(roots []*Node, open map[string]bool) []Item {
	var out []Item
	var walk func(nodes []*Node, level int)
	walk = func(nodes []*Node, level int) {
		for _, n := range nodes {
			out = append(out, Item{Path: n.Path, Name: n.Name, Level: level, IsDir: n.IsDir(), File: n.File})
			if n.IsDir() && open[n.Path] {
				walk(n.Children, level+1)
			}
		}
	}
	walk(roots, 0)
	return out
}

// ExpandAll returns an open set containing every directory of the tree.
func ExpandAll(roots []*Node) map[string]bool {
	open := make(map[string]bool)
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			if n.IsDir() {
				open[n.Path] = true
				walk(n.Children)
			}
		}
	}
	walk(roots)
	return open
}
