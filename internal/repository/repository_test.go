package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parc/internal/domain"
	"parc/internal/graph"
)

func commit(author string, files ...domain.RepositoryFile) domain.Event {
	return domain.Event{
		Summary:          "commit",
		TriggeredBy:      author,
		RepositoryCommit: &domain.RepositoryCommit{Message: "m", Files: files},
	}
}

func quiet() domain.Event {
	return domain.Event{Summary: "talk", TriggeredBy: "x"}
}

func TestReconcileLastWriteWins(t *testing.T) {
	r := &domain.SimulationResult{SimulationTimeline: []domain.Event{
		quiet(), quiet(),
		commit("Ada", domain.RepositoryFile{Path: "a.py", Content: "v1", Type: domain.FileScript}),
		quiet(), quiet(),
		commit("Ada", domain.RepositoryFile{Path: "a.py", Content: "v2", Type: domain.FileScript}),
	}}

	repos, warnings := Reconcile(r, graph.All)
	assert.Empty(t, warnings)
	files := repos.Files("Ada")
	require.Len(t, files, 1)
	assert.Equal(t, "v2", files[0].Content)

	repos, _ = Reconcile(r, graph.At(4))
	files = repos.Files("Ada")
	require.Len(t, files, 1)
	assert.Equal(t, "v1", files[0].Content)
}

func TestReconcileSkipsMalformedFiles(t *testing.T) {
	r := &domain.SimulationResult{SimulationTimeline: []domain.Event{
		commit("Ada",
			domain.RepositoryFile{Path: "", Content: "x"},
			domain.RepositoryFile{Path: "b.md", Content: ""},
			domain.RepositoryFile{Path: "c.csv", Content: "1,2", Type: domain.FileDataset},
		),
		commit("", domain.RepositoryFile{Path: "d", Content: "e"}),
	}}

	repos, warnings := Reconcile(r, graph.All)
	assert.Len(t, warnings, 3)
	assert.Equal(t, []string{"Ada"}, repos.Authors())
	files := repos.Files("Ada")
	require.Len(t, files, 1)
	assert.Equal(t, "c.csv", files[0].Path)
}

func TestFilesSortedAndAuthorsInFirstCommitOrder(t *testing.T) {
	r := &domain.SimulationResult{SimulationTimeline: []domain.Event{
		commit("Bo", domain.RepositoryFile{Path: "z.txt", Content: "z"}),
		commit("Ada", domain.RepositoryFile{Path: "reports/b.md", Content: "b"}, domain.RepositoryFile{Path: "a.py", Content: "a"}),
		commit("Bo", domain.RepositoryFile{Path: "m.txt", Content: "m"}),
	}}
	repos, _ := Reconcile(r, graph.All)
	assert.Equal(t, []string{"Bo", "Ada"}, repos.Authors())

	var paths []string
	for _, f := range repos.Files("Ada") {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"a.py", "reports/b.md"}, paths)
	assert.Equal(t, 4, repos.Len())
	assert.Empty(t, repos.Files("nobody"))
}

func TestSearchPathOrContentCaseInsensitive(t *testing.T) {
	r := &domain.SimulationResult{SimulationTimeline: []domain.Event{
		commit("Bo", domain.RepositoryFile{Path: "notes.md", Content: "Bias found"}),
		commit("Ada", domain.RepositoryFile{Path: "bias/model.py", Content: "x"}, domain.RepositoryFile{Path: "other", Content: "y"}),
	}}
	repos, _ := Reconcile(r, graph.All)

	matches := repos.Search("BIAS")
	require.Len(t, matches, 2)
	assert.Equal(t, "Bo", matches[0].Author)
	assert.Equal(t, "bias/model.py", matches[1].File.Path)
	assert.Nil(t, repos.Search("  "))
}

func TestSearchFollowsRosterOrder(t *testing.T) {
	r := &domain.SimulationResult{
		GeneratedUsers: []domain.GeneratedUser{{Name: "Cy"}, {Name: "Ada"}, {Name: "Bo"}},
		SimulationTimeline: []domain.Event{
			commit("Bo", domain.RepositoryFile{Path: "b.md", Content: "shared"}),
			commit("Guest", domain.RepositoryFile{Path: "g.md", Content: "shared"}),
			commit("Ada", domain.RepositoryFile{Path: "a.md", Content: "shared"}),
		},
	}
	repos, _ := Reconcile(r, graph.All)

	var authors []string
	for _, m := range repos.Search("shared") {
		authors = append(authors, m.Author)
	}
	assert.Equal(t, []string{"Ada", "Bo", "Guest"}, authors)
	assert.Equal(t, []string{"Bo", "Guest", "Ada"}, repos.Authors())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "no files yet", Summary(nil))
	events := []domain.Event{
		commit("Ada", domain.RepositoryFile{Path: "a.py", Content: "1"}),
		commit("Bo", domain.RepositoryFile{Path: "a.py", Content: "2"}, domain.RepositoryFile{Path: "b.csv", Content: "3"}),
	}
	assert.Equal(t, "a.py, b.csv", Summary(events))
}
