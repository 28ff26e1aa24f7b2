package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parc/internal/domain"
)

func sample(title string, summaries ...string) domain.SimulationResult {
	r := domain.SimulationResult{
		SimulationTitle:    title,
		ResearchDomains:    []string{"ai-ethics"},
		GeneratedUsers:     []domain.GeneratedUser{{Name: "Dr. Reed", PersonaSummary: "ethicist"}},
		SimulationTimeline: []domain.Event{},
		FinalReport:        title + " report",
	}
	for i, s := range summaries {
		r.SimulationTimeline = append(r.SimulationTimeline, domain.Event{Timestamp: i, Summary: s, TriggeredBy: "Dr. Reed"})
	}
	return r
}

func summaries(r domain.SimulationResult) []string {
	out := make([]string, 0, len(r.SimulationTimeline))
	for _, e := range r.SimulationTimeline {
		out = append(out, e.Summary)
	}
	return out
}

func TestAppendConcatenatesWithoutMutation(t *testing.T) {
	prev := sample("first", "a", "b")
	chunk := sample("ignored", "c")
	chunk.ResearchDomains = []string{"other"}

	merged := Append(prev, chunk)

	assert.Equal(t, []string{"a", "b", "c"}, summaries(merged))
	assert.Equal(t, "first", merged.SimulationTitle)
	assert.Equal(t, []string{"ai-ethics"}, merged.ResearchDomains)
	assert.Equal(t, "ignored report", merged.FinalReport)
	assert.Equal(t, []string{"a", "b"}, summaries(prev))
	assert.Equal(t, []string{"c"}, summaries(chunk))

	merged.SimulationTimeline[0].Summary = "changed"
	merged.ResearchDomains[0] = "changed"
	assert.Equal(t, "a", prev.SimulationTimeline[0].Summary)
	assert.Equal(t, "ai-ethics", prev.ResearchDomains[0])
}

func TestAppendKeepsTimestampsAsGiven(t *testing.T) {
	prev := sample("t", "a", "b")
	chunk := sample("t", "c")
	chunk.SimulationTimeline[0].Timestamp = 0

	merged := Append(prev, chunk)
	require.Len(t, merged.SimulationTimeline, 3)
	assert.Equal(t, 0, merged.SimulationTimeline[2].Timestamp)
}

func TestStoreInitializeRejectsMissingArrays(t *testing.T) {
	var s Store
	r := sample("t", "a")
	r.SimulationTimeline = nil

	err := s.Initialize(r)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "simulationTimeline is required")
	assert.Nil(t, s.Current())
	assert.Zero(t, s.Revision())
}

func TestStoreMergeBumpsRevision(t *testing.T) {
	var s Store
	first := s.Merge(sample("t", "a"))
	assert.Equal(t, []string{"a"}, summaries(first))
	rev := s.Revision()

	second := s.Merge(sample("t", "b"))
	assert.Equal(t, []string{"a", "b"}, summaries(second))
	assert.Greater(t, s.Revision(), rev)
}

func TestStoreAdoptAndClear(t *testing.T) {
	var s Store
	s.Adopt(sample("t", "a", "b"))
	assert.Equal(t, 2, s.Current().Len())
	assert.Equal(t, uint64(1), s.Revision())
	s.Clear()
	assert.Nil(t, s.Current())
	assert.Equal(t, uint64(2), s.Revision())
}

func TestParseDocumentRequiresImportFields(t *testing.T) {
	_, err := ParseDocument([]byte(`{"simulationTitle":"x","generatedUsers":[],"researchDomains":[]}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"simulationTimeline is required"}, verr.Problems)

	_, err = ParseDocument([]byte(`not json`))
	require.True(t, errors.As(err, &verr))
}

func TestParseDocumentReportsEventFields(t *testing.T) {
	doc := `{"simulationTitle":"x","researchDomains":[],"generatedUsers":[],
	  "simulationTimeline":[{"timestamp":1,"summary":"","triggeredBy":"a"}]}`
	_, err := ParseDocument([]byte(doc))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "simulationTimeline[0].summary is required")
}

func TestExportRoundTrip(t *testing.T) {
	r := sample("round", "a")
	r.SimulationTimeline[0].RepositoryCommit = &domain.RepositoryCommit{
		Message: "init",
		Files:   []domain.RepositoryFile{{Path: "a.py", Content: "print(1)", Type: domain.FileScript}},
	}
	data, err := Export(r)
	require.NoError(t, err)

	back, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestValidateChunkRejectsUnknownFileType(t *testing.T) {
	r := sample("t", "a")
	r.SimulationTimeline[0].RepositoryCommit = &domain.RepositoryCommit{
		Files: []domain.RepositoryFile{{Path: "x", Content: "y", Type: "spreadsheet"}},
	}
	err := ValidateChunk(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown file type")
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	assert.Equal(t, "parc-simulation-2024-03-09T14-05-06.json", ExportFilename(now))
}
