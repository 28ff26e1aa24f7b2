package explorer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parc/internal/domain"
)

const trial = `subject, dose, outcome
s1, 1, improved
s2, 2, improved

s3, 3, stable
s4, 4,
s5, 10, improved
s6, n/a, stable
`

func TestAnalyzeDatasetColumnStats(t *testing.T) {
	rep, err := AnalyzeDataset(trial)
	require.NoError(t, err)
	assert.Equal(t, []string{"subject", "dose", "outcome"}, rep.Header)
	assert.Equal(t, 6, rep.Rows)
	require.Len(t, rep.Columns, 3)

	dose := rep.Columns[1]
	assert.True(t, dose.Numeric)
	assert.Equal(t, 6, dose.NonNull)
	assert.InDelta(t, 4.0, dose.Mean, 1e-9)
	assert.InDelta(t, 3.1623, dose.Std, 1e-4)
	assert.Equal(t, 1.0, dose.Min)
	assert.Equal(t, 2.0, dose.P25)
	assert.Equal(t, 3.0, dose.P50)
	assert.Equal(t, 4.0, dose.P75)
	assert.Equal(t, 10.0, dose.Max)

	outcome := rep.Columns[2]
	assert.False(t, outcome.Numeric)
	assert.Equal(t, 5, outcome.NonNull)
	assert.Equal(t, 2, outcome.Unique)
	assert.Equal(t, "improved", outcome.Top)
	assert.Equal(t, 3, outcome.TopCount)

	assert.Len(t, rep.Preview, 5)
	assert.Equal(t, "s1", rep.Preview[0][0])
}

func TestAnalyzeDatasetNeedsDataRows(t *testing.T) {
	_, err := AnalyzeDataset("only,a,header\n")
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestRunDatasetTranscript(t *testing.T) {
	rep, err := Run(domain.RepositoryFile{Path: "data/trial.csv", Content: trial, Type: domain.FileDataset})
	require.NoError(t, err)
	assert.False(t, rep.Failed)
	require.NotNil(t, rep.Dataset)
	out := strings.Join(rep.Lines, "\n")
	assert.Contains(t, out, "[INFO] Reading 6 data rows with 3 columns.")
	assert.Contains(t, out, "  - Mean: 4.00")
	assert.Contains(t, out, "  - Top Value: 'improved' (occurs 3 times)")
	assert.Contains(t, out, "  | subject | dose | outcome  |")
	assert.Equal(t, "[SUCCESS] Analysis complete.", rep.Lines[len(rep.Lines)-1])

	empty, err := Run(domain.RepositoryFile{Path: "data/empty.csv", Content: "a,b", Type: domain.FileDataset})
	require.NoError(t, err)
	assert.True(t, empty.Failed)
	assert.Equal(t, []string{"[ERROR] Dataset file 'data/empty.csv' is empty or contains no data rows."}, empty.Lines)
}

func TestRunScriptIsRepeatable(t *testing.T) {
	f := domain.RepositoryFile{Path: "experiments/fit.py", Content: "x = 1\nprint(x)\n  print('done')\n", Type: domain.FileScript}
	first, err := Run(f)
	require.NoError(t, err)
	second, err := Run(f)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, "[INFO] Initializing virtual environment for experiments/fit.py...", first.Lines[0])
	var outputs []string
	for _, l := range first.Lines {
		if strings.HasPrefix(l, "[OUTPUT] > Simulating output for: ") {
			outputs = append(outputs, strings.TrimPrefix(l, "[OUTPUT] > Simulating output for: "))
		}
	}
	assert.Equal(t, []string{"print(x)", "print('done')"}, outputs)
	last := first.Lines[len(first.Lines)-1]
	if first.Failed {
		assert.Contains(t, strings.Join(first.Lines, "\n"), "[ERROR]")
	} else {
		assert.True(t, strings.HasPrefix(last, "[SUCCESS] Script finished successfully."), last)
	}
}

func TestRunRejectsOtherTypes(t *testing.T) {
	_, err := Run(domain.RepositoryFile{Path: "reports/r.md", Content: "# r", Type: domain.FileReport})
	assert.ErrorIs(t, err, ErrNotRunnable)
	assert.False(t, Runnable(domain.RepositoryFile{Type: domain.FileImage}))
	assert.True(t, Runnable(domain.RepositoryFile{Type: domain.FileDataset}))
}
