package explorer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"parc/internal/domain"
)

const previewRows = 5

var (
	ErrNotRunnable  = errors.New("only scripts and datasets can be run")
	ErrEmptyDataset = errors.New("dataset has no data rows")
)

// ColumnStats summarizes one dataset column. A column counts as numeric when
// more than 80% of its non-empty cells parse as numbers.
type ColumnStats struct {
	Name     string  `json:"name"`
	NonNull  int     `json:"non_null"`
	Rows     int     `json:"rows"`
	Numeric  bool    `json:"numeric"`
	Mean     float64 `json:"mean,omitempty"`
	Std      float64 `json:"std,omitempty"`
	Min      float64 `json:"min,omitempty"`
	P25      float64 `json:"p25,omitempty"`
	P50      float64 `json:"p50,omitempty"`
	P75      float64 `json:"p75,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Unique   int     `json:"unique,omitempty"`
	Top      string  `json:"top,omitempty"`
	TopCount int     `json:"top_count,omitempty"`
}

// DatasetReport is the summary of a comma separated dataset file.
type DatasetReport struct {
	Header  []string      `json:"header"`
	Rows    int           `json:"rows"`
	Columns []ColumnStats `json:"columns"`
	Preview [][]string    `json:"preview"`
}

// RunReport is the console transcript of running a file.
type RunReport struct {
	Path    string          `json:"path"`
	Type    domain.FileType `json:"type"`
	Lines   []string        `json:"lines"`
	Failed  bool            `json:"failed"`
	Dataset *DatasetReport  `json:"dataset,omitempty"`
}

// Runnable reports whether f can be run or analyzed.
func Runnable(f domain.RepositoryFile) bool {
	return f.Type == domain.FileScript || f.Type == domain.FileDataset
}

// Run simulates executing a script or analyzes a dataset. Script output is
// mock data seeded from the file, so the same file always prints the same run.
func Run(f domain.RepositoryFile) (RunReport, error) {
	switch f.Type {
	case domain.FileScript:
		return runScript(f), nil
	case domain.FileDataset:
		return runDataset(f)
	default:
		return RunReport{}, fmt.Errorf("%s (%s): %w", f.Path, f.Type, ErrNotRunnable)
	}
}

// AnalyzeDataset parses content as CSV with a header row. Blank lines are
// ignored and short rows count their missing cells as empty.
func AnalyzeDataset(content string) (DatasetReport, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return DatasetReport{}, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		records = append(records, rec)
	}
	if len(records) < 2 {
		return DatasetReport{}, ErrEmptyDataset
	}
	rep := DatasetReport{Header: records[0], Rows: len(records) - 1}
	rows := records[1:]
	for i, name := range rep.Header {
		var cells []string
		for _, row := range rows {
			if i < len(row) && row[i] != "" {
				cells = append(cells, row[i])
			}
		}
		rep.Columns = append(rep.Columns, columnStats(name, cells, len(rows)))
	}
	rep.Preview = rows[:min(previewRows, len(rows))]
	return rep, nil
}

func columnStats(name string, cells []string, rows int) ColumnStats {
	st := ColumnStats{Name: name, NonNull: len(cells), Rows: rows}
	var nums []float64
	for _, c := range cells {
		if v, err := strconv.ParseFloat(c, 64); err == nil && !math.IsNaN(v) {
			nums = append(nums, v)
		}
	}
	if len(nums) > 0 && float64(len(nums))/float64(len(cells)) > 0.8 {
		sort.Float64s(nums)
		var sum float64
		for _, v := range nums {
			sum += v
		}
		st.Numeric = true
		st.Mean = sum / float64(len(nums))
		var sq float64
		for _, v := range nums {
			sq += (v - st.Mean) * (v - st.Mean)
		}
		st.Std = math.Sqrt(sq / float64(len(nums)))
		st.Min = nums[0]
		st.P25 = nums[len(nums)/4]
		st.P50 = nums[len(nums)/2]
		st.P75 = nums[len(nums)*3/4]
		st.Max = nums[len(nums)-1]
		return st
	}
	counts := make(map[string]int)
	var order []string
	for _, c := range cells {
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}
	st.Unique = len(order)
	for _, v := range order {
		if counts[v] > st.TopCount {
			st.Top, st.TopCount = v, counts[v]
		}
	}
	return st
}

const rule = "----------------------------------------------------"

func runDataset(f domain.RepositoryFile) (RunReport, error) {
	rep := RunReport{Path: f.Path, Type: f.Type}
	ds, err := AnalyzeDataset(f.Content)
	if err != nil {
		rep.Failed = true
		if errors.Is(err, ErrEmptyDataset) {
			rep.Lines = []string{fmt.Sprintf("[ERROR] Dataset file '%s' is empty or contains no data rows.", f.Path)}
		} else {
			rep.Lines = []string{fmt.Sprintf("[ERROR] Dataset file '%s' could not be parsed: %v", f.Path, err)}
		}
		return rep, nil
	}
	rep.Dataset = &ds
	rep.Lines = []string{
		fmt.Sprintf("[INFO] Starting analysis of %s...", f.Path),
		fmt.Sprintf("[INFO] Reading %d data rows with %d columns.", ds.Rows, len(ds.Header)),
		"[INFO] Performing data quality checks... Done.",
		"[STATS] Generating column-wise summary statistics...",
		rule,
	}
	for i, c := range ds.Columns {
		if i > 0 {
			rep.Lines = append(rep.Lines, rule)
		}
		rep.Lines = append(rep.Lines,
			fmt.Sprintf("Column: '%s'", c.Name),
			fmt.Sprintf("  - Non-Null Count: %d / %d", c.NonNull, c.Rows),
		)
		if c.Numeric {
			rep.Lines = append(rep.Lines,
				"  - Type: Numeric (approximated)",
				fmt.Sprintf("  - Mean: %.2f", c.Mean),
				fmt.Sprintf("  - Std Dev: %.2f", c.Std),
				fmt.Sprintf("  - Min: %.2f", c.Min),
				fmt.Sprintf("  - 25%%: %.2f", c.P25),
				fmt.Sprintf("  - 50%%: %.2f", c.P50),
				fmt.Sprintf("  - 75%%: %.2f", c.P75),
				fmt.Sprintf("  - Max: %.2f", c.Max),
			)
			continue
		}
		rep.Lines = append(rep.Lines,
			"  - Type: String/Categorical (approximated)",
			fmt.Sprintf("  - Unique Values: %d", c.Unique),
		)
		if c.Unique > 0 {
			rep.Lines = append(rep.Lines, fmt.Sprintf("  - Top Value: '%s' (occurs %d times)", c.Top, c.TopCount))
		}
	}
	rep.Lines = append(rep.Lines, "", "[DATA PREVIEW] First 5 rows:")
	rep.Lines = append(rep.Lines, previewTable(ds.Header, ds.Preview)...)
	rep.Lines = append(rep.Lines, "", "[SUCCESS] Analysis complete.")
	return rep, nil
}

func previewTable(header []string, rows [][]string) []string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
		for _, r := range rows {
			if i < len(r) {
				widths[i] = max(widths[i], len(r[i]))
			}
		}
	}
	format := func(row []string) string {
		cells := make([]string, len(widths))
		for i, w := range widths {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = cell + strings.Repeat(" ", w-len(cell))
		}
		return "  | " + strings.Join(cells, " | ") + " |"
	}
	dashes := make([]string, len(widths))
	for i, w := range widths {
		dashes[i] = strings.Repeat("-", w)
	}
	out := []string{format(header), "  |-" + strings.Join(dashes, "-|-") + "-|"}
	for _, r := range rows {
		out = append(out, format(r))
	}
	return out
}

func runScript(f domain.RepositoryFile) RunReport {
	h := fnv.New64a()
	io.WriteString(h, f.Path)
	io.WriteString(h, f.Content)
	rng := rand.New(rand.NewPCG(h.Sum64(), 0))

	rep := RunReport{Path: f.Path, Type: f.Type}
	rep.Lines = []string{
		fmt.Sprintf("[INFO] Initializing virtual environment for %s...", f.Path),
		"[INFO] Found requirements.txt, installing dependencies...",
		"---> Installing pandas==1.3.3... Done.",
		"---> Installing numpy==1.21.2... Done.",
		"[INFO] All dependencies satisfied.",
		fmt.Sprintf("[RUN] Executing script with process ID %d...", rng.IntN(9000)+1000),
		"[RUN] ---------------------------------",
	}
	for _, line := range strings.Split(f.Content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "print") {
			continue
		}
		rep.Lines = append(rep.Lines,
			"[OUTPUT] > Simulating output for: "+line,
			fmt.Sprintf("[OUTPUT] > Result: %.5f", rng.Float64()*100),
		)
	}
	rep.Lines = append(rep.Lines, "[RUN] ---------------------------------")
	// one run in five fails
	if rng.Float64() > 0.8 {
		rep.Failed = true
		rep.Lines = append(rep.Lines, strings.Split(scriptFailure(f.Path, rng), "\n")...)
		return rep
	}
	rep.Lines = append(rep.Lines, fmt.Sprintf("[SUCCESS] Script finished successfully. Total execution time: %.2fs.", rng.Float64()*5+1))
	return rep
}

func scriptFailure(path string, rng *rand.Rand) string {
	switch rng.IntN(3) {
	case 0:
		return fmt.Sprintf("[ERROR] Traceback (most recent call last):\n  File \"%s\", line %d\n    result = model.predict(invalid_data)\n"+
			"  File \"/venv/lib/python3.9/site-packages/sklearn/base.py\", line 450, in predict\n    return self._predict(X)\n"+
			"ValueError: Mock simulation error: Input contains NaN.", path, rng.IntN(20)+5)
	case 1:
		return fmt.Sprintf("[ERROR] Traceback (most recent call last):\n  File \"%s\", line %d\n    import non_existent_module\n"+
			"ImportError: No module named 'non_existent_module'", path, rng.IntN(15)+3)
	default:
		return "[ERROR] MemoryError: Unable to allocate 8.00 GiB for an array with shape (1000000000,) and data type float64. Killing process."
	}
}
