package tune

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/qrels-cli/internal/align"
	"github.com/sells-group/qrels-cli/internal/fetcher"
)

var gridHeader = []string{"sme_threshold", "chunk_threshold", "accepted", "avg_span_coverage", "avg_chunk_coverage", "f"}

// WriteYAML serializes the report to path.
func WriteYAML(path string, rep *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tune: create dir for %s", path)
	}
	data, err := yaml.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "tune: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "tune: write %s", path)
	}
	return nil
}

// ReadYAML loads a report written by WriteYAML.
func ReadYAML(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tune: read %s", path)
	}
	var rep Report
	if err := yaml.Unmarshal(data, &rep); err != nil {
		return nil, eris.Wrapf(err, "tune: parse %s", path)
	}
	return &rep, nil
}

// WriteXLSX exports the report as a workbook with a "grid" sheet holding one
// row per evaluated point and a "best" sheet holding the selected point.
func WriteXLSX(path string, rep *Report) error {
	f := xlsx.NewFile()

	grid, err := f.AddSheet("grid")
	if err != nil {
		return eris.Wrap(err, "tune: add grid sheet")
	}
	addHeader(grid, gridHeader)
	for _, p := range rep.Grid {
		addPoint(grid.AddRow(), p)
	}

	best, err := f.AddSheet("best")
	if err != nil {
		return eris.Wrap(err, "tune: add best sheet")
	}
	addHeader(best, append([]string{"found", "complete"}, gridHeader...))
	row := best.AddRow()
	row.AddCell().SetBool(rep.Found)
	row.AddCell().SetBool(rep.Complete)
	addPoint(row, rep.Best)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tune: create dir for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "tune: save %s", path)
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, names []string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}

func addPoint(row *xlsx.Row, p Point) {
	row.AddCell().SetFloat(p.Thresholds.SME)
	row.AddCell().SetFloat(p.Thresholds.Chunk)
	row.AddCell().SetInt(p.Accepted)
	row.AddCell().SetFloat(p.AvgSpan)
	row.AddCell().SetFloat(p.AvgChunk)
	row.AddCell().SetFloat(p.F)
}

// ReadXLSX loads the grid and best point of a workbook written by WriteXLSX.
// Strategy and Candidates are not stored in the workbook and stay zero.
func ReadXLSX(path string) (*Report, error) {
	gridRows, err := fetcher.ReadXLSXSheet(path, "grid")
	if err != nil {
		return nil, eris.Wrapf(err, "tune: read %s", path)
	}
	bestRows, err := fetcher.ReadXLSXSheet(path, "best")
	if err != nil {
		return nil, eris.Wrapf(err, "tune: read %s", path)
	}

	rep := &Report{}
	for i, row := range gridRows[min(1, len(gridRows)):] {
		p, err := parsePoint(row)
		if err != nil {
			return nil, eris.Wrapf(err, "tune: %s grid row %d", path, i+2)
		}
		rep.Grid = append(rep.Grid, p)
	}

	if len(bestRows) < 2 || len(bestRows[1]) < 2 {
		return nil, eris.Errorf("tune: %s best sheet has no point", path)
	}
	row := bestRows[1]
	if rep.Found, err = strconv.ParseBool(row[0]); err != nil {
		return nil, eris.Wrapf(err, "tune: %s best found", path)
	}
	if rep.Complete, err = strconv.ParseBool(row[1]); err != nil {
		return nil, eris.Wrapf(err, "tune: %s best complete", path)
	}
	if rep.Best, err = parsePoint(row[2:]); err != nil {
		return nil, eris.Wrapf(err, "tune: %s best point", path)
	}
	return rep, nil
}

func parsePoint(cells []string) (Point, error) {
	if len(cells) < len(gridHeader) {
		return Point{}, eris.Errorf("want %d cells, got %d", len(gridHeader), len(cells))
	}
	accepted, err := strconv.Atoi(cells[2])
	if err != nil {
		return Point{}, eris.Wrapf(err, "column %s", gridHeader[2])
	}
	var vals [6]float64
	for _, col := range []int{0, 1, 3, 4, 5} {
		if vals[col], err = strconv.ParseFloat(cells[col], 64); err != nil {
			return Point{}, eris.Wrapf(err, "column %s", gridHeader[col])
		}
	}
	return Point{
		Thresholds: align.Thresholds{SME: vals[0], Chunk: vals[1]},
		Accepted:   accepted,
		AvgSpan:    vals[3],
		AvgChunk:   vals[4],
		F:          vals[5],
	}, nil
}
