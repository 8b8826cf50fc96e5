package tune

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qrels-cli/internal/align"
	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/fetcher"
	"github.com/sells-group/qrels-cli/internal/geometry"
	"github.com/sells-group/qrels-cli/internal/model"
)

// syntheticCandidates builds a development sample where every true pair has
// coverage exactly (0.9, 0.6) and every false pair (0.3, 0.1).
func syntheticCandidates(t *testing.T) []align.Candidate {
	t.Helper()

	var spans []model.Span
	cs := &corpus.ChunkSet{Strategy: "SYN", ByDoc: make(map[string][]model.Chunk)}
	for d := range 4 {
		docID := fmt.Sprintf("d%d", d)
		// true: span [0,10), chunk [1,16): overlap 9, 9/10 and 9/15
		spans = append(spans, model.Span{QuestionID: fmt.Sprintf("q%d", d), DocumentID: docID, Start: 0, End: 10})
		cs.ByDoc[docID] = append(cs.ByDoc[docID], model.Chunk{DocumentID: docID, ChunkID: docID + "-true", Start: 1, End: 16})
		// false: span [100,110), chunk [107,137): overlap 3, 3/10 and 3/30
		spans = append(spans, model.Span{QuestionID: fmt.Sprintf("q%d", d), DocumentID: docID, Start: 100, End: 110})
		cs.ByDoc[docID] = append(cs.ByDoc[docID], model.Chunk{DocumentID: docID, ChunkID: docID + "-false", Start: 107, End: 137})
	}

	idx, skips := align.IndexSpans(spans)
	require.Empty(t, skips)
	cands := align.Candidates(idx, cs)
	require.Len(t, cands, 8)
	return cands
}

func TestEvaluate_HarmonicMean(t *testing.T) {
	t.Parallel()
	cands := syntheticCandidates(t)

	p := Evaluate(cands, align.Thresholds{SME: 0.85, Chunk: 0.5})
	assert.Equal(t, 4, p.Accepted)
	assert.InDelta(t, 0.9, p.AvgSpan, 1e-12)
	assert.InDelta(t, 0.6, p.AvgChunk, 1e-12)
	assert.InDelta(t, 0.72, p.F, 1e-12)

	none := Evaluate(cands, align.Thresholds{SME: 0.95, Chunk: 0.5})
	assert.Zero(t, none.Accepted)
	assert.Zero(t, none.F)
	assert.Zero(t, none.AvgSpan)
}

func TestSearch_SelectsClosestFromBelow(t *testing.T) {
	t.Parallel()

	rep, err := Search(context.Background(), syntheticCandidates(t), DefaultOptions())
	require.NoError(t, err)

	assert.True(t, rep.Found)
	assert.True(t, rep.Complete)
	assert.Equal(t, align.Thresholds{SME: 0.9, Chunk: 0.5}, rep.Best.Thresholds)
	assert.Equal(t, 4, rep.Best.Accepted)
	assert.InDelta(t, 0.72, rep.Best.F, 1e-12)
	assert.Len(t, rep.Grid, 56)
	assert.Equal(t, 8, rep.Candidates)
}

func TestSearch_TieBreaksOnThresholds(t *testing.T) {
	t.Parallel()

	// Every grid point accepts the same single candidate, so F and the
	// accepted count tie and the thresholds decide.
	cands := []align.Candidate{
		{QuestionID: "q1", ChunkID: "a", Coverages: geometry.Coverages{Overlap: 9, Span: 0.9, Chunk: 0.6}},
	}
	rep, err := Search(context.Background(), cands, Options{
		SMEGrid:   []float64{0.7, 0.8},
		ChunkGrid: []float64{0.2, 0.3},
	})
	require.NoError(t, err)
	assert.Equal(t, align.Thresholds{SME: 0.8, Chunk: 0.3}, rep.Best.Thresholds)
	assert.Len(t, rep.Grid, 4)
	for _, p := range rep.Grid {
		assert.Equal(t, rep.Best.F, p.F)
	}
}

func TestBetter(t *testing.T) {
	t.Parallel()

	base := Point{Thresholds: align.Thresholds{SME: 0.8, Chunk: 0.3}, Accepted: 3, F: 0.7}

	higherF := base
	higherF.F = 0.8
	assert.True(t, better(higherF, base))

	moreAccepted := base
	moreAccepted.Accepted = 4
	assert.True(t, better(moreAccepted, base))

	higherSME := base
	higherSME.Thresholds.SME = 0.9
	assert.True(t, better(higherSME, base))

	higherChunk := base
	higherChunk.Thresholds.Chunk = 0.4
	assert.True(t, better(higherChunk, base))

	assert.False(t, better(base, base))
}

func TestSearch_NothingAccepted(t *testing.T) {
	t.Parallel()

	rep, err := Search(context.Background(), nil, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, rep.Found)
	assert.True(t, rep.Complete)
	assert.Zero(t, rep.Best.F)
}

func TestSearch_EmptyGrid(t *testing.T) {
	t.Parallel()

	_, err := Search(context.Background(), nil, Options{SMEGrid: []float64{0.5}})
	require.Error(t, err)
}

func TestSearch_CancelledReturnsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := Search(ctx, syntheticCandidates(t), DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, rep)
	assert.False(t, rep.Complete)
	assert.False(t, rep.Found)
	assert.Empty(t, rep.Grid)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	t.Parallel()

	rep, err := Search(context.Background(), syntheticCandidates(t), DefaultOptions())
	require.NoError(t, err)
	rep.Strategy = "SYN"

	path := filepath.Join(t.TempDir(), "reports", "tune_report.yaml")
	require.NoError(t, WriteYAML(path, rep))

	got, err := ReadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, rep.Best, got.Best)
	assert.Equal(t, rep.Found, got.Found)
	assert.Equal(t, "SYN", got.Strategy)
	assert.Len(t, got.Grid, len(rep.Grid))
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	rep, err := Search(context.Background(), syntheticCandidates(t), Options{
		SMEGrid:   []float64{0.8, 0.9},
		ChunkGrid: []float64{0.5},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tune.xlsx")
	require.NoError(t, WriteXLSX(path, rep))

	grid, err := fetcher.ReadXLSXSheet(path, "grid")
	require.NoError(t, err)
	require.Len(t, grid, 3)
	assert.Equal(t, gridHeader, grid[0])

	sme, err := strconv.ParseFloat(grid[2][0], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, sme, 1e-9)
	accepted, err := strconv.Atoi(grid[2][2])
	require.NoError(t, err)
	assert.Equal(t, 4, accepted)

	best, err := fetcher.ReadXLSXSheet(path, "best")
	require.NoError(t, err)
	require.Len(t, best, 2)
	assert.Equal(t, "found", best[0][0])
	bestSME, err := strconv.ParseFloat(best[1][2], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, bestSME, 1e-9)
}

func TestReadXLSX_RoundTrip(t *testing.T) {
	t.Parallel()

	rep, err := Search(context.Background(), syntheticCandidates(t), Options{
		SMEGrid:   []float64{0.8, 0.9},
		ChunkGrid: []float64{0.5},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tune.xlsx")
	require.NoError(t, WriteXLSX(path, rep))

	got, err := ReadXLSX(path)
	require.NoError(t, err)
	assert.Equal(t, rep.Found, got.Found)
	assert.Equal(t, rep.Complete, got.Complete)
	assert.Equal(t, rep.Best.Accepted, got.Best.Accepted)
	assert.InDelta(t, rep.Best.Thresholds.SME, got.Best.Thresholds.SME, 1e-9)
	assert.InDelta(t, rep.Best.F, got.Best.F, 1e-9)
	require.Len(t, got.Grid, len(rep.Grid))
	for i := range rep.Grid {
		assert.Equal(t, rep.Grid[i].Accepted, got.Grid[i].Accepted)
		assert.InDelta(t, rep.Grid[i].AvgChunk, got.Grid[i].AvgChunk, 1e-9)
	}
}

func TestReadXLSX_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "absent.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tune: read")
}
