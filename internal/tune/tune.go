// Package tune calibrates the alignment thresholds by grid search over a
// development sample.
package tune

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/align"
)

// Options configures the grid search.
type Options struct {
	SMEGrid   []float64
	ChunkGrid []float64
	// LogGrid logs every evaluated grid point.
	LogGrid bool
}

// DefaultOptions returns the stock grids.
func DefaultOptions() Options {
	return Options{
		SMEGrid:   []float64{0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95},
		ChunkGrid: []float64{0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.5},
		LogGrid:   true,
	}
}

// Point is the evaluation of one threshold pair.
type Point struct {
	Thresholds align.Thresholds `yaml:"thresholds"`
	Accepted   int              `yaml:"accepted"`
	AvgSpan    float64          `yaml:"avg_span_coverage"`
	AvgChunk   float64          `yaml:"avg_chunk_coverage"`
	F          float64          `yaml:"f"`
}

// Report is the outcome of a grid search.
type Report struct {
	Strategy   string `yaml:"strategy,omitempty"`
	Candidates int    `yaml:"candidates"`
	Best       Point  `yaml:"best"`
	// Found is false when no grid point accepted any pair.
	Found bool `yaml:"found"`
	// Complete is false when the search was cancelled before every point was
	// visited; Best is then the best of the visited points.
	Complete bool    `yaml:"complete"`
	Grid     []Point `yaml:"grid"`
}

// Evaluate applies th to every candidate and averages the coverages of the
// accepted ones. F is the harmonic mean of the two averages.
func Evaluate(candidates []align.Candidate, th align.Thresholds) Point {
	p := Point{Thresholds: th}
	var sumSpan, sumChunk float64
	for _, c := range candidates {
		if !th.Accept(c.Coverages) {
			continue
		}
		p.Accepted++
		sumSpan += c.Coverages.Span
		sumChunk += c.Coverages.Chunk
	}
	if p.Accepted == 0 {
		return p
	}
	p.AvgSpan = sumSpan / float64(p.Accepted)
	p.AvgChunk = sumChunk / float64(p.Accepted)
	if s := p.AvgSpan + p.AvgChunk; s > 0 {
		p.F = 2 * p.AvgSpan * p.AvgChunk / s
	}
	return p
}

// better reports whether a beats b: higher F, then more accepted pairs, then
// the higher span threshold, then the higher chunk threshold.
func better(a, b Point) bool {
	switch {
	case a.F != b.F:
		return a.F > b.F
	case a.Accepted != b.Accepted:
		return a.Accepted > b.Accepted
	case a.Thresholds.SME != b.Thresholds.SME:
		return a.Thresholds.SME > b.Thresholds.SME
	}
	return a.Thresholds.Chunk > b.Thresholds.Chunk
}

// Search evaluates every (span, chunk) threshold pair of the grids. On
// cancellation it returns the best point seen so far with Complete unset,
// together with the wrapped context error.
func Search(ctx context.Context, candidates []align.Candidate, opts Options) (*Report, error) {
	if len(opts.SMEGrid) == 0 || len(opts.ChunkGrid) == 0 {
		return nil, eris.New("tune: empty threshold grid")
	}

	rep := &Report{
		Candidates: len(candidates),
		Best:       Point{F: -1},
		Grid:       make([]Point, 0, len(opts.SMEGrid)*len(opts.ChunkGrid)),
	}

	for _, sme := range opts.SMEGrid {
		for _, chunk := range opts.ChunkGrid {
			if err := ctx.Err(); err != nil {
				finish(rep)
				return rep, eris.Wrap(err, "tune: search cancelled")
			}

			p := Evaluate(candidates, align.Thresholds{SME: sme, Chunk: chunk})
			rep.Grid = append(rep.Grid, p)
			if opts.LogGrid {
				zap.L().Info("tune: grid point",
					zap.Float64("sme_threshold", sme),
					zap.Float64("chunk_threshold", chunk),
					zap.Int("accepted", p.Accepted),
					zap.Float64("avg_span_coverage", p.AvgSpan),
					zap.Float64("avg_chunk_coverage", p.AvgChunk),
					zap.Float64("f", p.F),
				)
			}
			if better(p, rep.Best) {
				rep.Best = p
			}
		}
	}

	rep.Complete = true
	finish(rep)

	zap.L().Info("tune: search complete",
		zap.Bool("found", rep.Found),
		zap.Float64("sme_threshold", rep.Best.Thresholds.SME),
		zap.Float64("chunk_threshold", rep.Best.Thresholds.Chunk),
		zap.Float64("f", rep.Best.F),
		zap.Int("accepted", rep.Best.Accepted),
	)
	return rep, nil
}

func finish(rep *Report) {
	rep.Found = rep.Best.Accepted > 0
	if rep.Best.F < 0 {
		rep.Best = Point{}
	}
}
