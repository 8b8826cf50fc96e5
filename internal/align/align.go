package align

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
)

// Options configures an Aligner.
type Options struct {
	Thresholds Thresholds
	// Workers bounds how many documents are scored concurrently.
	Workers int
}

// Result is the alignment of one chunking strategy.
type Result struct {
	Strategy string
	Pairs    []model.RelevancePair
	// Alignments counts every accepted (span, chunk) event, including
	// repeats that map to an existing pair.
	Alignments int
	Documents  int
	Skips      []model.Skip
}

// Aligner maps canonical spans onto a strategy's chunks.
type Aligner struct {
	opts Options
}

// New creates an Aligner.
func New(opts Options) *Aligner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Aligner{opts: opts}
}

// Align scores every span against the chunks of its document. Documents
// without chunks, or chunks without spans, are recorded as skips and
// otherwise ignored. Pairs are returned sorted.
func (a *Aligner) Align(ctx context.Context, idx *SpanIndex, chunks *corpus.ChunkSet) (*Result, error) {
	res := &Result{Strategy: chunks.Strategy}

	for _, docID := range chunks.Documents() {
		if _, ok := idx.ByDoc[docID]; !ok {
			res.Skips = append(res.Skips, model.Skip{Reason: model.SkipNoSpans, Source: chunks.Strategy, DocumentID: docID})
		}
	}

	var (
		mu         sync.Mutex
		pairs      = NewPairSet()
		alignments atomic.Int64
		docs       atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for _, docID := range idx.Documents() {
		docChunks, ok := chunks.ByDoc[docID]
		if !ok {
			zap.L().Debug("align: no chunks for document",
				zap.String("strategy", chunks.Strategy),
				zap.String("docid", docID),
			)
			res.Skips = append(res.Skips, model.Skip{Reason: model.SkipNoChunks, Source: chunks.Strategy, DocumentID: docID})
			continue
		}
		spans := idx.ByDoc[docID]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local := NewPairSet()
			var n int64
			for _, s := range spans {
				for _, c := range Score(s, docChunks) {
					if a.opts.Thresholds.Accept(c.Coverages) {
						local.Add(c.Pair())
						n++
					}
				}
			}
			alignments.Add(n)
			docs.Add(1)

			mu.Lock()
			pairs.AddAll(local)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "align: strategy %s", chunks.Strategy)
	}

	res.Pairs = pairs.Sorted()
	res.Alignments = int(alignments.Load())
	res.Documents = int(docs.Load())

	zap.L().Info("align: strategy complete",
		zap.String("strategy", chunks.Strategy),
		zap.Int("chunks", chunks.Count),
		zap.Int("documents", res.Documents),
		zap.Int("alignments", res.Alignments),
		zap.Int("pairs", len(res.Pairs)),
	)
	return res, nil
}
