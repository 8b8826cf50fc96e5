package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/qrels-cli/internal/align"
	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/qrels"
)

// AlignOptions selects the manifests to align against. An empty Manifests
// list means every manifest in the configured manifests dir.
type AlignOptions struct {
	Manifests []string
}

func (p *Pipeline) thresholds() align.Thresholds {
	return align.Thresholds{SME: p.cfg.Align.SMEThreshold, Chunk: p.cfg.Align.ChunkThreshold}
}

// loadIndex reads the canonical spans and indexes them by document.
func (p *Pipeline) loadIndex(ctx context.Context, t *tracker) (*align.SpanIndex, error) {
	var idx *align.SpanIndex
	err := t.phase("load", func() (*model.PhaseResult, error) {
		spans, readSkips, err := corpus.ReadSpans(ctx, p.cfg.Paths.MergedOutput)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: read merged spans")
		}
		var idxSkips []model.Skip
		idx, idxSkips = align.IndexSpans(spans)
		t.skip(readSkips...)
		t.skip(idxSkips...)
		t.result.InputSpans = len(spans)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"path":      p.cfg.Paths.MergedOutput,
				"spans":     idx.Count,
				"documents": len(idx.ByDoc),
				"skipped":   len(readSkips) + len(idxSkips),
			},
		}, nil
	})
	return idx, err
}

func (p *Pipeline) manifests(opts AlignOptions) ([]string, error) {
	if len(opts.Manifests) > 0 {
		return opts.Manifests, nil
	}
	return corpus.ListManifests(p.cfg.Paths.ManifestsDir)
}

// Align maps the canonical spans onto every selected chunking strategy and
// writes one qrels file per strategy that produced pairs. Strategies run
// concurrently, bounded by align.workers. A strategy whose manifest is
// missing or empty is skipped; only an unreadable merged span file fails the
// stage.
func (p *Pipeline) Align(ctx context.Context, opts AlignOptions) (*model.Run, error) {
	t, err := p.begin(ctx, model.StageAlign)
	if err != nil {
		return nil, err
	}

	idx, err := p.loadIndex(ctx, t)
	if err != nil {
		return t.finish(err)
	}

	paths, err := p.manifests(opts)
	if err != nil {
		return t.finish(err)
	}
	if len(paths) == 0 {
		t.log.Warn("pipeline: no chunk manifests found", zap.String("dir", p.cfg.Paths.ManifestsDir))
	}

	aligner := align.New(align.Options{Thresholds: p.thresholds(), Workers: p.cfg.Align.Workers})
	qopts := qrels.Options{Iteration: p.cfg.Align.Iteration, Grade: p.cfg.Align.RelevanceGrade}

	// Each goroutine owns its slot so results keep manifest order.
	results := make([]model.StrategyResult, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Align.Workers)

	for i, path := range paths {
		strategy := corpus.StrategyName(path)
		g.Go(func() error {
			return t.phase("align:"+strategy, func() (*model.PhaseResult, error) {
				sr, alignErr := p.alignStrategy(gCtx, t, aligner, idx, path, qopts)
				results[i] = sr
				if alignErr != nil {
					return nil, alignErr
				}
				pr := &model.PhaseResult{
					Metadata: map[string]any{
						"chunks":     sr.Chunks,
						"alignments": sr.Alignments,
						"pairs":      sr.Pairs,
						"skipped":    sr.Skipped,
					},
				}
				if sr.QrelsPath == "" {
					pr.Status = model.PhaseStatusSkipped
				}
				return pr, nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		t.result.Strategies = results
		return t.finish(err)
	}
	t.result.Strategies = results

	err = t.phase("persist", func() (*model.PhaseResult, error) {
		if saveErr := p.store.SaveStrategyResults(ctx, t.run.ID, results); saveErr != nil {
			return nil, eris.Wrap(saveErr, "pipeline: save strategy results")
		}
		return &model.PhaseResult{Metadata: map[string]any{"strategies": len(results)}}, nil
	})
	if err != nil {
		return t.finish(err)
	}

	var pairs int
	for _, sr := range results {
		pairs += sr.Pairs
	}
	t.result.Metadata = map[string]any{
		"strategies":      len(results),
		"pairs":           pairs,
		"sme_threshold":   p.cfg.Align.SMEThreshold,
		"chunk_threshold": p.cfg.Align.ChunkThreshold,
	}
	return t.finish(nil)
}

// alignStrategy aligns one manifest. Missing or empty manifests yield a
// skipped result and a nil error; only cancellation and write failures are
// returned.
func (p *Pipeline) alignStrategy(
	ctx context.Context,
	t *tracker,
	aligner *align.Aligner,
	idx *align.SpanIndex,
	path string,
	qopts qrels.Options,
) (model.StrategyResult, error) {
	sr := model.StrategyResult{Strategy: corpus.StrategyName(path), Manifest: path}
	log := t.log.With(zap.String("strategy", sr.Strategy))

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn("pipeline: chunk manifest not found", zap.String("path", path))
		t.skip(model.Skip{Reason: model.SkipMissingSource, Source: path})
		sr.Skipped = 1
		sr.Error = "manifest not found"
		return sr, nil
	}

	chunks, loadSkips, err := corpus.LoadChunks(ctx, path)
	t.skip(loadSkips...)
	sr.Skipped += len(loadSkips)
	if err != nil {
		if !errors.Is(err, corpus.ErrNoChunks) {
			return sr, err
		}
		log.Warn("pipeline: no usable chunks, skipping strategy", zap.String("path", path))
		t.skip(model.Skip{Reason: model.SkipEmptyStrategy, Source: sr.Strategy})
		sr.Error = err.Error()
		return sr, nil
	}
	sr.Chunks = chunks.Count

	res, err := aligner.Align(ctx, idx, chunks)
	if err != nil {
		return sr, err
	}
	t.skip(res.Skips...)
	sr.Skipped += len(res.Skips)
	sr.Alignments = res.Alignments
	sr.Pairs = len(res.Pairs)

	if len(res.Pairs) == 0 {
		log.Info("pipeline: no relevant pairs, no qrels written")
		t.skip(model.Skip{Reason: model.SkipEmptyStrategy, Source: sr.Strategy})
		return sr, nil
	}

	sr.QrelsPath, err = qrels.WriteFile(p.cfg.Paths.QrelsDir, sr.Strategy, qrels.Build(res.Pairs, qopts))
	if err != nil {
		return sr, err
	}
	log.Info("pipeline: qrels written", zap.String("path", sr.QrelsPath), zap.Int("pairs", sr.Pairs))
	return sr, nil
}
