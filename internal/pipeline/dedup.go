package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/dedup"
	"github.com/sells-group/qrels-cli/internal/model"
)

func (p *Pipeline) dedupOptions() dedup.Options {
	return dedup.Options{
		IoUThreshold: p.cfg.Dedup.IoUThreshold,
		DefaultGroup: p.cfg.Dedup.DefaultGroup,
		Separator:    p.cfg.Dedup.ProvenanceSeparator,
		TextWidth:    p.cfg.Dedup.ConflictTextWidth,
	}
}

func (p *Pipeline) sources() []corpus.Source {
	out := make([]corpus.Source, 0, len(p.cfg.Paths.Annotations))
	for _, a := range p.cfg.Paths.Annotations {
		out = append(out, corpus.Source{Path: a.Path, Provenance: a.Provenance})
	}
	return out
}

// Dedup loads every annotator source, merges near-duplicate spans and writes
// the canonical spans and the conflict log. The stage fails only when no
// annotation could be loaded.
func (p *Pipeline) Dedup(ctx context.Context) (*model.Run, error) {
	t, err := p.begin(ctx, model.StageDedup)
	if err != nil {
		return nil, err
	}

	opts := p.dedupOptions()
	merger, err := dedup.NewMerger(p.cfg.Dedup.Strategy, opts)
	if err != nil {
		return t.finish(err)
	}

	var spans []model.Span
	err = t.phase("load", func() (*model.PhaseResult, error) {
		loaded, skips, loadErr := corpus.LoadSpans(ctx, p.sources())
		t.skip(skips...)
		if loadErr != nil {
			return nil, loadErr
		}
		spans = loaded
		return &model.PhaseResult{
			Metadata: map[string]any{
				"sources": len(p.cfg.Paths.Annotations),
				"spans":   len(loaded),
				"skipped": len(skips),
			},
		}, nil
	})
	if err != nil {
		return t.finish(err)
	}
	t.result.InputSpans = len(spans)

	var res *dedup.Result
	err = t.phase("merge", func() (*model.PhaseResult, error) {
		r, runErr := dedup.New(merger, p.docs).Run(ctx, spans)
		if runErr != nil {
			return nil, runErr
		}
		res = r
		t.skip(r.Skips...)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"strategy":       p.cfg.Dedup.Strategy,
				"groups":         r.Groups,
				"merges":         r.Merges,
				"passed_through": r.PassedThrough,
				"documents":      p.docs.Loads(),
			},
		}, nil
	})
	if err != nil {
		return t.finish(err)
	}
	t.result.OutputSpans = len(res.Spans)
	t.result.Conflicts = len(res.Conflicts)

	err = t.phase("write", func() (*model.PhaseResult, error) {
		if len(res.Spans) == 0 {
			zap.L().Info("pipeline: no canonical spans, merged output not written",
				zap.String("merged_output", p.cfg.Paths.MergedOutput),
			)
			if rmErr := os.Remove(p.cfg.Paths.MergedOutput); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				return nil, eris.Wrap(rmErr, "pipeline: remove stale merged output")
			}
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		if writeErr := corpus.WriteSpans(p.cfg.Paths.MergedOutput, res.Spans); writeErr != nil {
			return nil, writeErr
		}
		if writeErr := dedup.WriteConflictLogFile(p.cfg.Paths.ConflictLog, res.Conflicts, opts); writeErr != nil {
			return nil, writeErr
		}
		if saveErr := p.store.SaveConflicts(ctx, t.run.ID, res.Conflicts); saveErr != nil {
			return nil, eris.Wrap(saveErr, "pipeline: save conflicts")
		}
		return &model.PhaseResult{
			Metadata: map[string]any{
				"merged_output": p.cfg.Paths.MergedOutput,
				"conflict_log":  p.cfg.Paths.ConflictLog,
			},
		}, nil
	})
	if err != nil {
		return t.finish(err)
	}

	t.result.Metadata = map[string]any{
		"strategy":       p.cfg.Dedup.Strategy,
		"merges":         res.Merges,
		"passed_through": res.PassedThrough,
	}
	return t.finish(nil)
}
