package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/align"
	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/tune"
)

// TuneOptions overrides the tuner's input and output locations.
type TuneOptions struct {
	// Manifest defaults to tune.manifest inside the manifests dir.
	Manifest string
	// ReportPath defaults to tune_report.yaml inside the reports dir.
	ReportPath string
	// XLSXPath, when set, also exports the grid as a workbook.
	XLSXPath string
}

func (p *Pipeline) tuneOptions(opts TuneOptions) TuneOptions {
	if opts.Manifest == "" {
		opts.Manifest = filepath.Join(p.cfg.Paths.ManifestsDir, p.cfg.Tune.Manifest)
	}
	if opts.ReportPath == "" {
		opts.ReportPath = filepath.Join(p.cfg.Paths.ReportsDir, "tune_report.yaml")
	}
	return opts
}

// Tune grid-searches the alignment thresholds on one manifest and writes the
// report. When the search is cancelled the best-so-far report is still
// written and the run fails with the cancellation error.
func (p *Pipeline) Tune(ctx context.Context, opts TuneOptions) (*model.Run, *tune.Report, error) {
	opts = p.tuneOptions(opts)

	t, err := p.begin(ctx, model.StageTune)
	if err != nil {
		return nil, nil, err
	}

	idx, err := p.loadIndex(ctx, t)
	if err != nil {
		run, err := t.finish(err)
		return run, nil, err
	}

	var candidates []align.Candidate
	err = t.phase("candidates", func() (*model.PhaseResult, error) {
		chunks, skips, loadErr := corpus.LoadChunks(ctx, opts.Manifest)
		t.skip(skips...)
		if loadErr != nil {
			return nil, eris.Wrap(loadErr, "pipeline: load tuning manifest")
		}
		candidates = align.Candidates(idx, chunks)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"manifest":   opts.Manifest,
				"chunks":     chunks.Count,
				"candidates": len(candidates),
			},
		}, nil
	})
	if err != nil {
		run, err := t.finish(err)
		return run, nil, err
	}

	var rep *tune.Report
	searchErr := t.phase("search", func() (*model.PhaseResult, error) {
		var sErr error
		rep, sErr = tune.Search(ctx, candidates, tune.Options{
			SMEGrid:   p.cfg.Tune.SMEGrid,
			ChunkGrid: p.cfg.Tune.ChunkGrid,
			LogGrid:   p.cfg.Tune.LogGrid,
		})
		if rep == nil {
			return nil, sErr
		}
		rep.Strategy = corpus.StrategyName(opts.Manifest)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"grid_points": len(rep.Grid),
				"found":       rep.Found,
				"complete":    rep.Complete,
			},
		}, sErr
	})
	if rep == nil {
		run, err := t.finish(searchErr)
		return run, nil, err
	}

	err = t.phase("write", func() (*model.PhaseResult, error) {
		if writeErr := tune.WriteYAML(opts.ReportPath, rep); writeErr != nil {
			return nil, writeErr
		}
		meta := map[string]any{"report": opts.ReportPath}
		if opts.XLSXPath != "" {
			if writeErr := tune.WriteXLSX(opts.XLSXPath, rep); writeErr != nil {
				return nil, writeErr
			}
			meta["xlsx"] = opts.XLSXPath
		}
		return &model.PhaseResult{Metadata: meta}, nil
	})
	if err == nil {
		err = searchErr
	}

	t.result.Metadata = map[string]any{
		"strategy":        rep.Strategy,
		"found":           rep.Found,
		"complete":        rep.Complete,
		"sme_threshold":   rep.Best.Thresholds.SME,
		"chunk_threshold": rep.Best.Thresholds.Chunk,
		"f":               rep.Best.F,
		"accepted":        rep.Best.Accepted,
	}
	run, err := t.finish(err)
	return run, rep, err
}
