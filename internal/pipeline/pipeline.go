// Package pipeline runs the qrels stages (dedup, align, tune, validate) and
// records each invocation as a run with phases in the store.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/config"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/store"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

// Pipeline orchestrates the stages against one document cache.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	docs  *textnorm.Cache
}

// New creates a new Pipeline. Within a stage run each document is normalized
// once; the cache is reset when the run finishes.
func New(cfg *config.Config, st store.Store, docs *textnorm.Cache) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, docs: docs}
}

// tracker owns the run record of one stage invocation.
type tracker struct {
	ctx    context.Context
	store  store.Store
	docs   *textnorm.Cache
	run    *model.Run
	result *model.RunResult
	start  time.Time
	log    *zap.Logger

	mu    sync.Mutex
	skips []model.Skip
}

func (p *Pipeline) begin(ctx context.Context, stage model.Stage) (*tracker, error) {
	run, err := p.store.CreateRun(ctx, stage)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s run", stage)
	}

	t := &tracker{
		ctx:    ctx,
		store:  p.store,
		docs:   p.docs,
		run:    run,
		result: &model.RunResult{},
		start:  time.Now(),
		log:    zap.L().With(zap.String("run_id", run.ID), zap.String("stage", string(stage))),
	}
	t.log.Info("pipeline: stage starting")

	if statusErr := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); statusErr != nil {
		t.log.Warn("pipeline: failed to update status", zap.Error(statusErr))
	}
	run.Status = model.RunStatusRunning
	return t, nil
}

// phase runs fn as a named phase and records its outcome. It is safe to call
// from concurrent goroutines. The error from fn is returned unchanged.
func (t *tracker) phase(name string, fn func() (*model.PhaseResult, error)) error {
	phase, phaseErr := t.store.CreatePhase(t.ctx, t.run.ID, name)
	if phaseErr != nil {
		t.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
	}

	start := time.Now()
	phaseResult, fnErr := fn()
	duration := time.Since(start).Milliseconds()

	if phaseResult == nil {
		phaseResult = &model.PhaseResult{}
	}
	phaseResult.Name = name
	phaseResult.Duration = duration

	if fnErr != nil {
		phaseResult.Status = model.PhaseStatusFailed
		phaseResult.Error = fnErr.Error()
		t.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(fnErr),
		)
	} else {
		if phaseResult.Status == "" {
			phaseResult.Status = model.PhaseStatusComplete
		}
		t.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.String("status", string(phaseResult.Status)),
			zap.Int64("duration_ms", duration),
		)
	}

	if phase != nil {
		if err := t.store.CompletePhase(context.WithoutCancel(t.ctx), phase.ID, phaseResult); err != nil {
			t.log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
		}
	}

	t.mu.Lock()
	t.result.Phases = append(t.result.Phases, *phaseResult)
	t.mu.Unlock()
	return fnErr
}

func (t *tracker) skip(skips ...model.Skip) {
	t.mu.Lock()
	t.skips = append(t.skips, skips...)
	t.mu.Unlock()
}

// finish persists the run outcome and releases the run's documents. A
// non-nil cause fails the run and is returned.
func (t *tracker) finish(cause error) (*model.Run, error) {
	defer t.docs.Reset()

	t.result.TotalDuration = time.Since(t.start).Milliseconds()
	if len(t.skips) > 0 {
		t.result.Skips = model.CountSkips(t.skips)
	}
	t.run.Result = t.result

	// The run record must land even when the stage was cancelled.
	ctx := context.WithoutCancel(t.ctx)

	if cause != nil {
		t.run.Status = model.RunStatusFailed
		t.run.Error = cause.Error()
		if err := t.store.FailRun(ctx, t.run.ID, cause); err != nil {
			t.log.Warn("pipeline: failed to record run failure", zap.Error(err))
		}
		t.log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", t.result.TotalDuration),
			zap.Error(cause),
		)
		return t.run, cause
	}

	t.run.Status = model.RunStatusComplete
	if err := t.store.UpdateRunResult(ctx, t.run.ID, t.result); err != nil {
		return t.run, eris.Wrap(err, "pipeline: save run result")
	}
	t.log.Info("pipeline: stage complete",
		zap.Int64("duration_ms", t.result.TotalDuration),
		zap.Int("skipped", len(t.skips)),
	)
	return t.run, nil
}
