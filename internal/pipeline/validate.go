package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/qrels"
	"github.com/sells-group/qrels-cli/internal/validate"
)

// ValidateOptions lists the files to check. When every list is empty the
// configured corpus is checked: all manifests, every annotation source plus
// the merged output, and all qrels files.
type ValidateOptions struct {
	Manifests   []string
	Annotations []string
	Qrels       []string
}

func (o ValidateOptions) empty() bool {
	return len(o.Manifests) == 0 && len(o.Annotations) == 0 && len(o.Qrels) == 0
}

func (p *Pipeline) validateDefaults() (ValidateOptions, error) {
	var opts ValidateOptions

	manifests, err := corpus.ListManifests(p.cfg.Paths.ManifestsDir)
	if err != nil {
		return opts, err
	}
	opts.Manifests = manifests

	for _, src := range p.cfg.Paths.Annotations {
		opts.Annotations = append(opts.Annotations, src.Path)
	}
	opts.Annotations = append(opts.Annotations, p.cfg.Paths.MergedOutput)

	files, err := filepath.Glob(filepath.Join(p.cfg.Paths.QrelsDir, "qrels_*.txt"))
	if err != nil {
		return opts, eris.Wrapf(err, "pipeline: list qrels in %s", p.cfg.Paths.QrelsDir)
	}
	sort.Strings(files)
	opts.Qrels = files
	return opts, nil
}

// Validate checks manifests, annotation files and qrels files. Violations do
// not fail the run; they are returned for the caller to report.
func (p *Pipeline) Validate(ctx context.Context, opts ValidateOptions) (*model.Run, []*validate.Result, error) {
	t, err := p.begin(ctx, model.StageValidate)
	if err != nil {
		return nil, nil, err
	}

	if opts.empty() {
		if opts, err = p.validateDefaults(); err != nil {
			run, err := t.finish(err)
			return run, nil, err
		}
	}

	checker := validate.New(p.docs)
	var results []*validate.Result

	check := func(name string, paths []string, fn func(path string) ([]*validate.Result, error)) error {
		return t.phase(name, func() (*model.PhaseResult, error) {
			var checked, violations int
			for _, path := range paths {
				got, checkErr := fn(path)
				if checkErr != nil {
					return nil, checkErr
				}
				for _, r := range got {
					checked += r.Checked
					violations += len(r.Violations)
				}
				results = append(results, got...)
			}
			return &model.PhaseResult{
				Metadata: map[string]any{
					"files":      len(paths),
					"checked":    checked,
					"violations": violations,
				},
			}, nil
		})
	}

	if err := check("manifests", opts.Manifests, func(path string) ([]*validate.Result, error) {
		r, err := checker.Manifest(ctx, path)
		return []*validate.Result{r}, err
	}); err != nil {
		run, err := t.finish(err)
		return run, results, err
	}

	if err := check("annotations", opts.Annotations, func(path string) ([]*validate.Result, error) {
		r, err := checker.Annotations(ctx, path)
		return []*validate.Result{r}, err
	}); err != nil {
		run, err := t.finish(err)
		return run, results, err
	}

	if err := check("qrels", opts.Qrels, func(path string) ([]*validate.Result, error) {
		return p.checkQrels(ctx, checker, path)
	}); err != nil {
		run, err := t.finish(err)
		return run, results, err
	}

	violations := validate.Violations(results)
	t.result.Metadata = map[string]any{
		"files":      len(results),
		"violations": len(violations),
	}
	run, err := t.finish(nil)
	return run, results, err
}

// checkQrels validates a qrels file against the manifest of the same
// strategy. A missing manifest is reported in place of the qrels check.
func (p *Pipeline) checkQrels(ctx context.Context, checker *validate.Checker, path string) ([]*validate.Result, error) {
	manifest := corpus.ManifestPath(p.cfg.Paths.ManifestsDir, qrels.StrategyName(path))
	if _, err := os.Stat(manifest); errors.Is(err, os.ErrNotExist) {
		r, err := checker.Manifest(ctx, manifest)
		return []*validate.Result{r}, err
	}

	chunks, _, err := corpus.LoadChunks(ctx, manifest)
	if err != nil && !errors.Is(err, corpus.ErrNoChunks) {
		return nil, err
	}
	r, err := checker.Qrels(ctx, path, chunks)
	return []*validate.Result{r}, err
}
