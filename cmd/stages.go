package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/pipeline"
	"github.com/sells-group/qrels-cli/internal/tune"
	"github.com/sells-group/qrels-cli/internal/validate"
)

// -- dedup --

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Merge near-duplicate annotator spans into canonical spans",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("strategy") {
			cfg.Dedup.Strategy, _ = cmd.Flags().GetString("strategy")
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		p, st, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := p.Dedup(ctx)
		if err != nil {
			return eris.Wrap(err, "dedup")
		}
		formatDedup(cmd.OutOrStdout(), run)
		return nil
	},
}

func formatDedup(w io.Writer, run *model.Run) {
	r := run.Result
	_, _ = fmt.Fprintf(w, "run %s: %d spans in, %d canonical spans out, %d conflict(s)\n",
		run.ID, r.InputSpans, r.OutputSpans, r.Conflicts)
	_, _ = fmt.Fprintf(w, "merged spans: %s\nconflict log: %s\n", cfg.Paths.MergedOutput, cfg.Paths.ConflictLog)
	formatSkips(w, r.Skips)
}

// -- align --

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Align canonical spans to chunk manifests and write qrels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("sme-threshold") {
			cfg.Align.SMEThreshold, _ = cmd.Flags().GetFloat64("sme-threshold")
		}
		if cmd.Flags().Changed("chunk-threshold") {
			cfg.Align.ChunkThreshold, _ = cmd.Flags().GetFloat64("chunk-threshold")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		manifests, _ := cmd.Flags().GetStringSlice("manifest")

		p, st, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := p.Align(ctx, pipeline.AlignOptions{Manifests: resolveManifests(manifests)})
		if err != nil {
			return eris.Wrap(err, "align")
		}
		formatAlign(cmd.OutOrStdout(), run)
		return nil
	},
}

// resolveManifests accepts manifest paths or bare strategy names.
func resolveManifests(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasSuffix(a, ".jsonl") || strings.ContainsRune(a, filepath.Separator) {
			out = append(out, a)
			continue
		}
		out = append(out, corpus.ManifestPath(cfg.Paths.ManifestsDir, a))
	}
	return out
}

func formatAlign(w io.Writer, run *model.Run) {
	_, _ = fmt.Fprintf(w, "run %s: %d strategies\n", run.ID, len(run.Result.Strategies))
	for _, sr := range run.Result.Strategies {
		if sr.QrelsPath == "" {
			reason := "no relevant pairs"
			if sr.Error != "" {
				reason = sr.Error
			}
			_, _ = fmt.Fprintf(w, "  %-24s skipped (%s)\n", sr.Strategy, reason)
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-24s %6d chunks %6d alignments %6d pairs -> %s\n",
			sr.Strategy, sr.Chunks, sr.Alignments, sr.Pairs, sr.QrelsPath)
	}
	formatSkips(w, run.Result.Skips)
}

// -- tune --

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Grid-search the span and chunk coverage thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		manifest, _ := cmd.Flags().GetString("manifest")
		out, _ := cmd.Flags().GetString("out")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		baselinePath, _ := cmd.Flags().GetString("baseline")

		var baseline *tune.Report
		if baselinePath != "" {
			b, err := tune.ReadXLSX(baselinePath)
			if err != nil {
				return eris.Wrap(err, "tune: load baseline")
			}
			baseline = b
		}

		p, st, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := pipeline.TuneOptions{ReportPath: out, XLSXPath: xlsxPath}
		if manifest != "" {
			opts.Manifest = resolveManifests([]string{manifest})[0]
		}

		run, rep, err := p.Tune(ctx, opts)
		if rep != nil {
			w := cmd.OutOrStdout()
			switch {
			case !rep.Found:
				_, _ = fmt.Fprintf(w, "no grid point accepted any pair (%d candidates)\n", rep.Candidates)
			default:
				_, _ = fmt.Fprintf(w, "best thresholds: sme=%.2f chunk=%.2f  F=%.4f  avg_span=%.4f avg_chunk=%.4f  accepted=%d\n",
					rep.Best.Thresholds.SME, rep.Best.Thresholds.Chunk, rep.Best.F,
					rep.Best.AvgSpan, rep.Best.AvgChunk, rep.Best.Accepted)
			}
			if !rep.Complete {
				_, _ = fmt.Fprintln(w, "search interrupted; result covers the visited grid points only")
			}
			if baseline != nil {
				formatBaseline(w, baseline, rep)
			}
		}
		if err != nil {
			return eris.Wrap(err, "tune")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "run %s complete\n", run.ID)
		return nil
	},
}

// -- validate --

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check manifests, annotation files and qrels against the documents",
	Long:  "Checks offsets and stored text of every chunk and span, and that every qrels chunk id exists in its manifest. Exits non-zero when any violation is found.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		manifests, _ := cmd.Flags().GetStringSlice("manifest")
		annotations, _ := cmd.Flags().GetStringSlice("annotations")
		qrelsFiles, _ := cmd.Flags().GetStringSlice("qrels")

		p, st, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		_, results, err := p.Validate(ctx, pipeline.ValidateOptions{
			Manifests:   resolveManifests(manifests),
			Annotations: annotations,
			Qrels:       qrelsFiles,
		})
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		if err := validate.WriteSummary(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		if n := len(validate.Violations(results)); n > 0 {
			return eris.Errorf("validate: %d violation(s) found", n)
		}
		return nil
	},
}

func formatSkips(w io.Writer, skips map[model.SkipReason]int) {
	if len(skips) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "skipped records:")
	for _, reason := range sortedReasons(skips) {
		_, _ = fmt.Fprintf(w, "  %-28s %d\n", reason, skips[reason])
	}
}

func sortedReasons(skips map[model.SkipReason]int) []model.SkipReason {
	out := make([]model.SkipReason, 0, len(skips))
	for r := range skips {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	dedupCmd.Flags().String("strategy", "", "merge strategy override (chain or cluster)")

	alignCmd.Flags().StringSlice("manifest", nil, "manifest path or strategy name (repeatable; default: every manifest in paths.manifests_dir)")
	alignCmd.Flags().Float64("sme-threshold", 0, "span coverage threshold override")
	alignCmd.Flags().Float64("chunk-threshold", 0, "chunk coverage threshold override")

	tuneCmd.Flags().String("manifest", "", "manifest path or strategy name (default: tune.manifest)")
	tuneCmd.Flags().String("out", "", "report path (default: <reports_dir>/tune_report.yaml)")
	tuneCmd.Flags().String("xlsx", "", "also export the grid as an xlsx workbook")
	tuneCmd.Flags().String("baseline", "", "compare against the best point of an earlier --xlsx workbook")

	validateCmd.Flags().StringSlice("manifest", nil, "manifest path or strategy name to check (repeatable)")
	validateCmd.Flags().StringSlice("annotations", nil, "span file to check (repeatable)")
	validateCmd.Flags().StringSlice("qrels", nil, "qrels file to check against its strategy manifest (repeatable)")
	validateCmd.SilenceUsage = true

	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(alignCmd)
	rootCmd.AddCommand(tuneCmd)
	rootCmd.AddCommand(validateCmd)
}

// formatBaseline writes the best point of an earlier tuning workbook next to
// the change in F.
func formatBaseline(w io.Writer, baseline, rep *tune.Report) {
	_, _ = fmt.Fprintf(w, "baseline thresholds: sme=%.2f chunk=%.2f  F=%.4f  accepted=%d  (F change %+.4f)\n",
		baseline.Best.Thresholds.SME, baseline.Best.Thresholds.Chunk, baseline.Best.F,
		baseline.Best.Accepted, rep.Best.F-baseline.Best.F)
}
