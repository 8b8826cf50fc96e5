package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/qrels-cli/internal/chunker"
	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/report"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Write a character-window chunk manifest for the documents",
	Long:  "Splits each document's normalized text into fixed-size character windows and writes chunks_<STRATEGY>.jsonl to the manifests dir. An overlap of 0 produces non-overlapping blocks.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		params := chunker.Params{Window: cfg.Chunk.Window, Overlap: cfg.Chunk.Overlap}
		if cmd.Flags().Changed("window") {
			params.Window, _ = cmd.Flags().GetInt("window")
		}
		if cmd.Flags().Changed("overlap") {
			params.Overlap, _ = cmd.Flags().GetInt("overlap")
		}
		if err := params.Validate(); err != nil {
			return err
		}

		docIDs, _ := cmd.Flags().GetStringSlice("doc")
		if len(docIDs) == 0 {
			ids, err := chunker.DocumentIDs(cfg.Paths.DocumentsDir)
			if err != nil {
				return err
			}
			docIDs = ids
		}
		if len(docIDs) == 0 {
			return eris.Errorf("chunk: no documents in %s", cfg.Paths.DocumentsDir)
		}

		res, err := chunker.Run(ctx, newDocumentCache(), docIDs, params)
		if err != nil {
			return eris.Wrap(err, "chunk")
		}
		if err := res.WriteManifest(cfg.Paths.ManifestsDir); err != nil {
			return eris.Wrap(err, "chunk")
		}

		w := cmd.OutOrStdout()
		if res.Path == "" {
			_, _ = fmt.Fprintf(w, "%s: no chunks generated\n", res.Strategy)
		} else {
			_, _ = fmt.Fprintf(w, "%s: %d chunks from %d documents -> %s\n", res.Strategy, len(res.Chunks), len(docIDs), res.Path)
		}
		if len(res.Skips) > 0 {
			_, _ = fmt.Fprintf(w, "%d document(s) skipped\n", len(res.Skips))
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the span distribution report for the merged annotations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			input = cfg.Paths.MergedOutput
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = report.DefaultPath(cfg.Paths.ReportsDir)
		}

		spans, skips, err := corpus.ReadSpans(ctx, input)
		if err != nil {
			return eris.Wrap(err, "report")
		}
		dist := report.Build(spans, cfg.Dedup.ProvenanceSeparator)
		if err := dist.WriteFile(out); err != nil {
			return eris.Wrap(err, "report")
		}

		stdout, _ := cmd.Flags().GetBool("stdout")
		if stdout {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), dist.Markdown())
			return nil
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d spans across %d documents (%d skipped) -> %s\n",
			dist.Spans, len(dist.Documents), len(skips), out)
		return nil
	},
}

func init() {
	chunkCmd.Flags().Int("window", 0, "window size in characters (default: chunk.window)")
	chunkCmd.Flags().Int("overlap", 0, "overlap in characters (default: chunk.overlap)")
	chunkCmd.Flags().StringSlice("doc", nil, "document id to chunk (repeatable; default: every document)")

	reportCmd.Flags().String("input", "", "span file to report on (default: paths.merged_output)")
	reportCmd.Flags().String("out", "", "markdown output path (default: <reports_dir>/output_distribution.md)")
	reportCmd.Flags().Bool("stdout", false, "also print the report")

	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(reportCmd)
}
