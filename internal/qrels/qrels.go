// Package qrels writes and reads TREC relevance judgment files.
package qrels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/fetcher"
	"github.com/sells-group/qrels-cli/internal/model"
)

// Options holds the constant columns of every judgment line.
type Options struct {
	Iteration string
	Grade     int
}

// DefaultOptions returns iteration "0" and grade 1.
func DefaultOptions() Options {
	return Options{Iteration: "0", Grade: 1}
}

// Build turns relevance pairs into judgments sorted by (question, chunk).
func Build(pairs []model.RelevancePair, opts Options) []model.Qrel {
	sorted := append([]model.RelevancePair(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	out := make([]model.Qrel, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, model.Qrel{
			QuestionID: p.QuestionID,
			Iteration:  opts.Iteration,
			ChunkID:    p.ChunkID,
			Grade:      opts.Grade,
		})
	}
	return out
}

// Path returns the qrels file for strategy inside dir.
func Path(dir, strategy string) string {
	return filepath.Join(dir, "qrels_"+strategy+".txt")
}

// Write emits one tab-separated line per judgment.
func Write(w io.Writer, qrels []model.Qrel) error {
	bw := bufio.NewWriter(w)
	for _, q := range qrels {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\t%d\n", q.QuestionID, q.Iteration, q.ChunkID, q.Grade); err != nil {
			return eris.Wrap(err, "qrels: write line")
		}
	}
	return eris.Wrap(bw.Flush(), "qrels: flush")
}

// WriteFile writes the strategy's judgments under dir. Nothing is written
// when qrels is empty; the returned path is then "".
func WriteFile(dir, strategy string, qrels []model.Qrel) (string, error) {
	if len(qrels) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "qrels: create dir %s", dir)
	}

	path := Path(dir, strategy)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "qrels: create %s", path)
	}
	if err := writeClose(f, qrels); err != nil {
		return "", eris.Wrapf(err, "qrels: write %s", path)
	}
	return path, nil
}

// writeClose writes qrels to wc and closes it, returning the first error.
func writeClose(wc io.WriteCloser, qrels []model.Qrel) error {
	if err := Write(wc, qrels); err != nil {
		_ = wc.Close()
		return err
	}
	return eris.Wrap(wc.Close(), "qrels: close")
}

// Read parses judgment lines separated by tabs or runs of spaces. Lines
// without exactly four fields, or with a non-integer grade, are skipped.
func Read(ctx context.Context, r io.Reader, source string) ([]model.Qrel, []model.Skip, error) {
	rows, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{Delimiter: '\t', TrimSpace: true})

	var (
		out   []model.Qrel
		skips []model.Skip
	)
	for rec := range rows {
		if rec.Err != nil {
			skips = append(skips, model.Skip{Reason: model.SkipUnparsable, Source: source, Line: rec.Index, Detail: rec.Err.Error()})
			continue
		}
		fields := rec.Value
		if len(fields) == 1 {
			fields = strings.Fields(fields[0])
		}
		if len(fields) != 4 {
			skips = append(skips, model.Skip{
				Reason: model.SkipUnparsable,
				Source: source,
				Line:   rec.Index,
				Detail: fmt.Sprintf("expected 4 fields, got %d", len(fields)),
			})
			continue
		}
		grade, err := strconv.Atoi(fields[3])
		if err != nil {
			skips = append(skips, model.Skip{Reason: model.SkipUnparsable, Source: source, Line: rec.Index, Detail: "grade: " + fields[3]})
			continue
		}
		out = append(out, model.Qrel{QuestionID: fields[0], Iteration: fields[1], ChunkID: fields[2], Grade: grade})
	}
	for err := range errCh {
		if err != nil {
			return out, skips, eris.Wrapf(err, "qrels: read %s", source)
		}
	}
	return out, skips, nil
}

// ReadFile opens path and parses it with Read.
func ReadFile(ctx context.Context, path string) ([]model.Qrel, []model.Skip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "qrels: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Read(ctx, f, path)
}

// StrategyName derives the strategy from a qrels path:
// "qrels_SENT.txt" is strategy "SENT".
func StrategyName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimPrefix(stem, "qrels_")
}
