package dedup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/model"
)

const conflictLogHeader = "--- Deduplication Conflict Log ---\n\n"

// WriteConflictLog renders conflicts as a human-readable review log.
func WriteConflictLog(w io.Writer, conflicts []model.Conflict, opts Options) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(conflictLogHeader); err != nil {
		return eris.Wrap(err, "dedup: write conflict log")
	}

	threshold := strconv.FormatFloat(opts.IoUThreshold, 'f', -1, 64)
	for _, c := range conflicts {
		fmt.Fprintf(bw, "CONFLICT DETECTED (IoU >= %s but attributes differ):\n", threshold)
		fmt.Fprintf(bw, "  Active Span: %s\n", describe(c.Active, opts.TextWidth))
		fmt.Fprintf(bw, "  Current Span: %s\n", describe(c.Current, opts.TextWidth))
		fmt.Fprintf(bw, "  IoU: %.4f\n\n", c.IoU)
	}
	return eris.Wrap(bw.Flush(), "dedup: flush conflict log")
}

// WriteConflictLogFile writes the conflict log to path, replacing any
// previous log.
func WriteConflictLogFile(path string, conflicts []model.Conflict, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "dedup: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "dedup: create %s", path)
	}
	if err := WriteConflictLog(f, conflicts, opts); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "dedup: close %s", path)
}

func describe(s model.Span, width int) string {
	return fmt.Sprintf("QID=%s, DOCID=%s, SME=%s, Offsets=[%d-%d], Logic=%s, Group=%s, Text='%s...'",
		s.QuestionID, s.DocumentID, orNA(s.Provenance), s.Start, s.End,
		s.Logic, orNA(s.Group), truncate(s.Text, width))
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

// truncate cuts s to at most n code points.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
