// Package validate checks chunk manifests, span files and qrels files against
// the normalized documents they reference.
package validate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/fetcher"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/qrels"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

// Code classifies a violation.
type Code string

const (
	CodeFileNotFound   Code = "FILE_NOT_FOUND"
	CodeUnparsable     Code = "UNPARSABLE_RECORD"
	CodeMissingField   Code = "MISSING_FIELD"
	CodeUnknownLogic   Code = "UNKNOWN_LOGIC"
	CodeDocNotFound    Code = "DOC_NOT_FOUND"
	CodeDocEmpty       Code = "DOC_EMPTY"
	CodeInvalidOffsets Code = "INVALID_OFFSETS"
	CodeTextMismatch   Code = "TEXT_MISMATCH"
	CodeUnknownChunk   Code = "UNKNOWN_CHUNK"
)

// Violation is one failed check, located by file and line (or array index).
type Violation struct {
	Code       Code   `json:"code"`
	Source     string `json:"source"`
	Line       int    `json:"line,omitempty"`
	QuestionID string `json:"qid,omitempty"`
	DocumentID string `json:"docid,omitempty"`
	ChunkID    string `json:"chunk_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (v Violation) String() string {
	s := fmt.Sprintf("%s %s:%d", v.Code, v.Source, v.Line)
	if v.QuestionID != "" {
		s += " qid=" + v.QuestionID
	}
	if v.DocumentID != "" {
		s += " docid=" + v.DocumentID
	}
	if v.ChunkID != "" {
		s += " chunk_id=" + v.ChunkID
	}
	if v.Detail != "" {
		s += " (" + v.Detail + ")"
	}
	return s
}

// Kind names what a Result checked.
type Kind string

const (
	KindManifest    Kind = "manifest"
	KindAnnotations Kind = "annotations"
	KindQrels       Kind = "qrels"
)

// Result is the outcome of checking one file.
type Result struct {
	Kind       Kind        `json:"kind"`
	Source     string      `json:"source"`
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations"`
}

// OK reports whether the file passed every check.
func (r *Result) OK() bool {
	return len(r.Violations) == 0
}

func (r *Result) add(v Violation) {
	v.Source = r.Source
	r.Violations = append(r.Violations, v)
}

// Checker validates files against a shared document cache.
type Checker struct {
	docs *textnorm.Cache
}

// New creates a Checker that resolves documents through docs.
func New(docs *textnorm.Cache) *Checker {
	return &Checker{docs: docs}
}

// document returns the normalized document, or the violation describing why
// it is unavailable.
func (c *Checker) document(ctx context.Context, docID string) (*textnorm.Document, *Violation) {
	doc, err := c.docs.Get(ctx, docID)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, textnorm.ErrEmptyDocument):
		return nil, &Violation{Code: CodeDocEmpty, DocumentID: docID}
	default:
		return nil, &Violation{Code: CodeDocNotFound, DocumentID: docID, Detail: err.Error()}
	}
}

// manifestLine keeps every field optional so incomplete lines are reported
// rather than dropped.
type manifestLine struct {
	DocumentID *string `json:"original_doc_id"`
	ChunkID    *string `json:"chunk_id"`
	Start      *int    `json:"start"`
	End        *int    `json:"end"`
	Text       *string `json:"text"`
}

func (l manifestLine) missing() string {
	switch {
	case l.DocumentID == nil || *l.DocumentID == "":
		return "original_doc_id"
	case l.ChunkID == nil || *l.ChunkID == "":
		return "chunk_id"
	case l.Start == nil:
		return "start"
	case l.End == nil:
		return "end"
	case l.Text == nil:
		return "text"
	}
	return ""
}

// Manifest checks every line of a chunk manifest: required fields present,
// 0 <= start <= end <= len(doc), and stored text equal to the exact slice.
func (c *Checker) Manifest(ctx context.Context, path string) (*Result, error) {
	res := &Result{Kind: KindManifest, Source: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		res.add(Violation{Code: CodeFileNotFound})
		return res, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "validate: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	recs, errCh := fetcher.StreamJSONL[manifestLine](ctx, bufio.NewReader(f))
	for rec := range recs {
		res.Checked++
		if rec.Err != nil {
			res.add(Violation{Code: CodeUnparsable, Line: rec.Index, Detail: rec.Err.Error()})
			continue
		}
		l := rec.Value
		if field := l.missing(); field != "" {
			res.add(Violation{Code: CodeMissingField, Line: rec.Index, Detail: field})
			continue
		}

		v := Violation{Line: rec.Index, DocumentID: *l.DocumentID, ChunkID: *l.ChunkID}
		doc, bad := c.document(ctx, *l.DocumentID)
		if bad != nil {
			bad.Line, bad.ChunkID = rec.Index, *l.ChunkID
			res.add(*bad)
			continue
		}
		if !inBounds(*l.Start, *l.End, doc.Len()) {
			v.Code = CodeInvalidOffsets
			v.Detail = fmt.Sprintf("start:%d end:%d len:%d", *l.Start, *l.End, doc.Len())
			res.add(v)
			continue
		}
		want, _ := doc.Slice(*l.Start, *l.End)
		if want != *l.Text {
			v.Code = CodeTextMismatch
			v.Detail = fmt.Sprintf("stored %d chars, expected %d", len([]rune(*l.Text)), len([]rune(want)))
			res.add(v)
		}
	}
	for err := range errCh {
		if err != nil {
			return res, eris.Wrapf(err, "validate: read %s", path)
		}
	}

	logResult(res)
	return res, nil
}

// spanLine is a span record with optional fields, decoded independently of
// corpus.ReadSpans so violations keep their array index.
type spanLine struct {
	QuestionID *string `json:"qid"`
	DocumentID *string `json:"docid"`
	Start      *int    `json:"start"`
	End        *int    `json:"end"`
	Text       *string `json:"text"`
	Logic      *string `json:"logic"`
}

func (l spanLine) missing() string {
	switch {
	case l.QuestionID == nil || *l.QuestionID == "":
		return "qid"
	case l.DocumentID == nil || *l.DocumentID == "":
		return "docid"
	case l.Start == nil:
		return "start"
	case l.End == nil:
		return "end"
	case l.Text == nil:
		return "text"
	case l.Logic == nil:
		return "logic"
	}
	return ""
}

// Annotations checks a span file: every record parses with its required
// fields, offsets fall within the document and the stored text equals the
// whitespace-trimmed slice. Lines are array indexes.
func (c *Checker) Annotations(ctx context.Context, path string) (*Result, error) {
	res := &Result{Kind: KindAnnotations, Source: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		res.add(Violation{Code: CodeFileNotFound})
		return res, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "validate: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	recs, errCh := fetcher.DecodeJSONArray[spanLine](ctx, bufio.NewReader(f))
	for rec := range recs {
		res.Checked++
		if rec.Err != nil {
			res.add(Violation{Code: CodeUnparsable, Line: rec.Index, Detail: rec.Err.Error()})
			continue
		}
		l := rec.Value
		if field := l.missing(); field != "" {
			res.add(Violation{Code: CodeMissingField, Line: rec.Index, Detail: field})
			continue
		}

		v := Violation{Line: rec.Index, QuestionID: *l.QuestionID, DocumentID: *l.DocumentID}
		if !model.Logic(*l.Logic).Valid() {
			v.Code, v.Detail = CodeUnknownLogic, *l.Logic
			res.add(v)
			continue
		}
		doc, bad := c.document(ctx, *l.DocumentID)
		if bad != nil {
			bad.Line, bad.QuestionID = rec.Index, *l.QuestionID
			res.add(*bad)
			continue
		}
		if !inBounds(*l.Start, *l.End, doc.Len()) {
			v.Code = CodeInvalidOffsets
			v.Detail = fmt.Sprintf("start:%d end:%d len:%d", *l.Start, *l.End, doc.Len())
			res.add(v)
			continue
		}
		want, _ := doc.TrimmedSlice(*l.Start, *l.End)
		if want != *l.Text {
			v.Code = CodeTextMismatch
			res.add(v)
		}
	}
	for err := range errCh {
		if err != nil {
			return res, eris.Wrapf(err, "validate: read %s", path)
		}
	}

	logResult(res)
	return res, nil
}

// Qrels checks that every chunk id in a qrels file exists in chunks.
func (c *Checker) Qrels(ctx context.Context, path string, chunks *corpus.ChunkSet) (*Result, error) {
	res := &Result{Kind: KindQrels, Source: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		res.add(Violation{Code: CodeFileNotFound})
		return res, nil
	}
	judgments, skips, err := qrels.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read %s", path)
	}
	res.Checked = len(judgments) + len(skips)

	for _, s := range skips {
		res.add(Violation{Code: CodeUnparsable, Line: s.Line, Detail: s.Detail})
	}

	ids := chunks.IDs()
	for _, q := range judgments {
		if _, ok := ids[q.ChunkID]; !ok {
			res.add(Violation{Code: CodeUnknownChunk, QuestionID: q.QuestionID, ChunkID: q.ChunkID})
		}
	}

	logResult(res)
	return res, nil
}

func inBounds(start, end, n int) bool {
	return 0 <= start && start <= end && end <= n
}

func logResult(res *Result) {
	if res.OK() {
		zap.L().Info("validate: all checks passed",
			zap.String("kind", string(res.Kind)),
			zap.String("path", res.Source),
			zap.Int("checked", res.Checked),
		)
		return
	}
	zap.L().Warn("validate: violations found",
		zap.String("kind", string(res.Kind)),
		zap.String("path", res.Source),
		zap.Int("checked", res.Checked),
		zap.Int("violations", len(res.Violations)),
	)
}

// Violations flattens the violations of every result.
func Violations(results []*Result) []Violation {
	var out []Violation
	for _, r := range results {
		out = append(out, r.Violations...)
	}
	return out
}

// WriteSummary prints one line per result followed by its violations.
func WriteSummary(w io.Writer, results []*Result) error {
	bw := bufio.NewWriter(w)
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = fmt.Sprintf("%d violation(s)", len(r.Violations))
		}
		fmt.Fprintf(bw, "%s %s: %d checked, %s\n", r.Kind, r.Source, r.Checked, status) //nolint:errcheck
		for _, v := range r.Violations {
			fmt.Fprintf(bw, "  - %s\n", v) //nolint:errcheck
		}
	}
	return eris.Wrap(bw.Flush(), "validate: flush summary")
}
