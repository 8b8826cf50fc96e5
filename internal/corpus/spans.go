// Package corpus reads and writes the on-disk artifacts of a qrels build:
// annotator span files, merged span files and chunk manifests.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/fetcher"
	"github.com/sells-group/qrels-cli/internal/model"
)

// ErrNoAnnotations is returned when no usable span record was loaded from any
// source.
var ErrNoAnnotations = eris.New("corpus: no annotations loaded")

// Source is one annotator span file.
type Source struct {
	Path string
	// Provenance is applied to records without an sme_id.
	Provenance string
}

// spanRecord mirrors model.Span with optional required fields so missing
// keys can be told apart from zero values.
type spanRecord struct {
	QuestionID *string `json:"qid"`
	DocumentID *string `json:"docid"`
	Start      *int    `json:"start"`
	End        *int    `json:"end"`
	Text       string  `json:"text"`
	Logic      *string `json:"logic"`
	Group      string  `json:"group"`
	Provenance string  `json:"sme_id"`
}

func (r spanRecord) missing() string {
	switch {
	case r.QuestionID == nil || *r.QuestionID == "":
		return "qid"
	case r.DocumentID == nil || *r.DocumentID == "":
		return "docid"
	case r.Start == nil:
		return "start"
	case r.End == nil:
		return "end"
	case r.Logic == nil:
		return "logic"
	}
	return ""
}

func (r spanRecord) span() model.Span {
	return model.Span{
		QuestionID: *r.QuestionID,
		DocumentID: *r.DocumentID,
		Start:      *r.Start,
		End:        *r.End,
		Text:       r.Text,
		Logic:      model.Logic(*r.Logic),
		Group:      r.Group,
		Provenance: r.Provenance,
	}
}

// LoadSpans reads every source in order and concatenates their records.
// Missing and unreadable source files are reported as skips. Records missing
// a required field, or carrying an unknown logic tag, are skipped.
// ErrNoAnnotations is returned when nothing usable was read.
func LoadSpans(ctx context.Context, sources []Source) ([]model.Span, []model.Skip, error) {
	var (
		spans []model.Span
		skips []model.Skip
	)

	for _, src := range sources {
		if _, err := os.Stat(src.Path); errors.Is(err, os.ErrNotExist) {
			zap.L().Warn("corpus: annotation source not found", zap.String("path", src.Path))
			skips = append(skips, model.Skip{Reason: model.SkipMissingSource, Source: src.Path})
			continue
		}

		got, srcSkips, err := ReadSpans(ctx, src.Path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, skips, err
			}
			zap.L().Warn("corpus: annotation source unreadable", zap.String("path", src.Path), zap.Error(err))
			skips = append(skips, model.Skip{Reason: model.SkipUnparsable, Source: src.Path, Detail: err.Error()})
			continue
		}

		for i := range got {
			if got[i].Provenance == "" {
				got[i].Provenance = src.Provenance
			}
		}
		zap.L().Info("corpus: loaded annotations",
			zap.String("path", src.Path),
			zap.String("provenance", src.Provenance),
			zap.Int("spans", len(got)),
			zap.Int("skipped", len(srcSkips)),
		)
		spans = append(spans, got...)
		skips = append(skips, srcSkips...)
	}

	if len(spans) == 0 {
		return nil, skips, ErrNoAnnotations
	}
	return spans, skips, nil
}

// ReadSpans decodes one JSON array of span records.
func ReadSpans(ctx context.Context, path string) ([]model.Span, []model.Skip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "corpus: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	ok, bad, err := fetcher.Collect(fetcher.DecodeJSONArray[spanRecord](ctx, bufio.NewReader(f)))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "corpus: decode %s", path)
	}

	skips := make([]model.Skip, 0, len(bad))
	for _, rec := range bad {
		zap.L().Warn("corpus: unparsable span record", zap.String("path", path), zap.Int("index", rec.Index), zap.Error(rec.Err))
		skips = append(skips, model.Skip{Reason: model.SkipUnparsable, Source: path, Line: rec.Index, Detail: rec.Err.Error()})
	}

	spans := make([]model.Span, 0, len(ok))
	for _, rec := range ok {
		if field := rec.Value.missing(); field != "" {
			skips = append(skips, model.Skip{Reason: model.SkipMissingField, Source: path, Line: rec.Index, Detail: field})
			continue
		}
		s := rec.Value.span()
		if !s.Logic.Valid() {
			skips = append(skips, model.Skip{
				Reason:     model.SkipUnknownLogic,
				Source:     path,
				Line:       rec.Index,
				QuestionID: s.QuestionID,
				DocumentID: s.DocumentID,
				Detail:     string(s.Logic),
			})
			continue
		}
		spans = append(spans, s)
	}

	return spans, skips, nil
}

// WriteSpans writes spans as an indented JSON array, creating parent
// directories as needed.
func WriteSpans(path string, spans []model.Span) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "corpus: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "corpus: create %s", path)
	}
	defer closeInto(&err, f, path)

	if spans == nil {
		spans = []model.Span{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(spans); err != nil {
		return eris.Wrapf(err, "corpus: encode %s", path)
	}
	return eris.Wrapf(f.Sync(), "corpus: sync %s", path)
}

// closeInto closes c and, when *err is still nil, reports the close error
// through it.
func closeInto(err *error, c io.Closer, path string) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = eris.Wrapf(cerr, "corpus: close %s", path)
	}
}
