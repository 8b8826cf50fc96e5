package dedup

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

// Result is the canonical span set for a corpus plus its diagnostics.
type Result struct {
	Spans     []model.Span
	Conflicts []model.Conflict
	Skips     []model.Skip
	Groups    int
	// PassedThrough counts groups emitted unmerged because their document
	// text was unavailable.
	PassedThrough int
	Merges        int
}

// Deduplicator groups raw spans by (question, document) and merges each group.
type Deduplicator struct {
	merger Merger
	docs   *textnorm.Cache
}

// New creates a Deduplicator. docs supplies the normalized text used to
// re-derive span text; it is typically shared with the alignment stage of
// the same run.
func New(merger Merger, docs *textnorm.Cache) *Deduplicator {
	return &Deduplicator{merger: merger, docs: docs}
}

// SortSpans orders spans by (question, document, start, end). Equal keys keep
// their input order.
func SortSpans(spans []model.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.QuestionID != b.QuestionID {
			return a.QuestionID < b.QuestionID
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
}

// Groups splits sorted spans into runs sharing a (question, document) key.
func Groups(sorted []model.Span) [][]model.Span {
	var out [][]model.Span
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Key() == sorted[i].Key() {
			j++
		}
		out = append(out, sorted[i:j])
		i = j
	}
	return out
}

// Run merges spans. The input slice is not modified. A group whose document
// cannot be loaded is passed through unmerged and recorded as a skip.
func (d *Deduplicator) Run(ctx context.Context, spans []model.Span) (*Result, error) {
	sorted := make([]model.Span, len(spans))
	copy(sorted, spans)
	SortSpans(sorted)

	res := &Result{}
	for _, group := range Groups(sorted) {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "dedup: cancelled")
		}
		res.Groups++

		key := group[0].Key()
		doc, err := d.docs.Get(ctx, key.DocumentID)
		if err != nil {
			zap.L().Warn("dedup: passing group through unmerged",
				zap.String("qid", key.QuestionID),
				zap.String("docid", key.DocumentID),
				zap.Int("spans", len(group)),
				zap.Error(err),
			)
			res.Spans = append(res.Spans, group...)
			res.PassedThrough++
			res.Skips = append(res.Skips, model.Skip{
				Reason:     model.SkipUnmergedGroup,
				QuestionID: key.QuestionID,
				DocumentID: key.DocumentID,
				Detail:     err.Error(),
			})
			continue
		}

		gr := d.merger.Merge(group, doc)
		res.Spans = append(res.Spans, gr.Spans...)
		res.Conflicts = append(res.Conflicts, gr.Conflicts...)
		res.Skips = append(res.Skips, gr.Skips...)
		res.Merges += gr.Merges
	}

	zap.L().Info("dedup: complete",
		zap.Int("input_spans", len(spans)),
		zap.Int("output_spans", len(res.Spans)),
		zap.Int("groups", res.Groups),
		zap.Int("merges", res.Merges),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("passed_through", res.PassedThrough),
		zap.Int("skipped", len(res.Skips)),
	)
	return res, nil
}
