// Package align decides which chunks of a chunking strategy are relevant to
// each question by dual coverage of canonical spans.
package align

import (
	"sort"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/geometry"
	"github.com/sells-group/qrels-cli/internal/model"
)

// Thresholds are the minimum span and chunk coverages for relevance. Both
// must hold.
type Thresholds struct {
	SME   float64 `json:"sme" yaml:"sme"`
	Chunk float64 `json:"chunk" yaml:"chunk"`
}

// DefaultThresholds returns (0.85, 0.50).
func DefaultThresholds() Thresholds {
	return Thresholds{SME: 0.85, Chunk: 0.50}
}

// Accept applies the relevance predicate to a pair's coverages.
func (t Thresholds) Accept(c geometry.Coverages) bool {
	return c.Span >= t.SME && c.Chunk >= t.Chunk
}

// Candidate is a (span, chunk) pair with non-zero overlap. Whether it counts
// as relevant depends only on the thresholds applied to Coverages.
type Candidate struct {
	QuestionID string
	DocumentID string
	ChunkID    string
	Coverages  geometry.Coverages
}

// Pair returns the relevance pair the candidate would produce.
func (c Candidate) Pair() model.RelevancePair {
	return model.RelevancePair{QuestionID: c.QuestionID, ChunkID: c.ChunkID}
}

// Score returns the candidates formed by one span against one document's
// chunks, in chunk order.
func Score(span model.Span, chunks []model.Chunk) []Candidate {
	si := geometry.New(span.Start, span.End)
	var out []Candidate
	for _, c := range chunks {
		cov, ok := geometry.Dual(si, geometry.New(c.Start, c.End))
		if !ok {
			continue
		}
		out = append(out, Candidate{
			QuestionID: span.QuestionID,
			DocumentID: span.DocumentID,
			ChunkID:    c.ChunkID,
			Coverages:  cov,
		})
	}
	return out
}

// SpanIndex is the canonical span set grouped by document.
type SpanIndex struct {
	ByDoc map[string][]model.Span
	Count int
}

// IndexSpans groups spans by document, dropping degenerate ones.
func IndexSpans(spans []model.Span) (*SpanIndex, []model.Skip) {
	idx := &SpanIndex{ByDoc: make(map[string][]model.Span)}
	var skips []model.Skip
	for _, s := range spans {
		if s.Degenerate() || s.Start < 0 {
			skips = append(skips, model.Skip{
				Reason:     model.SkipDegenerate,
				QuestionID: s.QuestionID,
				DocumentID: s.DocumentID,
				Start:      s.Start,
				End:        s.End,
			})
			continue
		}
		idx.ByDoc[s.DocumentID] = append(idx.ByDoc[s.DocumentID], s)
		idx.Count++
	}
	return idx, skips
}

// Documents returns the indexed document ids, sorted.
func (idx *SpanIndex) Documents() []string {
	ids := make([]string, 0, len(idx.ByDoc))
	for id := range idx.ByDoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Candidates enumerates every overlapping (span, chunk) pair for documents
// present in both sets, ordered by document then span then chunk.
func Candidates(idx *SpanIndex, chunks *corpus.ChunkSet) []Candidate {
	var out []Candidate
	for _, docID := range idx.Documents() {
		docChunks, ok := chunks.ByDoc[docID]
		if !ok {
			continue
		}
		for _, s := range idx.ByDoc[docID] {
			out = append(out, Score(s, docChunks)...)
		}
	}
	return out
}
