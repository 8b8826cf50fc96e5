// Package dedup collapses near-duplicate annotator spans into canonical spans.
package dedup

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/geometry"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

// Strategy names accepted by NewMerger.
const (
	StrategyChain   = "chain"
	StrategyCluster = "cluster"
)

// Options holds the merge tunables.
type Options struct {
	IoUThreshold float64
	DefaultGroup string
	Separator    string
	// TextWidth is the number of code points of span text shown per conflict
	// log entry.
	TextWidth int
}

// DefaultOptions returns the stock merge settings.
func DefaultOptions() Options {
	return Options{
		IoUThreshold: 0.5,
		DefaultGroup: "g1",
		Separator:    "+",
		TextWidth:    50,
	}
}

// GroupResult is the outcome of merging one (question, document) group.
type GroupResult struct {
	Spans     []model.Span
	Conflicts []model.Conflict
	Skips     []model.Skip
	Merges    int
}

// Merger merges one group of spans that share a question and document. The
// group arrives sorted by (start, end); doc is the normalized text used to
// re-derive span text on finalization.
type Merger interface {
	Merge(group []model.Span, doc *textnorm.Document) GroupResult
}

// NewMerger returns the merger registered under strategy.
func NewMerger(strategy string, opts Options) (Merger, error) {
	switch strategy {
	case StrategyChain, "":
		return &ChainMerger{opts: opts}, nil
	case StrategyCluster:
		return &ClusterMerger{opts: opts}, nil
	}
	return nil, eris.Errorf("dedup: unknown merge strategy %q", strategy)
}

func interval(s model.Span) geometry.Interval {
	return geometry.New(s.Start, s.End)
}

// compatible reports whether two spans agree on logic and group.
func (o Options) compatible(a, b model.Span) bool {
	return a.Logic == b.Logic && a.GroupOr(o.DefaultGroup) == b.GroupOr(o.DefaultGroup)
}

// joinProvenance appends add to base, dropping empty parts.
func (o Options) joinProvenance(base, add string) string {
	switch {
	case base == "":
		return add
	case add == "":
		return base
	}
	return base + o.Separator + add
}

// finalize re-slices the span text from its offsets. A non-nil skip means
// the span cannot be emitted.
func finalize(s model.Span, doc *textnorm.Document) (model.Span, *model.Skip) {
	skip := &model.Skip{
		QuestionID: s.QuestionID,
		DocumentID: s.DocumentID,
		Start:      s.Start,
		End:        s.End,
	}
	if s.Degenerate() {
		skip.Reason = model.SkipDegenerate
		return s, skip
	}

	text, err := doc.TrimmedSlice(s.Start, s.End)
	if err != nil {
		skip.Reason = model.SkipOutOfRange
		skip.Detail = err.Error()
		return s, skip
	}
	if text == "" {
		skip.Reason = model.SkipEmptyText
		return s, skip
	}
	s.Text = text
	return s, nil
}

func degenerateSkip(s model.Span) model.Skip {
	return model.Skip{
		Reason:     model.SkipDegenerate,
		QuestionID: s.QuestionID,
		DocumentID: s.DocumentID,
		Start:      s.Start,
		End:        s.End,
	}
}

// ChainMerger is the greedy single-pass merge. A growing active span is
// compared with each following span, so X, Y, Z merge whenever each
// neighbour overlaps the widened envelope, even if X and Z alone would not.
// Output depends on input order when spans are not nested.
type ChainMerger struct {
	opts Options
}

// Merge implements Merger.
func (m *ChainMerger) Merge(group []model.Span, doc *textnorm.Document) GroupResult {
	var res GroupResult
	if len(group) == 0 {
		return res
	}

	emit := func(s model.Span) model.Span {
		out, skip := finalize(s, doc)
		if skip != nil {
			zap.L().Debug("dedup: discarding span",
				zap.String("qid", s.QuestionID),
				zap.String("docid", s.DocumentID),
				zap.String("reason", string(skip.Reason)),
			)
			res.Skips = append(res.Skips, *skip)
			return s
		}
		res.Spans = append(res.Spans, out)
		return out
	}

	active := group[0]
	for _, current := range group[1:] {
		if active.Degenerate() {
			res.Skips = append(res.Skips, degenerateSkip(active))
			active = current
			continue
		}
		if current.Degenerate() {
			res.Skips = append(res.Skips, degenerateSkip(current))
			continue
		}

		iou := geometry.IoU(interval(active), interval(current))
		highOverlap := iou >= m.opts.IoUThreshold

		if highOverlap && m.opts.compatible(active, current) {
			env := geometry.Envelope(interval(active), interval(current))
			active.Start, active.End = env.Start, env.End
			active.Provenance = m.opts.joinProvenance(active.Provenance, current.Provenance)
			res.Merges++
			zap.L().Debug("dedup: merged spans",
				zap.String("qid", active.QuestionID),
				zap.String("docid", active.DocumentID),
				zap.String("sme_id", active.Provenance),
				zap.Int("start", active.Start),
				zap.Int("end", active.End),
			)
			continue
		}

		finalized := emit(active)
		if highOverlap {
			res.Conflicts = append(res.Conflicts, model.Conflict{Active: finalized, Current: current, IoU: iou})
		}
		active = current
	}

	if active.Degenerate() {
		res.Skips = append(res.Skips, degenerateSkip(active))
	} else {
		emit(active)
	}
	return res
}

// ClusterMerger merges by transitive closure: spans are nodes, edges join
// compatible pairs whose IoU meets the threshold, and every connected
// component collapses to its envelope. Closure is repeated over the
// envelopes until no edge remains, so no two output spans satisfy the merge
// predicate. Component membership does not depend on input order.
type ClusterMerger struct {
	opts Options
}

// Merge implements Merger.
func (m *ClusterMerger) Merge(group []model.Span, doc *textnorm.Document) GroupResult {
	var res GroupResult

	nodes := make([]model.Span, 0, len(group))
	for _, s := range group {
		if s.Degenerate() {
			res.Skips = append(res.Skips, degenerateSkip(s))
			continue
		}
		nodes = append(nodes, s)
	}

	// Conflicts are judged on the raw spans only.
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			iou := geometry.IoU(interval(nodes[i]), interval(nodes[j]))
			if iou >= m.opts.IoUThreshold && !m.opts.compatible(nodes[i], nodes[j]) {
				res.Conflicts = append(res.Conflicts, model.Conflict{Active: nodes[i], Current: nodes[j], IoU: iou})
			}
		}
	}

	for {
		merged, n := m.closure(nodes)
		res.Merges += n
		nodes = merged
		if n == 0 {
			break
		}
	}

	for _, s := range nodes {
		out, skip := finalize(s, doc)
		if skip != nil {
			res.Skips = append(res.Skips, *skip)
			continue
		}
		res.Spans = append(res.Spans, out)
	}
	return res
}

// closure runs one union-find pass and returns the component envelopes in
// order of their first member, plus the number of unions performed.
func (m *ClusterMerger) closure(nodes []model.Span) ([]model.Span, int) {
	uf := newUnionFind(len(nodes))
	unions := 0
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if !m.opts.compatible(nodes[i], nodes[j]) {
				continue
			}
			if geometry.IoU(interval(nodes[i]), interval(nodes[j])) < m.opts.IoUThreshold {
				continue
			}
			if uf.union(i, j) {
				unions++
			}
		}
	}
	if unions == 0 {
		return nodes, 0
	}

	index := make(map[int]int)
	var out []model.Span
	for i, s := range nodes {
		root := uf.find(i)
		k, ok := index[root]
		if !ok {
			index[root] = len(out)
			out = append(out, s)
			continue
		}
		env := geometry.Envelope(interval(out[k]), interval(s))
		out[k].Start, out[k].End = env.Start, env.End
		out[k].Provenance = m.opts.joinProvenance(out[k].Provenance, s.Provenance)
	}
	return out, unions
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union joins the sets of a and b and reports whether they were distinct.
func (u *unionFind) union(a, b int) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
	return true
}
