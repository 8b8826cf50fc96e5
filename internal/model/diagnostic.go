package model

// SkipReason classifies a record that was dropped instead of processed.
type SkipReason string

const (
	SkipDegenerate     SkipReason = "degenerate_interval"
	SkipOutOfRange     SkipReason = "offsets_out_of_range"
	SkipMissingField   SkipReason = "missing_field"
	SkipUnparsable     SkipReason = "unparsable_record"
	SkipEmptyText      SkipReason = "empty_text"
	SkipMissingDoc     SkipReason = "missing_document"
	SkipUnknownLogic   SkipReason = "unknown_logic"
	SkipNoChunks       SkipReason = "no_chunks_for_document"
	SkipNoSpans        SkipReason = "no_spans_for_document"
	SkipEmptyStrategy  SkipReason = "empty_strategy"
	SkipMissingSource  SkipReason = "missing_source"
	SkipUnmergedGroup  SkipReason = "group_passed_through"
	SkipInvalidChunker SkipReason = "invalid_chunker_params"
)

// Skip records a single input record that was not processed and why.
type Skip struct {
	Reason     SkipReason `json:"reason"`
	Source     string     `json:"source,omitempty"`
	Line       int        `json:"line,omitempty"`
	QuestionID string     `json:"qid,omitempty"`
	DocumentID string     `json:"docid,omitempty"`
	ChunkID    string     `json:"chunk_id,omitempty"`
	Start      int        `json:"start,omitempty"`
	End        int        `json:"end,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// CountSkips tallies skips by reason.
func CountSkips(skips []Skip) map[SkipReason]int {
	counts := make(map[SkipReason]int)
	for _, s := range skips {
		counts[s.Reason]++
	}
	return counts
}

// Conflict is a pair of spans whose offsets overlap at or above the merge
// threshold but whose logic or group tags disagree.
type Conflict struct {
	Active  Span    `json:"active"`
	Current Span    `json:"current"`
	IoU     float64 `json:"iou"`
}
