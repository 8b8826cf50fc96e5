package model

import (
	"strings"
)

// Logic describes how multiple spans for the same question combine.
type Logic string

const (
	LogicCompleteSpan Logic = "COMPLETE_SPAN"
	LogicAnd          Logic = "AND"
	LogicOr           Logic = "OR"
)

// Logics lists every known logic tag in report order.
var Logics = []Logic{LogicCompleteSpan, LogicAnd, LogicOr}

// Valid reports whether l is one of the known logic tags.
func (l Logic) Valid() bool {
	switch l {
	case LogicCompleteSpan, LogicAnd, LogicOr:
		return true
	}
	return false
}

// Span is a judged answer region anchored to character offsets in the
// normalized text of one document. Offsets count Unicode code points and
// form the half-open interval [Start, End).
type Span struct {
	QuestionID string `json:"qid"`
	DocumentID string `json:"docid"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	Logic      Logic  `json:"logic"`
	Group      string `json:"group,omitempty"`
	Provenance string `json:"sme_id,omitempty"`
}

// Key returns the (question, document) grouping key of the span.
func (s Span) Key() GroupKey {
	return GroupKey{QuestionID: s.QuestionID, DocumentID: s.DocumentID}
}

// Degenerate reports whether the span has non-positive length.
func (s Span) Degenerate() bool {
	return s.Start >= s.End
}

// GroupOr returns the span's group, or def when the group is absent.
func (s Span) GroupOr(def string) string {
	if s.Group == "" {
		return def
	}
	return s.Group
}

// Sources splits a concatenated provenance into its contributing annotators.
func (s Span) Sources(sep string) []string {
	if s.Provenance == "" {
		return nil
	}
	if sep == "" {
		return []string{s.Provenance}
	}
	return strings.Split(s.Provenance, sep)
}

// GroupKey identifies the (question, document) pair a span belongs to.
type GroupKey struct {
	QuestionID string
	DocumentID string
}

// Less orders group keys by question then document.
func (k GroupKey) Less(o GroupKey) bool {
	if k.QuestionID != o.QuestionID {
		return k.QuestionID < o.QuestionID
	}
	return k.DocumentID < o.DocumentID
}
