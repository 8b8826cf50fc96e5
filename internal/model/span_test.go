package model

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogic_Valid(t *testing.T) {
	t.Parallel()

	for _, l := range Logics {
		assert.True(t, l.Valid(), string(l))
	}
	assert.False(t, Logic("XOR").Valid())
	assert.False(t, Logic("").Valid())
}

func TestSpan_GroupOr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "g1", Span{}.GroupOr("g1"))
	assert.Equal(t, "g2", Span{Group: "g2"}.GroupOr("g1"))
}

func TestSpan_Sources(t *testing.T) {
	t.Parallel()

	s := Span{Provenance: "SME1+SME2+SME1"}
	assert.Equal(t, []string{"SME1", "SME2", "SME1"}, s.Sources("+"))
	assert.Nil(t, Span{}.Sources("+"))
	assert.Equal(t, []string{"a+b"}, Span{Provenance: "a+b"}.Sources(""))
}

func TestSpan_Degenerate(t *testing.T) {
	t.Parallel()

	assert.True(t, Span{Start: 4, End: 4}.Degenerate())
	assert.True(t, Span{Start: 5, End: 4}.Degenerate())
	assert.False(t, Span{Start: 4, End: 5}.Degenerate())
	assert.True(t, Chunk{Start: 9, End: 2}.Degenerate())
}

func TestSpan_JSONWireNames(t *testing.T) {
	t.Parallel()

	raw := `{"qid":"q1","docid":"alice:ch1","start":0,"end":18,"text":"Alice met the cat.","logic":"AND","group":"g2","sme_id":"SME1"}`
	var s Span
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	assert.Equal(t, "q1", s.QuestionID)
	assert.Equal(t, "alice:ch1", s.DocumentID)
	assert.Equal(t, LogicAnd, s.Logic)
	assert.Equal(t, "SME1", s.Provenance)
	assert.Equal(t, GroupKey{QuestionID: "q1", DocumentID: "alice:ch1"}, s.Key())

	var c Chunk
	require.NoError(t, json.Unmarshal([]byte(`{"original_doc_id":"d","chunk_id":"SENT-d-0000","start":1,"end":3,"text":"ab"}`), &c))
	assert.Equal(t, "d", c.DocumentID)
	assert.Equal(t, "SENT-d-0000", c.ChunkID)
}

func TestRelevancePair_Less(t *testing.T) {
	t.Parallel()

	pairs := []RelevancePair{
		{QuestionID: "q2", ChunkID: "a"},
		{QuestionID: "q1", ChunkID: "b"},
		{QuestionID: "q1", ChunkID: "a"},
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
	assert.Equal(t, []RelevancePair{
		{QuestionID: "q1", ChunkID: "a"},
		{QuestionID: "q1", ChunkID: "b"},
		{QuestionID: "q2", ChunkID: "a"},
	}, pairs)
}

func TestCountSkips(t *testing.T) {
	t.Parallel()

	counts := CountSkips([]Skip{
		{Reason: SkipDegenerate},
		{Reason: SkipDegenerate},
		{Reason: SkipMissingDoc},
	})
	assert.Equal(t, 2, counts[SkipDegenerate])
	assert.Equal(t, 1, counts[SkipMissingDoc])
	assert.Zero(t, counts[SkipUnparsable])
}
