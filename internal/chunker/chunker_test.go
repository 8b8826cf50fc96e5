package chunker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

func TestWindow_Overlapping(t *testing.T) {
	t.Parallel()

	got, err := Window(textnorm.FromNormalized("d", "abcdefghij"), Params{Window: 4, Overlap: 1})
	require.NoError(t, err)
	assert.Equal(t, []model.Chunk{
		{DocumentID: "d", ChunkID: "CHARWIN4OV1-d-0000", Start: 0, End: 4, Text: "abcd"},
		{DocumentID: "d", ChunkID: "CHARWIN4OV1-d-0001", Start: 3, End: 7, Text: "defg"},
		{DocumentID: "d", ChunkID: "CHARWIN4OV1-d-0002", Start: 6, End: 10, Text: "ghij"},
	}, got)
}

func TestWindow_Blocks(t *testing.T) {
	t.Parallel()

	p := Params{Window: 4}
	got, err := Window(textnorm.FromNormalized("d", "abcdefghij"), p)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ij", got[2].Text)
	assert.Equal(t, 8, got[2].Start)
	assert.Equal(t, 10, got[2].End)
	assert.Equal(t, "CHARBLOCK4_NOV0", p.Strategy())
	assert.Equal(t, "CHARWIN500_OV50", Params{Window: 500, Overlap: 50}.Strategy())
}

func TestWindow_SkipsWhitespaceAndKeepsNumbering(t *testing.T) {
	t.Parallel()

	got, err := Window(textnorm.FromNormalized("d", "a b"), Params{Window: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CHARWIN1OV0-d-0001", got[1].ChunkID)
	assert.Equal(t, 2, got[1].Start)
	assert.Equal(t, "b", got[1].Text)
}

func TestWindow_CodePointOffsets(t *testing.T) {
	t.Parallel()

	doc := textnorm.NewDocument("d", "héllo wörld")
	got, err := Window(doc, Params{Window: 5})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "héllo", got[0].Text)
	assert.Equal(t, " wörl", got[1].Text)
	assert.Equal(t, 11, got[2].End)
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"window", Params{Window: 10, Overlap: 2}, true},
		{"block", Params{Window: 10}, true},
		{"overlap equals window", Params{Window: 4, Overlap: 4}, false},
		{"overlap exceeds window", Params{Window: 4, Overlap: 5}, false},
		{"zero window", Params{}, false},
		{"negative overlap", Params{Window: 4, Overlap: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidWindow))
		})
	}

	_, err := Window(textnorm.FromNormalized("d", "abc"), Params{Window: 2, Overlap: 2})
	assert.Error(t, err)
}

func TestRun_WritesLoadableManifest(t *testing.T) {
	t.Parallel()

	docs := textnorm.NewCache(textnorm.MapLoader{
		"d1": "The quick brown fox.",
		"d2": "Jumps over\n\nthe dog.",
	})
	p := Params{Window: 8, Overlap: 2}

	res, err := Run(context.Background(), docs, []string{"d1", "d2", "missing"}, p)
	require.NoError(t, err)
	assert.Equal(t, "CHARWIN8_OV2", res.Strategy)
	require.Len(t, res.Skips, 1)
	assert.Equal(t, model.SkipMissingDoc, res.Skips[0].Reason)
	assert.Equal(t, "missing", res.Skips[0].DocumentID)

	dir := t.TempDir()
	require.NoError(t, res.WriteManifest(dir))
	assert.Equal(t, filepath.Join(dir, "chunks_CHARWIN8_OV2.jsonl"), res.Path)

	cs, skips, err := corpus.LoadChunks(context.Background(), res.Path)
	require.NoError(t, err)
	assert.Empty(t, skips)
	assert.Equal(t, len(res.Chunks), cs.Count)
	assert.Equal(t, []string{"d1", "d2"}, cs.Documents())

	d2, err := docs.Get(context.Background(), "d2")
	require.NoError(t, err)
	for _, c := range cs.ByDoc["d2"] {
		want, err := d2.Slice(c.Start, c.End)
		require.NoError(t, err)
		assert.Equal(t, want, c.Text)
	}
}

func TestRun_NoChunksWritesNothing(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), textnorm.NewCache(textnorm.MapLoader{}), []string{"x"}, Params{Window: 8})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, res.WriteManifest(dir))
	assert.Empty(t, res.Path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, textnorm.NewCache(textnorm.MapLoader{"d": "abc"}), []string{"d"}, Params{Window: 2})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDocumentIDs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"alice:ch2.json", "alice:ch1.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0o644))
	}
	ids, err := DocumentIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice:ch1", "alice:ch2"}, ids)
}
