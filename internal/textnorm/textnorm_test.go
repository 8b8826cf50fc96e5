package textnorm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Alice met the cat.", "Alice met the cat."},
		{"curly quotes", "‘Curiouser’ said “Alice”", "'Curiouser' said \"Alice\""},
		{"dashes", "well—perhaps–not", "well-perhaps-not"},
		{"whitespace runs", "  Alice\n\n met\t the   cat.  ", "Alice met the cat."},
		{"non-breaking space", "Alice\u00a0\u00a0met", "Alice met"},
		{"only whitespace", " \n\t ", ""},
		{"empty", "", ""},
		{"unicode kept", "café  naïve", "café naïve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	in := " “Off with\n her head!”  — the Queen "
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}

func TestDocument_SliceByCodePoint(t *testing.T) {
	t.Parallel()

	d := NewDocument("d1", "café au lait")
	assert.Equal(t, 12, d.Len())

	s, err := d.Slice(0, 4)
	require.NoError(t, err)
	assert.Equal(t, "café", s)

	s, err = d.TrimmedSlice(4, 8)
	require.NoError(t, err)
	assert.Equal(t, "au", s)

	_, err = d.Slice(5, 13)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	_, err = d.Slice(-1, 2)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestDirLoader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice:ch1.json"),
		[]byte(`{"docid":"alice:ch1","text":"Alice  met\nthe cat."}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.json"),
		[]byte(`{"docid":"empty","text":""}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0o644))

	l := DirLoader{Dir: dir}
	ctx := context.Background()

	text, err := l.Load(ctx, "alice:ch1")
	require.NoError(t, err)
	assert.Equal(t, "Alice  met\nthe cat.", text)

	_, err = l.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))

	_, err = l.Load(ctx, "empty")
	assert.True(t, errors.Is(err, ErrEmptyDocument))

	_, err = l.Load(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestCache_LoadsOnce(t *testing.T) {
	t.Parallel()

	c := NewCache(MapLoader{"d1": "Alice  met the cat.", "blank": "   "})
	ctx := context.Background()

	d, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Alice met the cat.", d.Text)

	again, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Same(t, d, again)
	assert.Equal(t, 1, c.Loads())

	_, err = c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
	_, err = c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
	assert.Equal(t, 2, c.Loads(), "failed loads are remembered")

	_, err = c.Get(ctx, "blank")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
}

func TestCache_Reset(t *testing.T) {
	t.Parallel()

	loader := MapLoader{"d1": "Alice  met the cat."}
	c := NewCache(loader)

	_, err := c.Get(context.Background(), "d1")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 2, c.Loads())

	c.Reset()
	assert.Zero(t, c.Loads())

	// Entries and remembered failures are both dropped.
	loader["missing"] = "now present"
	d, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "now present", d.Text)
	_, err = c.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Loads())
}
