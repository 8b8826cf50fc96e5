package textnorm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrDocumentNotFound is returned when no source exists for a document id.
	ErrDocumentNotFound = eris.New("textnorm: document not found")
	// ErrEmptyDocument is returned when a document has no text.
	ErrEmptyDocument = eris.New("textnorm: document text is empty")
	// ErrOutOfRange is returned when offsets fall outside the normalized text.
	ErrOutOfRange = eris.New("textnorm: offsets out of range")
)

// Document is the normalized text of one source document. Offsets index the
// text by Unicode code point.
type Document struct {
	ID    string
	Text  string
	runes []rune
}

// NewDocument normalizes raw text into a Document.
func NewDocument(id, raw string) *Document {
	return FromNormalized(id, Normalize(raw))
}

// FromNormalized wraps text that is already normalized.
func FromNormalized(id, normalized string) *Document {
	return &Document{ID: id, Text: normalized, runes: []rune(normalized)}
}

// Len returns the length of the normalized text in code points.
func (d *Document) Len() int {
	return len(d.runes)
}

// Slice returns the normalized text in [start, end).
func (d *Document) Slice(start, end int) (string, error) {
	if start < 0 || end < start || end > len(d.runes) {
		return "", eris.Wrapf(ErrOutOfRange, "doc %s: [%d, %d) len %d", d.ID, start, end, len(d.runes))
	}
	return string(d.runes[start:end]), nil
}

// TrimmedSlice returns Slice(start, end) with surrounding whitespace removed.
func (d *Document) TrimmedSlice(start, end int) (string, error) {
	s, err := d.Slice(start, end)
	if err != nil {
		return "", err
	}
	return Trim(s), nil
}

// Loader fetches the raw (un-normalized) text of a document.
type Loader interface {
	Load(ctx context.Context, docID string) (string, error)
}

// DirLoader reads documents stored as <Dir>/<docid>.json files holding
// {"docid": ..., "text": ...}.
type DirLoader struct {
	Dir string
}

type documentFile struct {
	DocID string `json:"docid"`
	Text  string `json:"text"`
}

// Load implements Loader.
func (l DirLoader) Load(_ context.Context, docID string) (string, error) {
	path := filepath.Join(l.Dir, docID+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", eris.Wrapf(ErrDocumentNotFound, "%s", path)
	}
	if err != nil {
		return "", eris.Wrapf(err, "textnorm: read %s", path)
	}

	var doc documentFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", eris.Wrapf(err, "textnorm: decode %s", path)
	}
	if doc.Text == "" {
		return "", eris.Wrapf(ErrEmptyDocument, "%s", docID)
	}
	return doc.Text, nil
}

// MapLoader serves raw texts from memory.
type MapLoader map[string]string

// Load implements Loader.
func (m MapLoader) Load(_ context.Context, docID string) (string, error) {
	text, ok := m[docID]
	if !ok {
		return "", eris.Wrapf(ErrDocumentNotFound, "%s", docID)
	}
	if text == "" {
		return "", eris.Wrapf(ErrEmptyDocument, "%s", docID)
	}
	return text, nil
}

// Cache normalizes each document once and serves it to every stage of a run.
// Failed loads are remembered so a missing document is reported once. A Cache
// is safe for concurrent use.
type Cache struct {
	loader Loader

	mu     sync.Mutex
	docs   map[string]*Document
	failed map[string]error
	loads  int
}

// NewCache creates an empty cache backed by loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader: loader,
		docs:   make(map[string]*Document),
		failed: make(map[string]error),
	}
}

// Get returns the normalized document, loading it on first use.
func (c *Cache) Get(ctx context.Context, docID string) (*Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.docs[docID]; ok {
		return d, nil
	}
	if err, ok := c.failed[docID]; ok {
		return nil, err
	}

	c.loads++
	raw, err := c.loader.Load(ctx, docID)
	if err != nil {
		c.failed[docID] = err
		zap.L().Warn("textnorm: document unavailable", zap.String("docid", docID), zap.Error(err))
		return nil, err
	}

	d := NewDocument(docID, raw)
	if d.Len() == 0 {
		err := eris.Wrapf(ErrEmptyDocument, "%s after normalization", docID)
		c.failed[docID] = err
		return nil, err
	}
	c.docs[docID] = d
	return d, nil
}

// Loads returns how many times the loader was invoked.
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Reset drops every cached entry, ending the cache's lifetime for a run.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = make(map[string]*Document)
	c.failed = make(map[string]error)
	c.loads = 0
}
