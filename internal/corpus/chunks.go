package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/fetcher"
	"github.com/sells-group/qrels-cli/internal/model"
)

// ErrNoChunks is returned when a manifest holds no usable chunk.
var ErrNoChunks = eris.New("corpus: no chunks in manifest")

const manifestPrefix = "chunks_"

// ChunkSet is one chunking strategy's chunks, grouped by document.
type ChunkSet struct {
	Strategy string
	Path     string
	ByDoc    map[string][]model.Chunk
	Count    int
}

// Documents returns the ids of documents with at least one chunk, sorted.
func (cs *ChunkSet) Documents() []string {
	ids := make([]string, 0, len(cs.ByDoc))
	for id := range cs.ByDoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the chunk with the given id, if present.
func (cs *ChunkSet) Lookup(chunkID string) (model.Chunk, bool) {
	for _, chunks := range cs.ByDoc {
		for _, c := range chunks {
			if c.ChunkID == chunkID {
				return c, true
			}
		}
	}
	return model.Chunk{}, false
}

// IDs returns the set of chunk ids in the strategy.
func (cs *ChunkSet) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, cs.Count)
	for _, chunks := range cs.ByDoc {
		for _, c := range chunks {
			ids[c.ChunkID] = struct{}{}
		}
	}
	return ids
}

// StrategyName derives the strategy from a manifest path:
// "chunks_SENT.jsonl" is strategy "SENT".
func StrategyName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimPrefix(stem, manifestPrefix)
}

// ManifestPath returns the manifest file for strategy inside dir.
func ManifestPath(dir, strategy string) string {
	return filepath.Join(dir, manifestPrefix+strategy+".jsonl")
}

// ListManifests returns every *.jsonl file in dir, sorted by name.
func ListManifests(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: list manifests in %s", dir)
	}
	sort.Strings(matches)
	return matches, nil
}

type chunkRecord struct {
	DocumentID *string `json:"original_doc_id"`
	ChunkID    *string `json:"chunk_id"`
	Start      *int    `json:"start"`
	End        *int    `json:"end"`
	Text       string  `json:"text"`
}

func (r chunkRecord) missing() string {
	switch {
	case r.DocumentID == nil || *r.DocumentID == "":
		return "original_doc_id"
	case r.ChunkID == nil || *r.ChunkID == "":
		return "chunk_id"
	case r.Start == nil:
		return "start"
	case r.End == nil:
		return "end"
	}
	return ""
}

// LoadChunks reads a JSONL chunk manifest. Unparsable, incomplete and
// degenerate lines are skipped. Chunks keep manifest order within a document.
// ErrNoChunks is returned alongside the skips when nothing usable remains.
func LoadChunks(ctx context.Context, path string) (*ChunkSet, []model.Skip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "corpus: open manifest %s", path)
	}
	defer f.Close() //nolint:errcheck

	cs := &ChunkSet{
		Strategy: StrategyName(path),
		Path:     path,
		ByDoc:    make(map[string][]model.Chunk),
	}

	ok, bad, err := fetcher.Collect(fetcher.StreamJSONL[chunkRecord](ctx, bufio.NewReader(f)))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "corpus: read manifest %s", path)
	}

	var skips []model.Skip
	for _, rec := range bad {
		skips = append(skips, model.Skip{Reason: model.SkipUnparsable, Source: path, Line: rec.Index, Detail: rec.Err.Error()})
	}

	for _, rec := range ok {
		r := rec.Value
		if field := r.missing(); field != "" {
			skips = append(skips, model.Skip{Reason: model.SkipMissingField, Source: path, Line: rec.Index, Detail: field})
			continue
		}
		c := model.Chunk{DocumentID: *r.DocumentID, ChunkID: *r.ChunkID, Start: *r.Start, End: *r.End, Text: r.Text}
		if c.Degenerate() || c.Start < 0 {
			skips = append(skips, model.Skip{
				Reason:     model.SkipDegenerate,
				Source:     path,
				Line:       rec.Index,
				DocumentID: c.DocumentID,
				ChunkID:    c.ChunkID,
				Start:      c.Start,
				End:        c.End,
			})
			continue
		}
		cs.ByDoc[c.DocumentID] = append(cs.ByDoc[c.DocumentID], c)
		cs.Count++
	}

	if len(skips) > 0 {
		zap.L().Warn("corpus: skipped manifest lines",
			zap.String("strategy", cs.Strategy),
			zap.Int("skipped", len(skips)),
		)
	}
	if cs.Count == 0 {
		return cs, skips, eris.Wrapf(ErrNoChunks, "%s", path)
	}
	return cs, skips, nil
}

// WriteChunks writes chunks as a JSONL manifest.
func WriteChunks(path string, chunks []model.Chunk) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "corpus: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "corpus: create %s", path)
	}
	defer closeInto(&err, f, path)

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return eris.Wrapf(err, "corpus: encode chunk %s", c.ChunkID)
		}
	}
	return eris.Wrapf(w.Flush(), "corpus: flush %s", path)
}
