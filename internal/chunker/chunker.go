// Package chunker produces character-window chunk manifests over normalized
// documents. Token and sentence strategies are produced by external tools;
// this chunker exists so fixtures and baselines can be generated in-process.
package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qrels-cli/internal/corpus"
	"github.com/sells-group/qrels-cli/internal/model"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

// ErrInvalidWindow is returned when the window does not advance.
var ErrInvalidWindow = eris.New("chunker: window must be greater than overlap")

// Params sizes the window in code points. Overlap 0 yields contiguous blocks.
type Params struct {
	Window  int
	Overlap int
}

// Step is the distance between consecutive window starts.
func (p Params) Step() int {
	return p.Window - p.Overlap
}

// Validate rejects windows that would not advance.
func (p Params) Validate() error {
	if p.Window <= 0 || p.Overlap < 0 || p.Step() <= 0 {
		return eris.Wrapf(ErrInvalidWindow, "window %d overlap %d", p.Window, p.Overlap)
	}
	return nil
}

// Strategy names the manifest: CHARWIN500_OV50, or CHARBLOCK1000_NOV0 when
// there is no overlap.
func (p Params) Strategy() string {
	if p.Overlap == 0 {
		return fmt.Sprintf("CHARBLOCK%d_NOV0", p.Window)
	}
	return fmt.Sprintf("CHARWIN%d_OV%d", p.Window, p.Overlap)
}

func (p Params) chunkID(docID string, n int) string {
	return fmt.Sprintf("CHARWIN%dOV%d-%s-%04d", p.Window, p.Overlap, docID, n)
}

// Window slides a window over doc. Windows holding only whitespace are
// skipped; numbering counts emitted chunks only. The last window ends at the
// document end.
func Window(doc *textnorm.Document, p Params) ([]model.Chunk, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var (
		chunks []model.Chunk
		n      = doc.Len()
	)
	for start := 0; start < n; start += p.Step() {
		end := min(start+p.Window, n)
		text, err := doc.Slice(start, end)
		if err != nil {
			return nil, eris.Wrapf(err, "chunker: slice %s", doc.ID)
		}
		if textnorm.Trim(text) != "" {
			chunks = append(chunks, model.Chunk{
				DocumentID: doc.ID,
				ChunkID:    p.chunkID(doc.ID, len(chunks)),
				Start:      start,
				End:        end,
				Text:       text,
			})
		}
		if end >= n {
			break
		}
	}
	return chunks, nil
}

// Result is the outcome of chunking a set of documents.
type Result struct {
	Strategy string
	Chunks   []model.Chunk
	Skips    []model.Skip
	Path     string
}

// Run chunks every document in docIDs, in order. Unavailable documents are
// skipped.
func Run(ctx context.Context, docs *textnorm.Cache, docIDs []string, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Strategy: p.Strategy()}
	for _, id := range docIDs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "chunker: cancelled")
		}
		doc, err := docs.Get(ctx, id)
		if err != nil {
			res.Skips = append(res.Skips, model.Skip{Reason: model.SkipMissingDoc, DocumentID: id, Detail: err.Error()})
			continue
		}
		chunks, err := Window(doc, p)
		if err != nil {
			return res, err
		}
		zap.L().Debug("chunker: document chunked",
			zap.String("docid", id),
			zap.String("strategy", res.Strategy),
			zap.Int("chunks", len(chunks)),
		)
		res.Chunks = append(res.Chunks, chunks...)
	}

	zap.L().Info("chunker: strategy complete",
		zap.String("strategy", res.Strategy),
		zap.Int("documents", len(docIDs)),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int("skipped", len(res.Skips)),
	)
	return res, nil
}

// WriteManifest writes the result as chunks_<strategy>.jsonl in dir. Nothing
// is written when there are no chunks.
func (r *Result) WriteManifest(dir string) error {
	if len(r.Chunks) == 0 {
		zap.L().Info("chunker: no chunks generated", zap.String("strategy", r.Strategy))
		return nil
	}
	r.Path = corpus.ManifestPath(dir, r.Strategy)
	return corpus.WriteChunks(r.Path, r.Chunks)
}

// DocumentIDs lists the ids of the <docid>.json files in dir, sorted.
func DocumentIDs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, eris.Wrapf(err, "chunker: list documents in %s", dir)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
