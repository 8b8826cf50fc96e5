package model

// Chunk is a candidate retrieval unit produced by an external chunking
// strategy. Offsets share the coordinate space of Span.
type Chunk struct {
	DocumentID string `json:"original_doc_id"`
	ChunkID    string `json:"chunk_id"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
}

// Degenerate reports whether the chunk has non-positive length.
func (c Chunk) Degenerate() bool {
	return c.Start >= c.End
}

// RelevancePair marks a chunk as relevant for a question within one chunking
// strategy.
type RelevancePair struct {
	QuestionID string `json:"qid"`
	ChunkID    string `json:"chunk_id"`
}

// Less orders pairs lexicographically by question then chunk.
func (p RelevancePair) Less(o RelevancePair) bool {
	if p.QuestionID != o.QuestionID {
		return p.QuestionID < o.QuestionID
	}
	return p.ChunkID < o.ChunkID
}

// Qrel is one TREC relevance judgment line.
type Qrel struct {
	QuestionID string `json:"qid"`
	Iteration  string `json:"iteration"`
	ChunkID    string `json:"chunk_id"`
	Grade      int    `json:"grade"`
}
