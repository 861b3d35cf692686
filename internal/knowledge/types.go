// Package knowledge manages the float_profiles vector store: document
// composition, embedding, similarity search, and reindexing.
package knowledge

import "time"

// Document is one indexed cycle summary.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Result is a Document annotated with its similarity to a query,
// where similarity = 1 - cosine distance, clamped to [0,1].
type Result struct {
	Document
	Similarity float64 `json:"similarity_score"`
}
