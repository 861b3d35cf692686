package knowledge

import (
	"context"

	"github.com/floatchat/floatchat/internal/log"
)

// Searcher is the retrieval capability the pipeline depends on.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error)
}

// Retriever fetches reference context for a query. Retrieval failures are
// soft: they are logged and degrade to an empty result so the pipeline
// never aborts on a broken index.
type Retriever struct {
	store  Searcher
	topK   int
	logger log.Logger
}

// NewRetriever creates a Retriever returning up to topK documents.
func NewRetriever(store Searcher, topK int, logger log.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{store: store, topK: topK, logger: logger}
}

// Retrieve returns reference documents similar to query. Never fails:
// errors produce an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query string) []Result {
	results, err := r.store.Search(ctx, query, WithTopK(r.topK))
	if err != nil {
		r.logger.Warn("context retrieval failed, continuing without context",
			"error", err)
		return []Result{}
	}
	return results
}
