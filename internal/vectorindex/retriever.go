package vectorindex

import (
	"context"

	"github.com/tmc/langchaingo/schema"
)

type RetrieverOptions struct {
	K              int
	ScoreThreshold float64
	MaxPage        int
}

// Retriever exposes similarity-threshold search as a langchaingo retriever.
type Retriever struct {
	index *Index
	opts  RetrieverOptions
}

var _ schema.Retriever = Retriever{}

// Retriever returns a similarity-threshold retriever; defaults are k=8 and 0.3.
func (ix *Index) Retriever(opts RetrieverOptions) schema.Retriever {
	if opts.K <= 0 {
		opts.K = DefaultThresholdK
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = DefaultScoreThreshold
	}
	return Retriever{index: ix, opts: opts}
}

func (r Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	matches, err := r.index.search(ctx, query, SearchOptions{
		K:        r.opts.K,
		MinScore: r.opts.ScoreThreshold,
		MaxPage:  r.opts.MaxPage,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, len(matches))
	for i, m := range matches {
		docs[i] = schema.Document{
			PageContent: m.Content,
			Metadata:    m.Metadata,
			Score:       float32(m.Score),
		}
	}
	return docs, nil
}
