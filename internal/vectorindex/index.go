package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

const (
	DefaultThresholdK     = 8
	DefaultScoreThreshold = 0.3
	defaultBatchSize      = 32
	minMMRFetch           = 20
	mmrLambda             = 0.5
)

// Progress is called once per embedded chunk with the running count.
type Progress = func(done, total int)

// Index embeds chunks into a Store and answers similarity queries.
type Index struct {
	store     Store
	embedder  embeddings.Embedder
	batchSize int
}

func New(store Store, embedder embeddings.Embedder) *Index {
	return &Index{store: store, embedder: embedder, batchSize: defaultBatchSize}
}

// Build replaces the live generation with the given chunks and returns how
// many were stored.
func (ix *Index) Build(ctx context.Context, chunks []models.Chunk, sourceLabel string, progress Progress) (int, error) {
	if len(chunks) == 0 {
		return 0, models.ErrEmptyInput
	}
	start := time.Now()
	fileName := filepath.Base(sourceLabel)

	records := make([]Record, len(chunks))
	for i, chunk := range chunks {
		id, err := helper.GenerateUUID()
		if err != nil {
			return 0, err
		}
		records[i] = Record{
			ID:       id,
			Content:  chunk.Content,
			Metadata: enrichMetadata(chunk, fileName),
		}
	}

	total := len(records)
	dim := 0
	for begin := 0; begin < total; begin += ix.batchSize {
		end := min(begin+ix.batchSize, total)
		texts := make([]string, 0, end-begin)
		for _, r := range records[begin:end] {
			texts = append(texts, r.Content)
		}
		vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("failed to embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
		}
		for i, vector := range vectors {
			if dim == 0 {
				dim = len(vector)
			}
			if len(vector) == 0 || len(vector) != dim {
				return 0, fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
					models.ErrDimensionMismatch, begin+i, len(vector), dim)
			}
			records[begin+i].Embedding = vector
			if progress != nil {
				progress(begin+i+1, total)
			}
		}
	}

	if err := ix.store.Replace(ctx, records, dim); err != nil {
		return 0, fmt.Errorf("failed to store embeddings: %w", err)
	}
	log.Info().
		Str("file", fileName).
		Int("chunks", total).
		Int("dimension", dim).
		Dur("took", time.Since(start)).
		Msg("Vector index built")
	return total, nil
}

// SimilaritySearch returns up to k chunks whose cosine similarity to the
// query is at least threshold.
func (ix *Index) SimilaritySearch(ctx context.Context, query string, k int, threshold float64) ([]Match, error) {
	return ix.search(ctx, query, SearchOptions{K: k, MinScore: threshold})
}

// MaxMarginalRelevance picks k chunks balancing relevance to the query
// against redundancy with the chunks already picked.
func (ix *Index) MaxMarginalRelevance(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec, err := ix.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	candidates, err := ix.store.Search(ctx, queryVec, SearchOptions{
		K:              max(minMMRFetch, 2*k),
		WithEmbeddings: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	picked := maxMarginalRelevance(queryVec, candidates, k, mmrLambda)
	chunks := make([]models.Chunk, len(picked))
	for i, m := range picked {
		chunks[i] = m.Chunk()
	}
	return chunks, nil
}

func (ix *Index) search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	if opts.K <= 0 {
		opts.K = DefaultThresholdK
	}
	queryVec, err := ix.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := ix.store.Search(ctx, queryVec, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}
	return matches, nil
}

func (ix *Index) queryVector(ctx context.Context, query string) ([]float32, error) {
	dim, err := ix.store.Dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector store: %w", err)
	}
	if dim == 0 {
		return nil, models.ErrEmptyStore
	}
	vector, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d, re-ingest the document",
			models.ErrDimensionMismatch, len(vector), dim)
	}
	return vector, nil
}

func (ix *Index) Close() error {
	return ix.store.Close()
}

// enrichMetadata copies the chunk metadata, records the source file name and
// flattens values the stores cannot hold.
func enrichMetadata(chunk models.Chunk, fileName string) map[string]any {
	meta := chunk.CloneMetadata()
	meta[models.MetaFileName] = fileName
	if _, ok := meta[models.MetaPageNumber]; !ok {
		if page, ok := meta[models.MetaPage]; ok {
			meta[models.MetaPageNumber] = page
		}
	}
	delete(meta, models.MetaPage)
	for k, v := range meta {
		meta[k] = scalar(v)
	}
	return meta
}

func scalar(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
