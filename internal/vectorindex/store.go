package vectorindex

import (
	"context"

	"pdf-qa/internal/models"
)

// Record is one stored chunk together with its embedding.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

func (r Record) Chunk() models.Chunk {
	return models.Chunk{Content: r.Content, Metadata: r.Metadata}
}

// Match is a search hit with its cosine similarity to the query.
type Match struct {
	Record
	Score float64
}

type SearchOptions struct {
	K int
	// MinScore drops matches with a lower cosine similarity; zero keeps all.
	MinScore float64
	// MaxPage keeps only chunks from pages 1..MaxPage; zero keeps all.
	MaxPage int
	// WithEmbeddings asks the store to return the stored vectors.
	WithEmbeddings bool
}

// Store holds exactly one live generation of records per collection.
type Store interface {
	// Replace builds a new generation from records, all of dimension dim,
	// and swaps it in for the live one. On error the live generation is kept.
	Replace(ctx context.Context, records []Record, dim int) error
	// Search returns the nearest records, best first.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)
	// Dimension reports the live generation's vector size, or 0 when empty.
	Dimension(ctx context.Context) (int, error)
	Close() error
}
