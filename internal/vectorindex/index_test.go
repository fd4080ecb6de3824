package vectorindex_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-qa/internal/chromemdb"
	"pdf-qa/internal/models"
	"pdf-qa/internal/vectorindex"
)

var vocabulary = []string{"apple", "banana", "cherry", "durian"}

// keywordEmbedder counts vocabulary words; extra dimensions stay constant.
type keywordEmbedder struct {
	dim int
	err error
}

func (e keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	lower := strings.ToLower(text)
	for i, word := range vocabulary {
		if i < e.dim {
			v[i] = float32(strings.Count(lower, word))
		}
	}
	v[e.dim-1] += 0.1
	return v
}

func (e keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func chunk(content string, page int) models.Chunk {
	return models.Chunk{Content: content, Metadata: map[string]any{models.MetaPage: page}}
}

func sampleChunks() []models.Chunk {
	return []models.Chunk{
		chunk("apple apple pie recipe", 1),
		chunk("banana bread and banana split", 2),
		chunk("cherry tart", 3),
		chunk("durian is a divisive fruit", 20),
	}
}

func newStore(t *testing.T) *chromemdb.Store {
	t.Helper()
	store, err := chromemdb.NewStore("", models.DefaultCollection, false)
	require.NoError(t, err)
	return store
}

func TestIndexBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldEnrichMetadataAndReportProgress", func(t *testing.T) {
		ix := vectorindex.New(newStore(t), keywordEmbedder{dim: 5})
		var seen [][2]int
		n, err := ix.Build(ctx, sampleChunks(), "/tmp/uploads/fruit.pdf", func(done, total int) {
			seen = append(seen, [2]int{done, total})
		})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, [][2]int{{1, 4}, {2, 4}, {3, 4}, {4, 4}}, seen)

		matches, err := ix.SimilaritySearch(ctx, "banana", 1, 0.3)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "banana bread and banana split", matches[0].Content)
		assert.Equal(t, "fruit.pdf", matches[0].Metadata[models.MetaFileName])
		assert.Equal(t, 2, matches[0].Chunk().PageNumber())
		assert.NotContains(t, matches[0].Metadata, models.MetaPage)
	})

	t.Run("ShouldRejectEmptyInput", func(t *testing.T) {
		ix := vectorindex.New(newStore(t), keywordEmbedder{dim: 5})
		_, err := ix.Build(ctx, nil, "x.pdf", nil)
		assert.ErrorIs(t, err, models.ErrEmptyInput)
	})

	t.Run("ShouldFailQueriesBeforeAnyBuild", func(t *testing.T) {
		store := newStore(t)
		ix := vectorindex.New(store, keywordEmbedder{dim: 5})
		dim, err := store.Dimension(ctx)
		require.NoError(t, err)
		assert.Zero(t, dim)

		_, err = ix.SimilaritySearch(ctx, "apple", 3, 0.3)
		assert.ErrorIs(t, err, models.ErrEmptyStore)
		_, err = ix.MaxMarginalRelevance(ctx, "apple", 3)
		assert.ErrorIs(t, err, models.ErrEmptyStore)
	})

	t.Run("ShouldRebuildWhenDimensionChanges", func(t *testing.T) {
		store := newStore(t)
		_, err := vectorindex.New(store, keywordEmbedder{dim: 5}).Build(ctx, sampleChunks(), "a.pdf", nil)
		require.NoError(t, err)

		wide := vectorindex.New(store, keywordEmbedder{dim: 8})
		_, err = wide.Build(ctx, sampleChunks()[:2], "b.pdf", nil)
		require.NoError(t, err)

		dim, err := store.Dimension(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8, dim)

		all, err := store.Search(ctx, keywordEmbedder{dim: 8}.vector("apple"), vectorindex.SearchOptions{K: 10, WithEmbeddings: true})
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, m := range all {
			assert.Len(t, m.Embedding, 8)
			assert.Equal(t, "b.pdf", m.Metadata[models.MetaFileName])
		}

		_, err = vectorindex.New(store, keywordEmbedder{dim: 5}).SimilaritySearch(ctx, "apple", 3, 0.3)
		assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	})

	t.Run("ShouldKeepPreviousGenerationOnFailure", func(t *testing.T) {
		store := newStore(t)
		_, err := vectorindex.New(store, keywordEmbedder{dim: 5}).Build(ctx, sampleChunks(), "a.pdf", nil)
		require.NoError(t, err)

		boom := errors.New("quota exceeded")
		_, err = vectorindex.New(store, keywordEmbedder{dim: 5, err: boom}).Build(ctx, sampleChunks(), "b.pdf", nil)
		require.ErrorIs(t, err, boom)

		matches, err := vectorindex.New(store, keywordEmbedder{dim: 5}).SimilaritySearch(ctx, "cherry", 1, 0.3)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a.pdf", matches[0].Metadata[models.MetaFileName])
	})
}

func TestIndexSearch(t *testing.T) {
	ctx := context.Background()
	ix := vectorindex.New(newStore(t), keywordEmbedder{dim: 5})
	_, err := ix.Build(ctx, sampleChunks(), "fruit.pdf", nil)
	require.NoError(t, err)

	t.Run("ShouldDropMatchesBelowThreshold", func(t *testing.T) {
		matches, err := ix.SimilaritySearch(ctx, "cherry", 8, 0.3)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "cherry tart", matches[0].Content)
		assert.Greater(t, matches[0].Score, 0.9)
	})

	t.Run("ShouldReturnDiverseResultsWithMMR", func(t *testing.T) {
		chunks, err := ix.MaxMarginalRelevance(ctx, "apple and banana", 2)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		contents := []string{chunks[0].Content, chunks[1].Content}
		assert.ElementsMatch(t, []string{"apple apple pie recipe", "banana bread and banana split"}, contents)
	})

	t.Run("ShouldCapPagesInRetriever", func(t *testing.T) {
		docs, err := ix.Retriever(vectorindex.RetrieverOptions{K: 8, ScoreThreshold: 0.3, MaxPage: 15}).
			GetRelevantDocuments(ctx, "durian")
		require.NoError(t, err)
		assert.Empty(t, docs)

		docs, err = ix.Retriever(vectorindex.RetrieverOptions{}).GetRelevantDocuments(ctx, "durian")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "durian is a divisive fruit", docs[0].PageContent)
	})
}
