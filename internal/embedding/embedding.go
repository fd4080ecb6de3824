package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-qa/internal/config"
	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

const defaultBatchSize = 32

// Provider turns text into vectors with the backend chosen at start-up.
// It implements embeddings.Embedder.
type Provider struct {
	kind      string
	model     string
	batchSize int
	impl      embeddings.Embedder
	policy    helper.CallPolicy

	cacheMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

var _ embeddings.Embedder = (*Provider)(nil)

// New resolves the embedding backend from the config.
func New(ctx context.Context, cfg *config.Config) (*Provider, error) {
	impl, err := buildEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		return nil, err
	}
	return Wrap(cfg, impl)
}

// Wrap builds a provider around an existing langchaingo embedder.
func Wrap(cfg *config.Config, impl embeddings.Embedder) (*Provider, error) {
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", cfg.Embedding.Provider)
	}
	p := &Provider{
		kind:      cfg.Embedding.Provider,
		model:     modelName(&cfg.Embedding),
		batchSize: cfg.Embedding.BatchSize,
		impl:      impl,
		policy: helper.CallPolicy{
			Name:      "embedding",
			Timeout:   cfg.Timeouts.Embedding,
			Retries:   cfg.Retries.Max,
			BaseDelay: cfg.Retries.BaseDelay,
		},
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if cfg.Embedding.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.Embedding.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedder %q: init cache: %w", p.kind, err)
		}
		p.cache = cache
	}
	log.Info().Str("provider", p.kind).Str("model", p.model).Int("cache_size", cfg.Embedding.CacheSize).Msg("Embedding provider ready")
	return p, nil
}

func (p *Provider) Kind() string {
	return p.kind
}

// EmbedDocuments embeds texts batch by batch; every batch is retried on its own.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if vector, ok := p.lookupCache(text); ok {
			results[i] = vector
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += p.batchSize {
		end := min(start+p.batchSize, len(missing))
		batch := make([]string, 0, end-start)
		for _, idx := range missing[start:end] {
			batch = append(batch, texts[idx])
		}

		var vectors [][]float32
		err := helper.Call(ctx, p.policy, func(ctx context.Context) error {
			var err error
			vectors, err = p.impl.EmbedDocuments(ctx, batch)
			return err
		})
		if err != nil {
			return nil, p.withContext(err)
		}
		if len(vectors) != len(batch) {
			return nil, p.withContext(fmt.Errorf("received %d embeddings for %d texts", len(vectors), len(batch)))
		}
		for i, idx := range missing[start:end] {
			results[idx] = vectors[i]
			p.storeCache(texts[idx], vectors[i])
		}
	}
	return results, nil
}

func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := p.lookupCache(text); ok {
		return vector, nil
	}
	var vector []float32
	err := helper.Call(ctx, p.policy, func(ctx context.Context) error {
		var err error
		vector, err = p.impl.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, p.withContext(err)
	}
	if len(vector) == 0 {
		return nil, p.withContext(errors.New("empty embedding returned"))
	}
	p.storeCache(text, vector)
	return vector, nil
}

func (p *Provider) lookupCache(text string) ([]float32, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if p.cache == nil {
		return nil, false
	}
	value, ok := p.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (p *Provider) storeCache(text string, vector []float32) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if p.cache == nil || len(vector) == 0 {
		return
	}
	p.cache.Add(cacheKey(text), cloneVector(vector))
}

func (p *Provider) withContext(err error) error {
	return fmt.Errorf("embedder %q: %w", p.kind, err)
}

func buildEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embeddings.Embedder, error) {
	opts := []embeddings.Option{embeddings.WithBatchSize(max(cfg.BatchSize, 1))}

	switch cfg.Provider {
	case config.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: embedder %q: missing API key", models.ErrConfig, cfg.Provider)
		}
		client, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultEmbeddingModel(modelName(cfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("embedder %q: failed to initialize googleai client: %w", cfg.Provider, err)
		}
		return embeddings.NewEmbedder(client, opts...)
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: embedder %q: missing API key", models.ErrConfig, cfg.Provider)
		}
		openaiOpts := []openai.Option{
			openai.WithEmbeddingModel(modelName(cfg)),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		}
		if cfg.BaseURL != "" {
			openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(openaiOpts...)
		if err != nil {
			return nil, fmt.Errorf("embedder %q: failed to initialize openai client: %w", cfg.Provider, err)
		}
		return embeddings.NewEmbedder(client, opts...)
	case config.ProviderOllama:
		if cfg.Model == "" {
			return nil, fmt.Errorf("%w: embedder %q: missing model", models.ErrConfig, cfg.Provider)
		}
		ollamaOpts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			ollamaOpts = append(ollamaOpts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err := ollama.New(ollamaOpts...)
		if err != nil {
			return nil, fmt.Errorf("embedder %q: failed to initialize ollama client: %w", cfg.Provider, err)
		}
		return embeddings.NewEmbedder(client, opts...)
	case config.ProviderLocal:
		if cfg.LocalModel == "" {
			return nil, fmt.Errorf("%w: embedder %q: missing local model", models.ErrConfig, cfg.Provider)
		}
		localOpts := []cybertron.Option{cybertron.WithModel(cfg.LocalModel)}
		if cfg.ModelsDir != "" {
			localOpts = append(localOpts, cybertron.WithModelsDir(cfg.ModelsDir))
		}
		client, err := cybertron.NewCybertron(localOpts...)
		if err != nil {
			return nil, fmt.Errorf("embedder %q: failed to initialize local embedder: %w", cfg.Provider, err)
		}
		return embeddings.NewEmbedder(client, opts...)
	default:
		return nil, fmt.Errorf("%w: embedder %q: provider is not supported", models.ErrConfig, cfg.Provider)
	}
}

func modelName(cfg *config.EmbeddingConfig) string {
	if cfg.Provider == config.ProviderLocal {
		return cfg.LocalModel
	}
	return cfg.Model
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
