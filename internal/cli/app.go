package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"pdf-qa/internal/agent"
	"pdf-qa/internal/chromemdb"
	"pdf-qa/internal/config"
	"pdf-qa/internal/db"
	"pdf-qa/internal/embedding"
	"pdf-qa/internal/helper"
	"pdf-qa/internal/llmservice"
	"pdf-qa/internal/parser"
	"pdf-qa/internal/rerank"
	"pdf-qa/internal/vectorindex"
)

// app holds the wired agent and the resources it owns.
type app struct {
	agent *agent.Agent
	index *vectorindex.Index
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	model, err := llmservice.NewModel(ctx, &cfg.LLM)
	if err != nil {
		return nil, err
	}
	client := llmservice.NewClient(model, cfg)

	embedder, err := embedding.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	index := vectorindex.New(store, embedder)

	ocr, err := parser.NewOCR(cfg, client)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	loader := parser.NewLoader(cfg, ocr)

	ag := agent.New(loader, index, rerank.New(client), client, agent.Options{
		TopK:             cfg.RAG.TopK,
		ThresholdK:       cfg.RAG.ThresholdK,
		ScoreThreshold:   cfg.RAG.ScoreThreshold,
		FrontMatterPages: cfg.RAG.FrontMatterPages,
	})
	log.Info().Str("embedder", embedder.Kind()).Str("llm", cfg.LLM.Model).Str("store", cfg.Database.Backend).Msg("Agent ready")
	return &app{agent: ag, index: index}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (vectorindex.Store, error) {
	switch cfg.Database.Backend {
	case config.StoreChromem:
		if cfg.Database.ChromemPath != "" {
			if err := helper.CreateFolder(cfg.Database.ChromemPath); err != nil {
				return nil, err
			}
		}
		return chromemdb.NewStore(cfg.Database.ChromemPath, cfg.Database.Collection, cfg.Database.Compress)
	case config.StorePostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		store, err := db.NewStore(ctx, bunDB, cfg.Database.Collection, cfg.Database.EnsureIndex, cfg.Timeouts.Database)
		if err != nil {
			_ = bunDB.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported vector store %q", cfg.Database.Backend)
	}
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close vector store")
	}
}
