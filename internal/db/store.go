package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"pdf-qa/internal/models"
	"pdf-qa/internal/vectorindex"
)

const insertBatchSize = 500

// Store keeps the live generation in the table named after the collection.
// A rebuild fills "<collection>_staging" and renames it into place in one
// transaction.
type Store struct {
	db          *bun.DB
	table       string
	ensureIndex bool
	timeout     time.Duration
}

var _ vectorindex.Store = (*Store)(nil)

func NewStore(ctx context.Context, db *bun.DB, collection string, ensureIndex bool, timeout time.Duration) (*Store, error) {
	s := &Store{db: db, table: collection, ensureIndex: ensureIndex, timeout: timeout}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	return s, nil
}

func (s *Store) stagingTable() string {
	return s.table + "_staging"
}

func (s *Store) Replace(ctx context.Context, records []vectorindex.Record, dim int) error {
	if len(records) == 0 {
		return models.ErrEmptyInput
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	staging := s.stagingTable()
	if err := s.createTable(ctx, staging, dim); err != nil {
		return err
	}

	docs := make([]Document, 0, insertBatchSize)
	flush := func() error {
		if len(docs) == 0 {
			return nil
		}
		_, err := s.db.NewInsert().Model(&docs).ModelTableExpr("?", bun.Ident(staging)).Exec(ctx)
		docs = docs[:0]
		return err
	}
	for i, r := range records {
		if len(r.Embedding) != dim {
			s.dropTable(ctx, staging)
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				models.ErrDimensionMismatch, i, len(r.Embedding), dim)
		}
		docs = append(docs, Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Embedding: pgvector.NewVector(r.Embedding),
		})
		if len(docs) == insertBatchSize {
			if err := flush(); err != nil {
				s.dropTable(ctx, staging)
				return fmt.Errorf("failed to store documents: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		s.dropTable(ctx, staging)
		return fmt.Errorf("failed to store documents: %w", err)
	}

	if s.ensureIndex {
		_, err := s.db.ExecContext(ctx, "CREATE INDEX ? ON ? USING hnsw (embedding vector_cosine_ops)",
			bun.Ident(staging+"_embedding_idx"), bun.Ident(staging))
		if err != nil {
			s.dropTable(ctx, staging)
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	oldDim, err := s.Dimension(ctx)
	if err == nil && oldDim > 0 && oldDim != dim {
		log.Info().Int("old_dimension", oldDim).Int("new_dimension", dim).Str("table", s.table).
			Msg("Embedding dimension changed, dropping previous generation")
	}
	if err := s.swap(ctx); err != nil {
		s.dropTable(ctx, staging)
		return err
	}
	log.Debug().Str("table", s.table).Int("rows", len(records)).Int("dimension", dim).Msg("Swapped in new generation")
	return nil
}

func (s *Store) createTable(ctx context.Context, table string, dim int) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE ? (
	id uuid PRIMARY KEY,
	content text NOT NULL,
	metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(?) NOT NULL
)`, bun.Ident(table), bun.Safe(strconv.Itoa(dim)))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	return nil
}

func (s *Store) dropTable(ctx context.Context, table string) {
	if _, err := s.db.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS ?", bun.Ident(table)); err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Failed to drop table")
	}
}

// swap replaces the live table with the staging table atomically.
func (s *Store) swap(ctx context.Context) error {
	staging := s.stagingTable()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		stmts := []struct {
			query string
			args  []any
		}{
			{"DROP TABLE IF EXISTS ?", []any{bun.Ident(s.table)}},
			{"ALTER TABLE ? RENAME TO ?", []any{bun.Ident(staging), bun.Ident(s.table)}},
			{"ALTER INDEX IF EXISTS ? RENAME TO ?", []any{bun.Ident(staging + "_pkey"), bun.Ident(s.table + "_pkey")}},
			{"ALTER INDEX IF EXISTS ? RENAME TO ?", []any{bun.Ident(staging + "_embedding_idx"), bun.Ident(s.table + "_embedding_idx")}},
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
				return fmt.Errorf("failed to swap generations: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) searchQuery(vector []float32, opts vectorindex.SearchOptions, docs *[]Document) *bun.SelectQuery {
	vec := pgvector.NewVector(vector)
	q := s.db.NewSelect().
		Model(docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("id", "content", "metadata").
		ColumnExpr("1 - (d.embedding <=> ?) AS score", vec).
		OrderExpr("d.embedding <=> ?", vec).
		Limit(opts.K)
	if opts.WithEmbeddings {
		q = q.Column("embedding")
	}
	if opts.MinScore > 0 {
		q = q.Where("1 - (d.embedding <=> ?) >= ?", vec, opts.MinScore)
	}
	if opts.MaxPage > 0 {
		q = q.Where("(d.metadata->>?)::int <= ?", models.MetaPageNumber, opts.MaxPage)
	}
	return q
}

func (s *Store) Search(ctx context.Context, vector []float32, opts vectorindex.SearchOptions) ([]vectorindex.Match, error) {
	if opts.K <= 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var docs []Document
	if err := s.searchQuery(vector, opts, &docs).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", s.table, err)
	}

	matches := make([]vectorindex.Match, len(docs))
	for i, d := range docs {
		matches[i] = vectorindex.Match{
			Record: vectorindex.Record{ID: d.ID, Content: d.Content, Metadata: d.Metadata},
			Score:  d.Score,
		}
		if opts.WithEmbeddings {
			matches[i].Embedding = d.Embedding.Slice()
		}
	}
	return matches, nil
}

func (s *Store) Dimension(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := s.db.NewRaw("SELECT to_regclass(?) IS NOT NULL", s.table).Scan(ctx, &exists); err != nil {
		return 0, fmt.Errorf("failed to inspect %s: %w", s.table, err)
	}
	if !exists {
		return 0, nil
	}
	var dim int
	err := s.db.NewRaw("SELECT vector_dims(embedding) FROM ? LIMIT 1", bun.Ident(s.table)).Scan(ctx, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read dimension of %s: %w", s.table, err)
	}
	return dim, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
