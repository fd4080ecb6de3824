package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-qa/internal/models"
	"pdf-qa/internal/vectorindex"
)

var errNoEmbeddingFunc = errors.New("chromemdb: documents must carry their own embeddings")

// metadata keys stored as strings by chromem and read back as ints
var intMetadataKeys = map[string]bool{
	models.MetaPageNumber: true,
	models.MetaChunkIndex: true,
	models.MetaTotalPages: true,
}

// Store keeps every generation in its own collection named
// "<collection>_<seq>_<dim>" and serves queries from the newest one.
type Store struct {
	db         *chromem.DB
	collection string

	mu      sync.RWMutex
	current *chromem.Collection
	seq     int
	dim     int
}

var _ vectorindex.Store = (*Store)(nil)

// NewStore opens a persistent DB at dbPath, or an in-memory one when dbPath is empty.
func NewStore(dbPath, collection string, compress bool) (*Store, error) {
	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	s := &Store{db: db, collection: collection}
	s.adoptLatest()
	return s, nil
}

// adoptLatest picks up the newest generation left by a previous run and
// removes any older ones.
func (s *Store) adoptLatest() {
	type generation struct {
		name     string
		seq, dim int
	}
	var gens []generation
	for name := range s.db.ListCollections() {
		seq, dim, ok := parseGeneration(s.collection, name)
		if ok {
			gens = append(gens, generation{name: name, seq: seq, dim: dim})
		}
	}
	if len(gens) == 0 {
		return
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].seq > gens[j].seq })

	latest := gens[0]
	s.current = s.db.GetCollection(latest.name, noEmbedding)
	s.seq, s.dim = latest.seq, latest.dim
	for _, g := range gens[1:] {
		if err := s.db.DeleteCollection(g.name); err != nil {
			log.Warn().Err(err).Str("collection", g.name).Msg("Failed to drop stale generation")
		}
	}
	log.Debug().Str("collection", latest.name).Int("dimension", latest.dim).Msg("Adopted existing generation")
}

func (s *Store) Replace(ctx context.Context, records []vectorindex.Record, dim int) error {
	if len(records) == 0 {
		return models.ErrEmptyInput
	}

	s.mu.RLock()
	seq, oldDim, old := s.seq+1, s.dim, s.current
	s.mu.RUnlock()

	name := generationName(s.collection, seq, dim)
	c, err := s.db.CreateCollection(name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection: %v", err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Embedding) != dim {
			s.discard(name)
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				models.ErrDimensionMismatch, i, len(r.Embedding), dim)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  toStringMetadata(r.Metadata),
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		s.discard(name)
		return fmt.Errorf("failed to add documents: %v", err)
	}

	s.mu.Lock()
	s.current, s.seq, s.dim = c, seq, dim
	s.mu.Unlock()

	if old != nil {
		if oldDim != dim {
			log.Info().Int("old_dimension", oldDim).Int("new_dimension", dim).Msg("Embedding dimension changed, dropping previous generation")
		}
		s.discard(old.Name)
	}
	return nil
}

func (s *Store) discard(name string) {
	if err := s.db.DeleteCollection(name); err != nil {
		log.Warn().Err(err).Str("collection", name).Msg("Failed to drop collection")
	}
}

func (s *Store) Search(ctx context.Context, vector []float32, opts vectorindex.SearchOptions) ([]vectorindex.Match, error) {
	s.mu.RLock()
	c := s.current
	s.mu.RUnlock()
	if c == nil {
		return nil, models.ErrEmptyStore
	}

	count := c.Count()
	if count == 0 || opts.K <= 0 {
		return nil, nil
	}
	n := min(opts.K, count)
	if opts.MaxPage > 0 {
		// page filtering happens after the query, so rank everything
		n = count
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	matches := make([]vectorindex.Match, 0, min(opts.K, len(results)))
	for _, r := range results {
		if len(matches) == opts.K {
			break
		}
		score := float64(r.Similarity)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		meta := fromStringMetadata(r.Metadata)
		if opts.MaxPage > 0 {
			chunk := models.Chunk{Metadata: meta}
			if p := chunk.PageNumber(); p == 0 || p > opts.MaxPage {
				continue
			}
		}
		m := vectorindex.Match{
			Record: vectorindex.Record{ID: r.ID, Content: r.Content, Metadata: meta},
			Score:  score,
		}
		if opts.WithEmbeddings {
			m.Embedding = r.Embedding
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) Dimension(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0, nil
	}
	return s.dim, nil
}

// Close is a no-op; persistent collections are written on every change.
func (s *Store) Close() error {
	return nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func generationName(collection string, seq, dim int) string {
	return fmt.Sprintf("%s_%d_%d", collection, seq, dim)
}

func parseGeneration(collection, name string) (seq, dim int, ok bool) {
	rest, found := strings.CutPrefix(name, collection+"_")
	if !found {
		return 0, 0, false
	}
	seqPart, dimPart, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	seq, err := strconv.Atoi(seqPart)
	if err != nil {
		return 0, 0, false
	}
	dim, err = strconv.Atoi(dimPart)
	if err != nil || dim <= 0 {
		return 0, 0, false
	}
	return seq, dim, true
}

func toStringMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func fromStringMetadata(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if intMetadataKeys[k] {
			if n, err := strconv.Atoi(v); err == nil {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	return out
}
