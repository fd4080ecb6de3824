package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"pdf-qa/internal/llmservice"
	"pdf-qa/internal/models"
	"pdf-qa/internal/vectorindex"
)

const dedupPrefixRunes = 200

type Loader interface {
	Load(ctx context.Context, path string) ([]models.Chunk, error)
}

type Index interface {
	Build(ctx context.Context, chunks []models.Chunk, sourceLabel string, progress vectorindex.Progress) (int, error)
	MaxMarginalRelevance(ctx context.Context, query string, k int) ([]models.Chunk, error)
	Retriever(opts vectorindex.RetrieverOptions) schema.Retriever
}

type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []models.Chunk, topK int) ([]models.Chunk, error)
}

// LLM is a chat model that also offers single-prompt completion.
type LLM interface {
	llms.Model
	Complete(ctx context.Context, prompt string, options ...llms.CallOption) (string, error)
}

type Options struct {
	TopK             int
	ThresholdK       int
	ScoreThreshold   float64
	FrontMatterPages int
}

// Agent answers questions about the most recently ingested document.
// Operations do not overlap: a call made while another runs fails with
// models.ErrBusy.
type Agent struct {
	loader   Loader
	index    Index
	reranker Reranker
	llm      LLM
	opts     Options

	busy sync.Mutex

	mu        sync.RWMutex
	ready     bool
	source    string
	questions map[int]string
	history   []models.HistoryEntry
}

func New(loader Loader, index Index, reranker Reranker, llm LLM, opts Options) *Agent {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ThresholdK <= 0 {
		opts.ThresholdK = vectorindex.DefaultThresholdK
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = vectorindex.DefaultScoreThreshold
	}
	if opts.FrontMatterPages <= 0 {
		opts.FrontMatterPages = 15
	}
	return &Agent{
		loader:    loader,
		index:     index,
		reranker:  reranker,
		llm:       llm,
		opts:      opts,
		questions: map[int]string{},
	}
}

// Ingest loads the document at path and replaces the index with its chunks.
// On failure the previously ingested document stays available.
func (a *Agent) Ingest(ctx context.Context, path string, progress vectorindex.Progress) (int, error) {
	if !a.busy.TryLock() {
		return 0, models.ErrBusy
	}
	defer a.busy.Unlock()

	chunks, err := a.loader.Load(ctx, path)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, models.ErrEmptyContent
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	questions := buildQuestionMap(strings.Join(texts, "\n"))

	n, err := a.index.Build(ctx, chunks, path, progress)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.ready = true
	a.source = filepath.Base(path)
	a.questions = questions
	a.mu.Unlock()

	log.Info().Str("file", filepath.Base(path)).Int("chunks", n).Int("questions", len(questions)).Msg("Document ingested")
	return n, nil
}

// Answer runs the retrieve, dedup, rerank and summarize pipeline for input.
func (a *Agent) Answer(ctx context.Context, input string, topK int) (models.AnswerResult, error) {
	if !a.busy.TryLock() {
		return models.AnswerResult{}, models.ErrBusy
	}
	defer a.busy.Unlock()

	if topK <= 0 {
		topK = a.opts.TopK
	}
	question := strings.TrimSpace(input)
	result := models.AnswerResult{Question: input, ResolvedQuestion: question}

	a.mu.RLock()
	ready := a.ready
	mapped, isNumbered, found := "", false, false
	if n, ok := questionNumber(question); ok {
		isNumbered = true
		mapped, found = a.questions[n]
		if !found {
			mapped = fmt.Sprintf(models.NotFoundQuestion, n)
		}
	}
	a.mu.RUnlock()

	if !ready {
		return result, models.ErrNotReady
	}
	if isNumbered && !found {
		result.Answer = mapped
		a.record(result)
		return result, nil
	}
	if isNumbered {
		question = mapped
		result.ResolvedQuestion = mapped
	}

	candidates, err := a.index.MaxMarginalRelevance(ctx, question, 3*topK)
	if err != nil {
		return result, err
	}
	candidates = dedupByPrefix(candidates, dedupPrefixRunes)
	if len(candidates) == 0 {
		result.Answer = models.NoRelevantContent
		a.record(result)
		return result, nil
	}

	if match, ok := exactMatch(question, candidates); ok {
		result.Answer = strings.TrimSpace(match.Content)
		result.Sources = candidates
		result.ExactMatch = true
		a.record(result)
		return result, nil
	}

	ranked, err := a.reranker.Rerank(ctx, question, candidates, topK)
	if err != nil {
		return result, err
	}
	if len(ranked) == 0 {
		log.Debug().Str("question", question).Msg("Rerank returned nothing, answering with raw context")
		result.Answer = contextBlock(candidates)
		a.record(result)
		return result, nil
	}

	prompt := fmt.Sprintf(models.SummaryPromptTemplate, question, contextBlock(ranked))
	answer, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		return result, fmt.Errorf("failed to summarize answer: %w", err)
	}
	result.Answer = answer
	result.Sources = ranked
	a.record(result)
	return result, nil
}

// Ask answers with a langchaingo retrieval QA chain over similarity-threshold
// search. Questions about front matter only look at the first pages.
func (a *Agent) Ask(ctx context.Context, question string) (models.AnswerResult, error) {
	if !a.busy.TryLock() {
		return models.AnswerResult{}, models.ErrBusy
	}
	defer a.busy.Unlock()

	question = strings.TrimSpace(question)
	result := models.AnswerResult{Question: question, ResolvedQuestion: question}
	a.mu.RLock()
	ready := a.ready
	a.mu.RUnlock()
	if !ready {
		return result, models.ErrNotReady
	}

	opts := vectorindex.RetrieverOptions{K: a.opts.ThresholdK, ScoreThreshold: a.opts.ScoreThreshold}
	if isFrontMatterQuestion(question) {
		opts.MaxPage = a.opts.FrontMatterPages
	}

	qa := chains.NewRetrievalQAFromLLM(a.llm, a.index.Retriever(opts))
	qa.ReturnSourceDocuments = true
	out, err := chains.Call(ctx, qa, map[string]any{"query": question})
	if err != nil {
		return result, fmt.Errorf("failed to run QA chain: %w", err)
	}

	if text, ok := out["text"].(string); ok {
		result.Answer = llmservice.StripThinking(text)
	}
	if docs, ok := out["source_documents"].([]schema.Document); ok {
		for _, d := range docs {
			result.Sources = append(result.Sources, models.Chunk{Content: d.PageContent, Metadata: d.Metadata})
		}
	}
	a.record(result)
	return result, nil
}

// History returns a copy of the answered questions, oldest first.
func (a *Agent) History() []models.HistoryEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}

// Source is the file name of the ingested document, empty before the first ingest.
func (a *Agent) Source() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.source
}

func (a *Agent) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

func (a *Agent) record(result models.AnswerResult) {
	a.mu.Lock()
	a.history = append(a.history, models.HistoryEntry{
		Question: result.Question,
		Answer:   result.Answer,
		AskedAt:  time.Now(),
	})
	a.mu.Unlock()
}

// dedupByPrefix keeps the first chunk for every distinct content prefix.
func dedupByPrefix(chunks []models.Chunk, n int) []models.Chunk {
	seen := make(map[string]bool, len(chunks))
	out := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		r := []rune(c.Content)
		key := string(r[:min(n, len(r))])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func exactMatch(question string, chunks []models.Chunk) (models.Chunk, bool) {
	q := strings.ToLower(question)
	if q == "" {
		return models.Chunk{}, false
	}
	for _, c := range chunks {
		if strings.Contains(strings.ToLower(c.Content), q) {
			return c, true
		}
	}
	return models.Chunk{}, false
}

func contextBlock(chunks []models.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Page %s] %s", c.PageLabel(), c.Content)
	}
	return strings.Join(parts, models.ContextSeparator)
}

func isFrontMatterQuestion(question string) bool {
	lower := strings.ToLower(question)
	for _, kw := range models.FrontMatterKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
