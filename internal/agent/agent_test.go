package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"pdf-qa/internal/models"
	"pdf-qa/internal/vectorindex"
)

type fakeLoader struct {
	chunks []models.Chunk
	err    error
}

func (f *fakeLoader) Load(context.Context, string) ([]models.Chunk, error) {
	return f.chunks, f.err
}

type fakeIndex struct {
	candidates []models.Chunk
	buildErr   error
	built      [][]models.Chunk
	mmrK       []int
	docs       []schema.Document
	retrievers []vectorindex.RetrieverOptions
}

func (f *fakeIndex) Build(_ context.Context, chunks []models.Chunk, _ string, progress vectorindex.Progress) (int, error) {
	if f.buildErr != nil {
		return 0, f.buildErr
	}
	f.built = append(f.built, chunks)
	for i := range chunks {
		if progress != nil {
			progress(i+1, len(chunks))
		}
	}
	return len(chunks), nil
}

func (f *fakeIndex) MaxMarginalRelevance(_ context.Context, _ string, k int) ([]models.Chunk, error) {
	f.mmrK = append(f.mmrK, k)
	return f.candidates, nil
}

func (f *fakeIndex) Retriever(opts vectorindex.RetrieverOptions) schema.Retriever {
	f.retrievers = append(f.retrievers, opts)
	return staticRetriever(f.docs)
}

type staticRetriever []schema.Document

func (s staticRetriever) GetRelevantDocuments(context.Context, string) ([]schema.Document, error) {
	return s, nil
}

type fakeReranker struct {
	pick  []int
	err   error
	calls int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, candidates []models.Chunk, _ int) ([]models.Chunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Chunk
	for _, i := range f.pick {
		out = append(out, candidates[i])
	}
	return out, nil
}

type fakeLLM struct {
	reply   string
	prompts []string
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, part := range messages[len(messages)-1].Parts {
		if tc, ok := part.(llms.TextContent); ok {
			f.prompts = append(f.prompts, tc.Text)
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, nil
}

func page(content string, n int) models.Chunk {
	return models.Chunk{Content: content, Metadata: map[string]any{models.MetaPageNumber: n}}
}

type fixture struct {
	loader   *fakeLoader
	index    *fakeIndex
	reranker *fakeReranker
	llm      *fakeLLM
	agent    *Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		loader: &fakeLoader{chunks: []models.Chunk{
			page("Exercises\n3. What is X?\n4. What is Y", 1),
			page("and how does it relate to Z?\n5. Define W.", 2),
		}},
		index:    &fakeIndex{},
		reranker: &fakeReranker{},
		llm:      &fakeLLM{reply: "- summary"},
	}
	f.agent = New(f.loader, f.index, f.reranker, f.llm, Options{TopK: 2})
	return f
}

func (f *fixture) ingest(t *testing.T) {
	t.Helper()
	_, err := f.agent.Ingest(context.Background(), "/uploads/book.pdf", nil)
	require.NoError(t, err)
}

func TestAgentIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldBuildIndexAndQuestionMap", func(t *testing.T) {
		f := newFixture(t)
		var progress []int
		n, err := f.agent.Ingest(ctx, "/uploads/book.pdf", func(done, _ int) { progress = append(progress, done) })
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []int{1, 2}, progress)
		assert.True(t, f.agent.Ready())
		assert.Equal(t, "book.pdf", f.agent.Source())
		assert.Equal(t, map[int]string{
			3: "What is X?",
			4: "What is Y and how does it relate to Z?",
			5: "Define W.",
		}, f.agent.questions)
	})

	t.Run("ShouldFailOnEmptyContent", func(t *testing.T) {
		f := newFixture(t)
		f.loader.chunks = nil
		_, err := f.agent.Ingest(ctx, "empty.pdf", nil)
		assert.ErrorIs(t, err, models.ErrEmptyContent)
		assert.False(t, f.agent.Ready())
	})

	t.Run("ShouldKeepPreviousStateWhenReingestFails", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)

		f.loader.chunks = []models.Chunk{page("1. Another question", 1)}
		f.index.buildErr = errors.New("database down")
		_, err := f.agent.Ingest(ctx, "/uploads/other.pdf", nil)
		require.Error(t, err)

		assert.True(t, f.agent.Ready())
		assert.Equal(t, "book.pdf", f.agent.Source())
		assert.Equal(t, "What is X?", f.agent.questions[3])
		assert.NotContains(t, f.agent.questions, 1)
	})

	t.Run("ShouldRejectOverlappingOperations", func(t *testing.T) {
		f := newFixture(t)
		f.agent.busy.Lock()
		defer f.agent.busy.Unlock()

		_, err := f.agent.Ingest(ctx, "book.pdf", nil)
		assert.ErrorIs(t, err, models.ErrBusy)
		_, err = f.agent.Answer(ctx, "anything", 2)
		assert.ErrorIs(t, err, models.ErrBusy)
		_, err = f.agent.Ask(ctx, "anything")
		assert.ErrorIs(t, err, models.ErrBusy)
	})
}

func TestAgentAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldFailBeforeIngest", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.agent.Answer(ctx, "What is X?", 2)
		assert.ErrorIs(t, err, models.ErrNotReady)
		_, err = f.agent.Ask(ctx, "What is X?")
		assert.ErrorIs(t, err, models.ErrNotReady)
	})

	t.Run("ShouldShortCircuitOnExactMatch", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		prefix := strings.Repeat("p", 200)
		f.index.candidates = []models.Chunk{
			page("Unrelated intro", 1),
			page("  Recall: what is x? It is the unknown.  ", 2),
			page(prefix+" first", 3),
			page(prefix+" second", 4),
		}

		res, err := f.agent.Answer(ctx, "What is X?", 2)
		require.NoError(t, err)
		assert.True(t, res.ExactMatch)
		assert.Equal(t, "Recall: what is x? It is the unknown.", res.Answer)
		require.Len(t, res.Sources, 3)
		assert.Equal(t, prefix+" first", res.Sources[2].Content)
		assert.Equal(t, 0, f.reranker.calls)
		assert.Empty(t, f.llm.prompts)
		assert.Equal(t, []int{6}, f.index.mmrK)
	})

	t.Run("ShouldResolveNumberedQuestions", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		f.index.candidates = []models.Chunk{page("Y relates to Z through W.", 7)}
		f.reranker.pick = []int{0}

		res, err := f.agent.Answer(ctx, "  4 Question please", 2)
		require.NoError(t, err)
		assert.Equal(t, "What is Y and how does it relate to Z?", res.ResolvedQuestion)
		assert.Equal(t, "- summary", res.Answer)
		require.Len(t, f.llm.prompts, 1)
		assert.Contains(t, f.llm.prompts[0], `The user asked: "What is Y and how does it relate to Z?"`)
		assert.Contains(t, f.llm.prompts[0], "[Page 7] Y relates to Z through W.")
	})

	t.Run("ShouldSoftFailOnUnmappedNumber", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)

		res, err := f.agent.Answer(ctx, "9 question", 2)
		require.NoError(t, err)
		assert.Equal(t, "Question 9 not found in PDF.", res.Answer)
		assert.Empty(t, res.Sources)
		assert.Empty(t, f.index.mmrK)
	})

	t.Run("ShouldReturnRawContextWhenRerankIsEmpty", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		f.index.candidates = []models.Chunk{page("alpha", 1), page("beta", 0)}

		res, err := f.agent.Answer(ctx, "Explain gamma", 2)
		require.NoError(t, err)
		assert.Equal(t, "[Page 1] alpha\n\n[Page N/A] beta", res.Answer)
		assert.Empty(t, res.Sources)
		assert.Equal(t, 1, f.reranker.calls)
		assert.Empty(t, f.llm.prompts)
	})

	t.Run("ShouldSummarizeRerankedSources", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		f.index.candidates = []models.Chunk{page("alpha", 1), page("beta", 2), page("gamma", 3)}
		f.reranker.pick = []int{2, 0}

		res, err := f.agent.Answer(ctx, "Explain things", 2)
		require.NoError(t, err)
		assert.False(t, res.ExactMatch)
		require.Len(t, res.Sources, 2)
		assert.Equal(t, "gamma", res.Sources[0].Content)
		assert.Contains(t, f.llm.prompts[0], "[Page 3] gamma\n\n[Page 1] alpha")
	})

	t.Run("ShouldAnswerSoftlyWithoutCandidates", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		res, err := f.agent.Answer(ctx, "Explain", 2)
		require.NoError(t, err)
		assert.Equal(t, models.NoRelevantContent, res.Answer)
		assert.Equal(t, 0, f.reranker.calls)
	})

	t.Run("ShouldRecordHistory", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		_, err := f.agent.Answer(ctx, "9 question", 2)
		require.NoError(t, err)
		_, err = f.agent.Answer(ctx, "Explain", 2)
		require.NoError(t, err)

		history := f.agent.History()
		require.Len(t, history, 2)
		assert.Equal(t, "9 question", history[0].Question)
		assert.Equal(t, models.NoRelevantContent, history[1].Answer)
		assert.False(t, history[0].AskedAt.IsZero())
	})
}

func TestAgentAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldRunRetrievalQAChain", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		f.llm.reply = "<think>hmm</think>It is about retrieval."
		f.index.docs = []schema.Document{{PageContent: "Retrieval chapter", Metadata: map[string]any{models.MetaPageNumber: 4}}}

		res, err := f.agent.Ask(ctx, "What is the book about?")
		require.NoError(t, err)
		assert.Equal(t, "It is about retrieval.", res.Answer)
		require.Len(t, res.Sources, 1)
		assert.Equal(t, 4, res.Sources[0].PageNumber())
		require.Len(t, f.index.retrievers, 1)
		assert.Equal(t, vectorindex.RetrieverOptions{K: 8, ScoreThreshold: 0.3}, f.index.retrievers[0])
		require.NotEmpty(t, f.llm.prompts)
		assert.Contains(t, f.llm.prompts[0], "Retrieval chapter")
	})

	t.Run("ShouldCapPagesForFrontMatter", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t)
		_, err := f.agent.Ask(ctx, "Who is thanked in the Acknowledgments?")
		require.NoError(t, err)
		assert.Equal(t, 15, f.index.retrievers[0].MaxPage)
	})
}

func TestBuildQuestionMap(t *testing.T) {
	t.Run("ShouldSplitOnNumberedLines", func(t *testing.T) {
		got := buildQuestionMap("3. What is X?\n4. What is Y?")
		assert.Equal(t, map[int]string{3: "What is X?", 4: "What is Y?"}, got)
	})

	t.Run("ShouldLetLaterDuplicatesWin", func(t *testing.T) {
		got := buildQuestionMap("1: first\n1: second")
		assert.Equal(t, map[int]string{1: "second"}, got)
	})

	t.Run("ShouldIgnoreTextWithoutNumbers", func(t *testing.T) {
		assert.Empty(t, buildQuestionMap("no numbered entries here"))
	})
}

func TestQuestionNumber(t *testing.T) {
	n, ok := questionNumber("  12 Question")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	n, ok = questionNumber("5question")
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	_, ok = questionNumber("What is question 5?")
	assert.False(t, ok)
}

func TestDedupByPrefix(t *testing.T) {
	prefix := strings.Repeat("é", 200)
	got := dedupByPrefix([]models.Chunk{
		{Content: prefix + "a"},
		{Content: "short"},
		{Content: prefix + "b"},
		{Content: "short"},
	}, 200)
	require.Len(t, got, 2)
	assert.Equal(t, prefix+"a", got[0].Content)
	assert.Equal(t, "short", got[1].Content)
}
