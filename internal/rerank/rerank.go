package rerank

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-qa/internal/models"
)

const previewRunes = 400

// Completer is the single LLM capability the reranker needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, options ...llms.CallOption) (string, error)
}

// Reranker asks an LLM which candidate chunks best answer a question.
type Reranker struct {
	llm Completer
}

func New(llm Completer) *Reranker {
	return &Reranker{llm: llm}
}

// Rerank returns at most topK candidates in the order the model ranked them.
// A reply without usable indices yields an empty slice and no error.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []models.Chunk, topK int) ([]models.Chunk, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}

	reply, err := r.llm.Complete(ctx, BuildPrompt(question, candidates, topK), llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("failed to rerank candidates: %w", err)
	}

	indices := ParseIndices(reply, len(candidates), topK)
	log.Debug().Str("reply", reply).Ints("indices", indices).Msg("Reranked candidates")

	ranked := make([]models.Chunk, len(indices))
	for i, idx := range indices {
		ranked[i] = candidates[idx]
	}
	return ranked, nil
}

// BuildPrompt lists every candidate as "[i] preview" under the question.
func BuildPrompt(question string, candidates []models.Chunk, topK int) string {
	lines := make([]string, len(candidates))
	for i, c := range candidates {
		lines[i] = fmt.Sprintf("[%d] %s", i, preview(c.Content))
	}
	return fmt.Sprintf(models.RerankPromptTemplate, question, strings.Join(lines, "\n"), topK)
}

// ParseIndices reads a list like "[0, 2, 5]" leniently: brackets are
// ignored, non-numeric and out-of-range tokens are skipped, duplicates keep
// their first position and the result is cut to topK.
func ParseIndices(text string, n, topK int) []int {
	text = strings.NewReplacer("[", " ", "]", " ").Replace(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	seen := make(map[int]bool, len(tokens))
	indices := make([]int, 0, min(len(tokens), max(topK, 0)))
	for _, tok := range tokens {
		if len(indices) >= topK {
			break
		}
		if !isDigits(tok) {
			continue
		}
		idx, err := strconv.Atoi(tok)
		if err != nil || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	return indices
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func preview(content string) string {
	r := []rune(content)
	if len(r) > previewRunes {
		r = r[:previewRunes]
	}
	return string(r)
}
