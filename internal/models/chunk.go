package models

import (
	"fmt"
	"strconv"
	"time"
)

// Chunk is a bounded span of extracted document text plus its metadata
type Chunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// PageNumber returns the 1-based page the chunk came from, or 0 when unknown.
func (c Chunk) PageNumber() int {
	v, ok := c.Metadata[MetaPageNumber]
	if !ok {
		v, ok = c.Metadata[MetaPage]
	}
	if !ok {
		return 0
	}
	return toInt(v)
}

func (c Chunk) FileName() string {
	if v, ok := c.Metadata[MetaFileName].(string); ok {
		return v
	}
	return ""
}

// PageLabel renders the page number the way prompts and front ends show it.
func (c Chunk) PageLabel() string {
	if p := c.PageNumber(); p > 0 {
		return strconv.Itoa(p)
	}
	return "N/A"
}

// Snippet returns at most n runes of the content with newlines flattened.
func (c Chunk) Snippet(n int) string {
	r := []rune(c.Content)
	if len(r) > n {
		r = r[:n]
	}
	out := make([]rune, len(r))
	for i, ch := range r {
		if ch == '\n' || ch == '\r' {
			ch = ' '
		}
		out[i] = ch
	}
	return string(out)
}

// CloneMetadata returns a shallow copy of the metadata map.
func (c Chunk) CloneMetadata() map[string]any {
	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	return meta
}

type AnswerResult struct {
	Question         string  `json:"question"`
	ResolvedQuestion string  `json:"resolved_question"`
	Answer           string  `json:"answer"`
	Sources          []Chunk `json:"sources"`
	ExactMatch       bool    `json:"exact_match"`
}

type HistoryEntry struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	case fmt.Stringer:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
