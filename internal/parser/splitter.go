package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"pdf-qa/internal/models"
)

const (
	smallFileSize  = 1 << 20
	mediumFileSize = 10 << 20
)

var (
	newlinePattern    = regexp.MustCompile(`\r\n|\r`)
	trailingSpaceRe   = regexp.MustCompile(`[ \t]+\n`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
	separators        = []string{"\n\n", "\n", ".", " "}
)

// chunkSettings picks chunk size and overlap from the file size. Positive
// configured values take precedence over the tier.
func chunkSettings(fileSize int64, size, overlap int) (int, int) {
	tierSize, tierOverlap := 600, 100
	switch {
	case fileSize < smallFileSize:
		tierSize, tierOverlap = 1000, 200
	case fileSize < mediumFileSize:
		tierSize, tierOverlap = 800, 150
	}
	if size <= 0 {
		size = tierSize
	}
	if overlap <= 0 {
		overlap = tierOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return size, overlap
}

func cleanText(text string) string {
	text = newlinePattern.ReplaceAllString(text, "\n")
	text = trailingSpaceRe.ReplaceAllString(text, "\n")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// filterPages cleans every page and drops those shorter than minLength runes.
func filterPages(pages []Page, minLength int) []Page {
	kept := make([]Page, 0, len(pages))
	for _, p := range pages {
		p.Text = cleanText(p.Text)
		if utf8.RuneCountInString(p.Text) < minLength {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// splitPages splits every page with the same recursive splitter; chunks keep
// the page number they came from.
func splitPages(pages []Page, size, overlap int) ([]models.Chunk, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
	)

	var chunks []models.Chunk
	for _, p := range pages {
		segments, err := splitter.SplitText(p.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", p.Number, err)
		}
		for _, segment := range segments {
			text := strings.TrimSpace(segment)
			if text == "" {
				continue
			}
			source := p.Source
			if source == "" {
				source = models.SourceText
			}
			chunks = append(chunks, models.Chunk{
				Content: text,
				Metadata: map[string]any{
					models.MetaPageNumber: p.Number,
					models.MetaSource:     source,
					models.MetaChunkIndex: len(chunks),
					models.MetaTotalPages: len(pages),
				},
			})
		}
	}
	return chunks, nil
}
