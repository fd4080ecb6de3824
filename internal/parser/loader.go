package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
)

// Page is the cleaned text of one page (or slide, or sheet) of a document.
type Page struct {
	Number int
	Text   string
	Source string
}

// OCR turns a document that has no usable text layer into pages.
type OCR interface {
	ExtractPages(ctx context.Context, path string) ([]Page, error)
}

// Loader reads a document from disk and splits it into chunks.
type Loader struct {
	cfg *config.Config
	ocr OCR

	// native text extraction, replaceable in tests
	extractPDF func(path string) ([]Page, error)
}

func NewLoader(cfg *config.Config, ocr OCR) *Loader {
	return &Loader{
		cfg:        cfg,
		ocr:        ocr,
		extractPDF: extractPDFPages,
	}
}

// Load dispatches on the file extension and returns the chunks of the document.
func (l *Loader) Load(ctx context.Context, path string) ([]models.Chunk, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var pages []Page
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		pages, err = l.loadPDF(ctx, path)
	case ".docx":
		pages, err = parseDOCX(path)
	case ".pptx":
		pages, err = parsePPTX(path)
	case ".xlsx":
		pages, err = parseXLSX(path)
	case ".ods":
		pages, err = parseODS(path)
	case ".txt", ".md":
		pages, err = parseText(path)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	pages = filterPages(pages, l.cfg.RAG.MinPageLength)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), models.ErrEmptyContent)
	}

	size, overlap := chunkSettings(stat.Size(), l.cfg.RAG.ChunkSize, l.cfg.RAG.ChunkOverlap)
	chunks, err := splitPages(pages, size, overlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), models.ErrEmptyContent)
	}

	log.Info().
		Str("file", filepath.Base(path)).
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Int("chunk_size", size).
		Int("chunk_overlap", overlap).
		Msg("Document loaded")
	return chunks, nil
}

func (l *Loader) loadPDF(ctx context.Context, path string) ([]Page, error) {
	pages, err := l.extractPDF(path)
	if err == nil && textLength(pages) >= l.cfg.RAG.MinTextLength {
		return pages, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Text extraction failed, falling back to OCR")
	} else {
		log.Info().Str("file", path).Int("chars", textLength(pages)).Msg("Too little embedded text, falling back to OCR")
	}
	if l.ocr == nil {
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from %s: %w", path, err)
		}
		return nil, fmt.Errorf("%s has no text layer and OCR is disabled: %w", filepath.Base(path), models.ErrEmptyContent)
	}

	if l.cfg.Timeouts.OCR > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeouts.OCR)
		defer cancel()
	}
	ocrPages, ocrErr := l.ocr.ExtractPages(ctx, path)
	if ocrErr != nil {
		return nil, fmt.Errorf("failed to OCR %s: %w", path, ocrErr)
	}
	for i := range ocrPages {
		ocrPages[i].Source = models.SourceOCR
	}
	return ocrPages, nil
}

// textLength counts the runes of all pages joined, trimmed once at the ends.
func textLength(pages []Page) int {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(p.Text)
	}
	return utf8.RuneCountInString(strings.TrimSpace(b.String()))
}
