package parser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-qa/internal/config"
	"pdf-qa/internal/llmservice"
	"pdf-qa/internal/models"
)

// NewOCR returns the OCR strategy selected by the config.
func NewOCR(cfg *config.Config, client *llmservice.Client) (OCR, error) {
	switch cfg.OCR.Strategy {
	case config.OCRTesseract:
		return &TesseractOCR{cfg: cfg.OCR}, nil
	case config.OCRLLM:
		if client == nil {
			return nil, fmt.Errorf("%w: the llm OCR strategy needs an LLM client", models.ErrConfig)
		}
		return &LLMOCR{client: client.WithTimeout(cfg.Timeouts.OCR)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported OCR strategy %q", models.ErrConfig, cfg.OCR.Strategy)
	}
}

// TesseractOCR rasterises pages with pdftoppm and reads every image with tesseract.
type TesseractOCR struct {
	cfg config.OCRConfig
}

func (t *TesseractOCR) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	dir, err := os.MkdirTemp("", "pdfqa-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	render := exec.CommandContext(ctx, t.cfg.PdftoppmPath,
		"-r", strconv.Itoa(t.cfg.Resolution), "-png", path, prefix)
	if out, err := render.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}

	images, err := renderedPages(dir, "page")
	if err != nil {
		return nil, err
	}
	log.Debug().Str("file", path).Int("images", len(images)).Msg("Rendered pages for OCR")

	pages := make([]Page, 0, len(images))
	for _, img := range images {
		cmd := exec.CommandContext(ctx, t.cfg.TesseractPath, img.path, "stdout", "-l", t.cfg.Language)
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("failed to OCR page %d: %w", img.number, err)
		}
		pages = append(pages, Page{Number: img.number, Text: string(out), Source: models.SourceOCR})
	}
	return pages, nil
}

type renderedPage struct {
	number int
	path   string
}

// renderedPages lists pdftoppm output ("page-1.png", "page-01.png", ...) in page order.
func renderedPages(dir, prefix string) ([]renderedPage, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.png"))
	if err != nil {
		return nil, err
	}
	pages := make([]renderedPage, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".png")
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix+"-"))
		if err != nil {
			continue
		}
		pages = append(pages, renderedPage{number: n, path: m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })
	return pages, nil
}

// LLMOCR sends the whole PDF to a multimodal model and asks for a transcription.
type LLMOCR struct {
	client *llmservice.Client
}

func (o *LLMOCR) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	msgContent := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart("application/pdf", data),
				llms.TextContent{Text: fmt.Sprintf(models.OCRPromptTemplate, models.OCRPageMarker)},
			},
		},
	}
	res, err := o.client.GenerateContent(ctx, msgContent, llms.WithTemperature(0))
	if err != nil {
		return nil, err
	}
	return splitTranscript(llmservice.StripThinking(res.Choices[0].Content)), nil
}

var pageMarkerRe = regexp.MustCompile(regexp.QuoteMeta(models.OCRPageMarker) + `[ \t]*(\d*)`)

// splitTranscript cuts a transcription on the page markers. Text before the
// first marker, or a transcript without markers, becomes page 1.
func splitTranscript(text string) []Page {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Page{{Number: 1, Text: text, Source: models.SourceOCR}}
	}

	var pages []Page
	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		pages = append(pages, Page{Number: 1, Text: head, Source: models.SourceOCR})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		number := len(pages) + 1
		if loc[2] >= 0 && loc[3] > loc[2] {
			if n, err := strconv.Atoi(text[loc[2]:loc[3]]); err == nil && n > 0 {
				number = n
			}
		}
		pages = append(pages, Page{Number: number, Text: text[loc[1]:end], Source: models.SourceOCR})
	}
	return pages
}
