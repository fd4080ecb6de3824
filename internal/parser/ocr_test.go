package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
)

func TestSplitTranscript(t *testing.T) {
	t.Run("ShouldUseMarkerNumbers", func(t *testing.T) {
		text := "<<<PAGE>>> 1\nFirst page text\n<<<PAGE>>> 3\nThird page text\n"
		pages := splitTranscript(text)
		require.Len(t, pages, 2)
		assert.Equal(t, 1, pages[0].Number)
		assert.Equal(t, "\nFirst page text\n", pages[0].Text)
		assert.Equal(t, 3, pages[1].Number)
		assert.Equal(t, models.SourceOCR, pages[1].Source)
	})

	t.Run("ShouldNumberSequentiallyWithoutDigits", func(t *testing.T) {
		pages := splitTranscript("preamble\n<<<PAGE>>>\nA\n<<<PAGE>>>\nB")
		require.Len(t, pages, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{pages[0].Number, pages[1].Number, pages[2].Number})
	})

	t.Run("ShouldTreatUnmarkedTextAsOnePage", func(t *testing.T) {
		pages := splitTranscript("just text")
		require.Len(t, pages, 1)
		assert.Equal(t, 1, pages[0].Number)
		assert.Empty(t, splitTranscript("  \n "))
	})
}

func TestRenderedPages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-10.png", "page-02.png", "page-1.png", "other.png", "page-x.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	pages, err := renderedPages(dir, "page")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].number)
	assert.Equal(t, 2, pages[1].number)
	assert.Equal(t, 10, pages[2].number)
}

func TestNewOCR(t *testing.T) {
	cfg := &config.Config{OCR: config.OCRConfig{Strategy: config.OCRTesseract}}
	ocr, err := NewOCR(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &TesseractOCR{}, ocr)

	cfg.OCR.Strategy = config.OCRLLM
	_, err = NewOCR(cfg, nil)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestSlideNumber(t *testing.T) {
	n, ok := slideNumber("ppt/slides/slide12.xml")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = slideNumber("ppt/slides/_rels/slide1.xml.rels")
	assert.False(t, ok)
}
