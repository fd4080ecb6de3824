package parser

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"

	"pdf-qa/internal/models"
)

// extractPDFPages reads the embedded text layer page by page. The pdf library
// panics on some malformed files; that is reported as an error.
func extractPDFPages(filePath string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("failed to parse pdf %s: %v", filePath, r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", filePath, err)
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", i, filePath, err)
		}
		pages = append(pages, Page{Number: i, Text: pageText, Source: models.SourceText})
	}
	return pages, nil
}
