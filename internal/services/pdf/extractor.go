// Package pdf provides the document tools: text extraction, merge,
// compression and page counting.
//
// Text extraction uses ledongthuc/pdf, a pure Go reader. Structural
// operations (merge, optimize, page count) use pdfcpu.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractionResult holds the output from a PDF text extraction.
type ExtractionResult struct {
	Text      string
	PageCount int
	WordCount int
}

// Extract reads a PDF held in memory and extracts its text, page by page.
// Pages whose text cannot be read are marked in the output rather than
// failing the whole document.
func Extract(data []byte) (result *ExtractionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("failed to read PDF: %v", rec)
		}
	}()

	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pageCount := pdfReader.NumPage()
	if pageCount == 0 {
		return &ExtractionResult{}, nil
	}

	var allText strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			fmt.Fprintf(&allText, "\n--- Page %d (text extraction failed) ---\n", i)
			continue
		}

		if i > 1 {
			fmt.Fprintf(&allText, "\n--- Page %d ---\n", i)
		}
		allText.WriteString(strings.TrimSpace(text))
	}

	extracted := strings.TrimSpace(allText.String())
	return &ExtractionResult{
		Text:      extracted,
		PageCount: pageCount,
		WordCount: len(strings.Fields(extracted)),
	}, nil
}

// ValidatePDF checks if the data looks like a PDF by its magic bytes.
func ValidatePDF(data []byte) bool {
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}
