package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MaxMergeInputs caps how many documents one merge may combine.
const MaxMergeInputs = 20

// ErrTooFewInputs is returned when a merge has fewer than two documents.
var ErrTooFewInputs = errors.New("merge needs at least two documents")

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Merge concatenates the documents in the given order.
func Merge(docs [][]byte) ([]byte, error) {
	if len(docs) < 2 {
		return nil, ErrTooFewInputs
	}
	if len(docs) > MaxMergeInputs {
		return nil, fmt.Errorf("merge accepts at most %d documents, got %d", MaxMergeInputs, len(docs))
	}

	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, newConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge PDFs: %w", err)
	}
	return out.Bytes(), nil
}

// CompressResult reports the optimized document and its size change.
type CompressResult struct {
	Data         []byte
	OriginalSize int
	Size         int
}

// Compress optimizes a document: deduplicates resources, drops unused
// objects and recompresses streams.
func Compress(data []byte) (*CompressResult, error) {
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(data), &out, newConfig()); err != nil {
		return nil, fmt.Errorf("failed to optimize PDF: %w", err)
	}

	// Optimization can grow tiny documents; never hand back a larger file.
	optimized := out.Bytes()
	if len(optimized) >= len(data) {
		optimized = data
	}
	return &CompressResult{Data: optimized, OriginalSize: len(data), Size: len(optimized)}, nil
}

// PageCount returns the number of pages in a document.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), newConfig())
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}
