//go:build !tesseract

package processor

import (
	"context"
	"errors"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
)

// ErrTesseractNotEnabled is returned when local recognition was not compiled in.
// Rebuild with -tags tesseract to enable it.
var ErrTesseractNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags tesseract")

// TesseractOCR is the placeholder used without the tesseract build tag.
type TesseractOCR struct{}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string
}

// NewTesseractOCR always fails without the tesseract build tag.
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	return nil, ErrTesseractNotEnabled
}

// Recognize always fails without the tesseract build tag.
func (t *TesseractOCR) Recognize(ctx context.Context, image []byte) (*document.Document, error) {
	return nil, ErrTesseractNotEnabled
}
