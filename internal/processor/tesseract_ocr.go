//go:build tesseract

/**
 * Tesseract OCR - local recognizer
 *
 * Offline alternative to the Read API. Words come from gosseract's bounding
 * boxes at word level so the result carries positions and confidences.
 * Requires the tesseract and leptonica libraries; build with -tags tesseract.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
)

// TesseractOCR handles OCR using a local Tesseract installation
type TesseractOCR struct {
	languages []string
	logger    *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string // e.g. ["eng", "deu"]
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &TesseractOCR{
		languages: langs,
		logger:    logging.NewLogger("TesseractOCR"),
	}, nil
}

// Recognize runs Tesseract on a single image.
func (t *TesseractOCR) Recognize(ctx context.Context, data []byte) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words := make([]RecognizedWord, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, RecognizedWord{
			Text:       b.Word,
			Confidence: b.Confidence,
			Box:        b.Box,
			Block:      b.BlockNum,
			Paragraph:  b.ParNum,
			Line:       b.LineNum,
		})
	}

	width, height := imageSize(data)
	doc := buildLocalDocument(words, width, height, strings.Join(t.languages, "+"))

	lines, n := doc.Stats()
	t.logger.Info("Tesseract recognition complete", "lines", lines, "words", n)
	return doc, nil
}

func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
