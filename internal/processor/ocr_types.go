/**
 * OCR Types - local recognizer output and its conversion to a Document
 *
 * The Tesseract path reports a flat list of words with block, paragraph and
 * line numbers. buildLocalDocument groups them into lines so the result has
 * the same page → line → word shape as the Read API.
 */

package processor

import (
	"image"
	"strings"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
)

// RecognizedWord is one word reported by a local recognizer
type RecognizedWord struct {
	Text       string
	Confidence float64 // 0-100 as reported by Tesseract
	Box        image.Rectangle
	Block      int
	Paragraph  int
	Line       int
}

type lineKey struct {
	block, paragraph, line int
}

// buildLocalDocument groups words into lines of a single page. Words must be in
// reading order; a change of (block, paragraph, line) starts a new line.
func buildLocalDocument(words []RecognizedWord, width, height int, language string) *document.Document {
	page := document.Page{
		Number: 1,
		Width:  float64(width),
		Height: float64(height),
		Unit:   "pixel",
	}

	var (
		current *document.Line
		key     lineKey
		bounds  image.Rectangle
		texts   []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.Join(texts, " ")
		current.BoundingBox = polygon(bounds)
		page.Lines = append(page.Lines, *current)
		current, texts = nil, nil
	}

	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		k := lineKey{w.Block, w.Paragraph, w.Line}
		if current == nil || k != key {
			flush()
			current = &document.Line{}
			key = k
			bounds = w.Box
		} else {
			bounds = bounds.Union(w.Box)
		}
		current.Words = append(current.Words, document.Word{
			BoundingBox: polygon(w.Box),
			Text:        text,
			Confidence:  document.ConfidenceOf(w.Confidence / 100),
		})
		texts = append(texts, text)
	}
	flush()

	return document.New(document.Metadata{
		Language:     language,
		ModelVersion: "tesseract",
		Shape:        document.ShapeTesseract,
	}, []document.Page{page})
}

// polygon returns the four corners clockwise from top-left, the Read API layout.
func polygon(r image.Rectangle) document.BoundingBox {
	x0, y0 := float64(r.Min.X), float64(r.Min.Y)
	x1, y1 := float64(r.Max.X), float64(r.Max.Y)
	return document.BoundingBox{x0, y0, x1, y0, x1, y1, x0, y1}
}
