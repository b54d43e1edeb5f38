// Package document holds the recognized text of one image as an immutable
// page → line → word tree, whichever recognizer produced it.
package document

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// Shape identifies the recognizer output a Document was built from.
type Shape string

const (
	ShapeRead      Shape = "read"      // asynchronous Read API
	ShapeOCR       Shape = "ocr"       // legacy synchronous OCR API, no confidences
	ShapeTesseract Shape = "tesseract" // local recognizer
)

// BoundingBox holds either 4 numbers (x, y, width, height) or 8 numbers
// (four corner points, clockwise from top-left).
type BoundingBox []float64

// Confidence is a recognition score in [0, 1]. Valid is false when the
// recognizer does not report one.
type Confidence struct {
	Value float64
	Valid bool
}

// NoConfidence is the confidence of words from recognizers that report none.
var NoConfidence = Confidence{}

// MarshalJSON encodes a valid confidence as a number and an invalid one as null.
func (c Confidence) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*c = NoConfidence
		return nil
	}
	*c = ConfidenceOf(*v)
	return nil
}

// ConfidenceOf returns a valid confidence clamped to [0, 1].
func ConfidenceOf(v float64) Confidence {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return Confidence{Value: v, Valid: true}
}

// Word is the smallest recognized unit.
type Word struct {
	BoundingBox BoundingBox
	Text        string
	Confidence  Confidence
}

// Line is an ordered run of words.
type Line struct {
	BoundingBox BoundingBox
	Text        string
	Words       []Word
}

// Page is one page (or legacy region) of a document.
type Page struct {
	Index  int // zero-based position in the document
	Number int // page number reported by the service
	Angle  float64
	Width  float64
	Height float64
	Unit   string
	Lines  []Line
}

// Metadata describes where a Document came from.
type Metadata struct {
	Language      string
	ModelVersion  string
	Version       string
	Orientation   string
	TextAngle     float64
	Shape         Shape
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// Position addresses a word inside a Document.
type Position struct {
	Page int
	Line int
	Word int
}

// Document is the immutable result tree.
type Document struct {
	meta  Metadata
	pages []Page
}

// New builds a Document from pages in order. Page indices are reassigned so
// that they are zero-based and dense. The input is copied.
func New(meta Metadata, pages []Page) *Document {
	d := &Document{meta: meta, pages: make([]Page, len(pages))}
	for i, p := range pages {
		d.pages[i] = copyPage(p)
		d.pages[i].Index = i
	}
	return d
}

// Metadata returns the document metadata.
func (d *Document) Metadata() Metadata {
	return d.meta
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.pages)
}

// Pages returns a copy of all pages.
func (d *Document) Pages() []Page {
	out := make([]Page, len(d.pages))
	for i, p := range d.pages {
		out[i] = copyPage(p)
	}
	return out
}

// Page returns a copy of page p.
func (d *Document) Page(p int) (Page, error) {
	if err := checkIndex("page", p, len(d.pages)); err != nil {
		return Page{}, err
	}
	return copyPage(d.pages[p]), nil
}

// LineCount returns the number of lines on page p.
func (d *Document) LineCount(p int) (int, error) {
	page, err := d.page(p)
	if err != nil {
		return 0, err
	}
	return len(page.Lines), nil
}

// Line returns a copy of line l on page p.
func (d *Document) Line(p, l int) (Line, error) {
	line, err := d.line(p, l)
	if err != nil {
		return Line{}, err
	}
	return copyLine(*line), nil
}

// LineText returns the text of line l on page p.
func (d *Document) LineText(p, l int) (string, error) {
	line, err := d.line(p, l)
	if err != nil {
		return "", err
	}
	return line.Text, nil
}

// WordCount returns the number of words in line l on page p.
func (d *Document) WordCount(p, l int) (int, error) {
	line, err := d.line(p, l)
	if err != nil {
		return 0, err
	}
	return len(line.Words), nil
}

// Word returns a copy of word w.
func (d *Document) Word(p, l, w int) (Word, error) {
	word, err := d.word(p, l, w)
	if err != nil {
		return Word{}, err
	}
	return copyWord(*word), nil
}

// WordText returns the text of word w.
func (d *Document) WordText(p, l, w int) (string, error) {
	word, err := d.word(p, l, w)
	if err != nil {
		return "", err
	}
	return word.Text, nil
}

// WordConfidence returns the confidence of word w. The result is not Valid for
// documents from recognizers without confidences.
func (d *Document) WordConfidence(p, l, w int) (Confidence, error) {
	word, err := d.word(p, l, w)
	if err != nil {
		return Confidence{}, err
	}
	return word.Confidence, nil
}

// Walk visits every word in document order until fn returns false.
func (d *Document) Walk(fn func(Position, Word) bool) {
	for p := range d.pages {
		for l := range d.pages[p].Lines {
			for w, word := range d.pages[p].Lines[l].Words {
				if !fn(Position{Page: p, Line: l, Word: w}, word) {
					return
				}
			}
		}
	}
}

// Text returns the full text: lines separated by newlines, pages by a blank line.
func (d *Document) Text() string {
	var b strings.Builder
	for p, page := range d.pages {
		if p > 0 {
			b.WriteString("\n\n")
		}
		for l, line := range page.Lines {
			if l > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(line.Text)
		}
	}
	return b.String()
}

// Stats returns the total numbers of lines and words.
func (d *Document) Stats() (lines, words int) {
	for _, page := range d.pages {
		lines += len(page.Lines)
		for _, line := range page.Lines {
			words += len(line.Words)
		}
	}
	return lines, words
}

// AverageConfidence returns the mean of all valid word confidences.
// ok is false when no word carries one.
func (d *Document) AverageConfidence() (avg float64, ok bool) {
	var sum float64
	var n int
	d.Walk(func(_ Position, w Word) bool {
		if w.Confidence.Valid {
			sum += w.Confidence.Value
			n++
		}
		return true
	})
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (d *Document) page(p int) (*Page, error) {
	if err := checkIndex("page", p, len(d.pages)); err != nil {
		return nil, err
	}
	return &d.pages[p], nil
}

func (d *Document) line(p, l int) (*Line, error) {
	page, err := d.page(p)
	if err != nil {
		return nil, err
	}
	if err := checkIndex("line", l, len(page.Lines)); err != nil {
		return nil, err
	}
	return &page.Lines[l], nil
}

func (d *Document) word(p, l, w int) (*Word, error) {
	line, err := d.line(p, l)
	if err != nil {
		return nil, err
	}
	if err := checkIndex("word", w, len(line.Words)); err != nil {
		return nil, err
	}
	return &line.Words[w], nil
}

// checkIndex is the single bounds check for every accessor.
func checkIndex(level string, index, count int) error {
	if index < 0 || index >= count {
		return apperrors.NewIndexError(level, index, count)
	}
	return nil
}

func copyPage(p Page) Page {
	out := p
	out.Lines = make([]Line, len(p.Lines))
	for i, l := range p.Lines {
		out.Lines[i] = copyLine(l)
	}
	return out
}

func copyLine(l Line) Line {
	out := l
	out.BoundingBox = copyBox(l.BoundingBox)
	out.Words = make([]Word, len(l.Words))
	for i, w := range l.Words {
		out.Words[i] = copyWord(w)
	}
	return out
}

func copyWord(w Word) Word {
	out := w
	out.BoundingBox = copyBox(w.BoundingBox)
	return out
}

func copyBox(b BoundingBox) BoundingBox {
	if b == nil {
		return nil
	}
	out := make(BoundingBox, len(b))
	copy(out, b)
	return out
}
