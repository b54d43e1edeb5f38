package document

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

func word(text string, conf float64) Word {
	return Word{BoundingBox: BoundingBox{0, 0, 10, 0, 10, 10, 0, 10}, Text: text, Confidence: ConfidenceOf(conf)}
}

func line(words ...Word) Line {
	l := Line{Words: words}
	for i, w := range words {
		if i > 0 {
			l.Text += " "
		}
		l.Text += w.Text
	}
	return l
}

func sampleDocument() *Document {
	return New(Metadata{Shape: ShapeRead, Version: "3.2.0"}, []Page{
		{Number: 1, Unit: "pixel", Lines: []Line{
			line(word("Invoice", 0.99), word("#123", 0.95)),
			line(word("Total:", 0.9), word("42.00", 0.8), word("EUR", 0.7)),
		}},
		{Number: 2, Unit: "pixel", Lines: []Line{
			line(word("Invoice", 0.97)),
		}},
	})
}

func TestAccessors(t *testing.T) {
	doc := sampleDocument()

	assert.Equal(t, 2, doc.PageCount())

	n, err := doc.LineCount(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = doc.WordCount(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	text, err := doc.WordText(0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "42.00", text)

	text, err = doc.LineText(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "Total: 42.00 EUR", text)

	conf, err := doc.WordConfidence(1, 0, 0)
	require.NoError(t, err)
	assert.True(t, conf.Valid)
	assert.InDelta(t, 0.97, conf.Value, 1e-9)
}

func TestWordIndexEqualToCountFails(t *testing.T) {
	doc := sampleDocument()

	count, err := doc.WordCount(0, 0)
	require.NoError(t, err)

	_, err = doc.WordText(0, 0, count)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrIndexOutOfRange))

	var pe *apperrors.ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "word", pe.Details["level"])
	assert.Equal(t, count, pe.Details["index"])
}

func TestOutOfRangeAtEveryLevel(t *testing.T) {
	doc := sampleDocument()

	cases := []struct {
		name  string
		call  func() error
		level string
	}{
		{"page equal to count", func() error { _, err := doc.Page(2); return err }, "page"},
		{"negative page", func() error { _, err := doc.LineCount(-1); return err }, "page"},
		{"line equal to count", func() error { _, err := doc.LineText(0, 2); return err }, "line"},
		{"line on short page", func() error { _, err := doc.WordCount(1, 1); return err }, "line"},
		{"negative word", func() error { _, err := doc.Word(0, 0, -1); return err }, "word"},
		{"confidence past end", func() error { _, err := doc.WordConfidence(1, 0, 1); return err }, "word"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.ErrorIs(t, err, apperrors.ErrIndexOutOfRange)
			var pe *apperrors.ProcessingError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.level, pe.Details["level"])
		})
	}
}

func TestEmptyDocument(t *testing.T) {
	doc := New(Metadata{}, nil)

	assert.Equal(t, 0, doc.PageCount())
	assert.Equal(t, "", doc.Text())
	_, err := doc.LineCount(0)
	assert.ErrorIs(t, err, apperrors.ErrIndexOutOfRange)

	_, ok := doc.AverageConfidence()
	assert.False(t, ok)
}

func TestDocumentIsImmutable(t *testing.T) {
	pages := []Page{{Lines: []Line{line(word("alpha", 0.5))}}}
	doc := New(Metadata{}, pages)

	pages[0].Lines[0].Words[0].Text = "mutated"

	w, err := doc.Word(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", w.Text)

	w.Text = "changed"
	w.BoundingBox[0] = 99
	again, err := doc.Word(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", again.Text)
	assert.Equal(t, float64(0), again.BoundingBox[0])
}

func TestPagesReturnsCopies(t *testing.T) {
	doc := New(Metadata{}, []Page{
		{Number: 1, Unit: "pixel", Lines: []Line{line(word("alpha", 0.5))}},
		{Number: 2, Unit: "pixel"},
	})

	pages := doc.Pages()
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[1].Index)
	assert.Equal(t, 2, pages[1].Number)

	pages[0].Lines[0].Words[0].Text = "mutated"
	text, err := doc.WordText(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", text)
}

func TestNewAssignsDenseIndices(t *testing.T) {
	doc := New(Metadata{}, []Page{{Index: 7, Number: 3}, {Index: 7, Number: 4}})

	for i := 0; i < doc.PageCount(); i++ {
		p, err := doc.Page(i)
		require.NoError(t, err)
		assert.Equal(t, i, p.Index)
	}
}

func TestWalkOrderAndStop(t *testing.T) {
	doc := sampleDocument()

	var got []Position
	doc.Walk(func(pos Position, _ Word) bool {
		got = append(got, pos)
		return true
	})
	assert.Equal(t, []Position{
		{0, 0, 0}, {0, 0, 1},
		{0, 1, 0}, {0, 1, 1}, {0, 1, 2},
		{1, 0, 0},
	}, got)

	visits := 0
	doc.Walk(func(Position, Word) bool {
		visits++
		return visits < 3
	})
	assert.Equal(t, 3, visits)
}

func TestTextAndStats(t *testing.T) {
	doc := sampleDocument()

	assert.Equal(t, "Invoice #123\nTotal: 42.00 EUR\n\nInvoice", doc.Text())

	lines, words := doc.Stats()
	assert.Equal(t, 3, lines)
	assert.Equal(t, 6, words)

	avg, ok := doc.AverageConfidence()
	require.True(t, ok)
	assert.InDelta(t, (0.99+0.95+0.9+0.8+0.7+0.97)/6, avg, 1e-9)
}

func TestConfidenceOfClamps(t *testing.T) {
	assert.Equal(t, Confidence{Value: 1, Valid: true}, ConfidenceOf(1.2))
	assert.Equal(t, Confidence{Value: 0, Valid: true}, ConfidenceOf(-0.1))
	assert.False(t, NoConfidence.Valid)
}
