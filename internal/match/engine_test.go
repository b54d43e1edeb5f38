package match

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

func buildDocument(pages ...[][]string) *document.Document {
	out := make([]document.Page, len(pages))
	for p, lines := range pages {
		for _, words := range lines {
			var l document.Line
			for i, text := range words {
				if i > 0 {
					l.Text += " "
				}
				l.Text += text
				l.Words = append(l.Words, document.Word{Text: text, Confidence: document.ConfidenceOf(0.9)})
			}
			out[p].Lines = append(out[p].Lines, l)
		}
	}
	return document.New(document.Metadata{Shape: document.ShapeRead}, out)
}

// countingSource records how many words were visited.
type countingSource struct {
	inner   Source
	visited int
}

func (c *countingSource) Walk(fn func(document.Position, document.Word) bool) {
	c.inner.Walk(func(pos document.Position, w document.Word) bool {
		c.visited++
		return fn(pos, w)
	})
}

func TestFindByLiteralAcrossPages(t *testing.T) {
	doc := buildDocument(
		[][]string{{"Invoice", "#1"}, {"Total"}},
		[][]string{{"Paid"}, {"see", "Invoice"}},
	)

	got := NewEngine().FindByLiteral(doc, "Invoice")

	require.Len(t, got, 2)
	assert.Equal(t, Record{Page: 0, Line: 0, Word: 0, Text: "Invoice", Confidence: document.ConfidenceOf(0.9)}, got[0])
	assert.Equal(t, document.Position{Page: 1, Line: 1, Word: 1}, got[1].Position())
}

func TestFindByLiteralSingleHitOnTwoPages(t *testing.T) {
	doc := buildDocument(
		[][]string{{"ACME", "Corp"}, {"Billing", "copy"}, {"Invoice", "#1"}},
		[][]string{{"invoice", "terms"}, {"Invoices", "due"}},
	)

	got := NewEngine().FindByLiteral(doc, "Invoice")

	require.Len(t, got, 1)
	assert.Equal(t, Record{Page: 0, Line: 2, Word: 0, Text: "Invoice", Confidence: document.ConfidenceOf(0.9)}, got[0])
}

func TestFindByLiteralIsExactAndCaseSensitive(t *testing.T) {
	doc := buildDocument([][]string{{"invoice", "Invoice:", "INVOICE", "Invoice"}})

	got := FindByLiteral(doc, "Invoice")

	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Word)
}

func TestFindByLiteralNoMatchIsEmptyNotNil(t *testing.T) {
	got := FindByLiteral(buildDocument([][]string{{"a"}}), "b")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFindFirstByPatternStopsAtFirstHit(t *testing.T) {
	doc := buildDocument([][]string{
		{"Ship", "to"},
		{"Springfield", "ZIP", "12345-6789"},
		{"Alt", "98765"},
	})
	src := &countingSource{inner: doc}

	got, ok, err := NewEngine().FindFirstByPattern(src, `\d{5}(-\d{4})?`)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12345-6789", got)
	assert.Equal(t, 5, src.visited, "walk must stop at the first matching word")
}

func TestFindFirstByPatternZIPOnSecondPage(t *testing.T) {
	doc := buildDocument(
		[][]string{{"Invoice", "#1"}, {"Order", "A-100"}},
		[][]string{
			{"Ship", "to"},
			{"Jane", "Doe"},
			{"Main", "Street"},
			{"Springfield"},
			{"IL", "USA", "ZIP", "62704"},
			{"Alt", "90210"},
		},
	)
	src := &countingSource{inner: doc}

	got, ok, err := NewEngine().FindFirstByPattern(src, `^\d{5}$`)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "62704", got)
	// 4 words on page 0, then page 1 up to (1,4,3).
	assert.Equal(t, 4+2+2+2+1+4, src.visited)

	recs, err := NewEngine().FindByPattern(doc, `^\d{5}$`)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, document.Position{Page: 1, Line: 4, Word: 3}, recs[0].Position())
}

func TestFindFirstByPatternNoMatch(t *testing.T) {
	got, ok, err := NewEngine().FindFirstByPattern(buildDocument([][]string{{"none"}}), `\d+`)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", got)
}

func TestFindByPatternOrderAndCount(t *testing.T) {
	doc := buildDocument(
		[][]string{{"A1", "b", "C22"}, {"x9"}},
		[][]string{{"none"}, {"7", "y"}},
	)
	e := NewEngine()

	got, err := e.FindByPattern(doc, `\d`)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "C22", "x9", "7"}, got.Texts())

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		less := prev.Page < cur.Page ||
			(prev.Page == cur.Page && prev.Line < cur.Line) ||
			(prev.Page == cur.Page && prev.Line == cur.Line && prev.Word < cur.Word)
		assert.True(t, less, "records must be in document order")
	}

	n, err := e.CountByPattern(doc, `\d`)
	require.NoError(t, err)
	assert.Equal(t, len(got), n)
}

func TestCountOccurrencesSumsMatchesPerWord(t *testing.T) {
	doc := buildDocument([][]string{{"a1b2", "c3", "d"}})
	e := NewEngine()

	words, err := e.CountByPattern(doc, `\d`)
	require.NoError(t, err)
	assert.Equal(t, 2, words)

	total, err := e.CountOccurrences(doc, `\d`)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestResultsAreIndependent(t *testing.T) {
	doc := buildDocument([][]string{{"Invoice", "42"}})
	e := NewEngine()

	literal := e.FindByLiteral(doc, "Invoice")
	pattern, err := e.FindByPattern(doc, `\d+`)
	require.NoError(t, err)

	literal[0].Text = "changed"
	assert.Equal(t, "42", pattern[0].Text)

	again := e.FindByLiteral(doc, "Invoice")
	assert.Equal(t, "Invoice", again[0].Text)
}

func TestInvalidPattern(t *testing.T) {
	doc := buildDocument([][]string{{"a"}})

	for _, syntax := range []Syntax{SyntaxRE2, SyntaxDotNet} {
		t.Run(string(syntax), func(t *testing.T) {
			e := NewEngine(WithSyntax(syntax))

			_, err := e.FindByPattern(doc, "([a-z")
			assert.ErrorIs(t, err, apperrors.ErrInvalidPattern)

			_, _, err = e.FindFirstByPattern(doc, "([a-z")
			assert.ErrorIs(t, err, apperrors.ErrInvalidPattern)

			_, err = e.CountByPattern(doc, "([a-z")
			assert.ErrorIs(t, err, apperrors.ErrInvalidPattern)
		})
	}
}

func TestDotNetSyntaxSupportsLookbehind(t *testing.T) {
	doc := buildDocument([][]string{{"EUR42", "USD17", "EUR9"}})

	_, err := NewEngine().FindByPattern(doc, `(?<=EUR)\d+`)
	require.ErrorIs(t, err, apperrors.ErrInvalidPattern, "RE2 has no look-behind")

	e := NewEngine(WithSyntax(SyntaxDotNet))
	got, err := e.FindByPattern(doc, `(?<=EUR)\d+`)
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR42", "EUR9"}, got.Texts())

	first, ok, err := e.FindFirstByPattern(doc, `(?<=EUR)\d+`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", first)

	total, err := e.CountOccurrences(buildDocument([][]string{{"aa-aa"}}), `(a)\1`)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestRecordsAt(t *testing.T) {
	rs := Records{{Text: "a"}, {Text: "b"}}

	r, err := rs.At(1)
	require.NoError(t, err)
	assert.Equal(t, "b", r.Text)

	_, err = rs.At(2)
	assert.ErrorIs(t, err, apperrors.ErrIndexOutOfRange)
	_, err = rs.At(-1)
	assert.ErrorIs(t, err, apperrors.ErrIndexOutOfRange)
}

func TestParseSyntax(t *testing.T) {
	s, ok := ParseSyntax("")
	assert.True(t, ok)
	assert.Equal(t, SyntaxRE2, s)

	s, ok = ParseSyntax("dotnet")
	assert.True(t, ok)
	assert.Equal(t, SyntaxDotNet, s)

	_, ok = ParseSyntax("pcre")
	assert.False(t, ok)
}

func TestEngineConcurrentUse(t *testing.T) {
	doc := buildDocument([][]string{{"a1", "b2", "c"}}, [][]string{{"d4"}})
	e := NewEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := e.CountByPattern(doc, `\d`)
			assert.NoError(t, err)
			assert.Equal(t, 3, n)
		}()
	}
	wg.Wait()
}

func TestRecordJSON(t *testing.T) {
	recs := Records{
		{Page: 1, Line: 4, Word: 3, Text: "62704", Confidence: document.ConfidenceOf(0.875)},
		{Page: 0, Line: 0, Word: 1, Text: "ATOMS", Confidence: document.NoConfidence},
	}

	data, err := json.Marshal(recs)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"page":1,"line":4,"word":3,"text":"62704","confidence":0.875},
		{"page":0,"line":0,"word":1,"text":"ATOMS","confidence":null}
	]`, string(data))

	var back Records
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, recs, back)
}
