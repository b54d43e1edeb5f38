// Package match searches recognized documents for words by regular
// expression or by exact text.
//
// Every function walks the source once in document order and returns
// a fresh result slice. An Engine holds only its options, so one engine can
// serve any number of goroutines.
package match

import (
	"time"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// Source is anything that can be walked word by word in document order.
type Source interface {
	Walk(fn func(document.Position, document.Word) bool)
}

// Record is one matching word and its position.
type Record struct {
	Page       int                 `json:"page"`
	Line       int                 `json:"line"`
	Word       int                 `json:"word"`
	Text       string              `json:"text"`
	Confidence document.Confidence `json:"confidence"` // null when the recognizer reports none
}

// Position returns the record's address in the source document.
func (r Record) Position() document.Position {
	return document.Position{Page: r.Page, Line: r.Line, Word: r.Word}
}

// Records is a result list with bounds-checked access.
type Records []Record

// At returns record i.
func (rs Records) At(i int) (Record, error) {
	if i < 0 || i >= len(rs) {
		return Record{}, apperrors.NewIndexError("match", i, len(rs))
	}
	return rs[i], nil
}

// Texts returns the text of every record.
func (rs Records) Texts() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Text
	}
	return out
}

// DefaultMatchTimeout bounds a single .NET-syntax match.
const DefaultMatchTimeout = time.Second

// Engine runs pattern and literal searches.
type Engine struct {
	syntax       Syntax
	matchTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithSyntax selects the pattern dialect. The default is SyntaxRE2.
func WithSyntax(s Syntax) Option {
	return func(e *Engine) { e.syntax = s }
}

// WithMatchTimeout bounds a single match for SyntaxDotNet.
func WithMatchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.matchTimeout = d }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{syntax: SyntaxRE2, matchTimeout: DefaultMatchTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Syntax returns the engine's pattern dialect.
func (e *Engine) Syntax() Syntax {
	return e.syntax
}

// Compile compiles expr in the engine's dialect.
func (e *Engine) Compile(expr string) (Pattern, error) {
	return compile(expr, e.syntax, e.matchTimeout)
}

// FindByPattern returns every word whose text contains a match of pattern.
func (e *Engine) FindByPattern(src Source, pattern string) (Records, error) {
	p, err := e.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return FindByCompiled(src, p)
}

// FindByCompiled is FindByPattern for an already compiled pattern.
func FindByCompiled(src Source, p Pattern) (Records, error) {
	out := Records{}
	var matchErr error
	src.Walk(func(pos document.Position, w document.Word) bool {
		_, ok, err := p.Find(w.Text)
		if err != nil {
			matchErr = apperrors.NewPatternError(p.String(), err)
			return false
		}
		if ok {
			out = append(out, record(pos, w))
		}
		return true
	})
	if matchErr != nil {
		return nil, matchErr
	}
	return out, nil
}

// FindByLiteral returns every word whose text equals literal exactly.
// Comparison is case-sensitive.
func (e *Engine) FindByLiteral(src Source, literal string) Records {
	return FindByLiteral(src, literal)
}

// FindByLiteral is the engine-free form of Engine.FindByLiteral.
func FindByLiteral(src Source, literal string) Records {
	out := Records{}
	src.Walk(func(pos document.Position, w document.Word) bool {
		if w.Text == literal {
			out = append(out, record(pos, w))
		}
		return true
	})
	return out
}

// FindFirstByPattern returns the matched substring of the first word that
// matches. The walk stops at that word.
func (e *Engine) FindFirstByPattern(src Source, pattern string) (string, bool, error) {
	p, err := e.Compile(pattern)
	if err != nil {
		return "", false, err
	}

	var (
		found    string
		ok       bool
		matchErr error
	)
	src.Walk(func(_ document.Position, w document.Word) bool {
		s, hit, err := p.Find(w.Text)
		if err != nil {
			matchErr = apperrors.NewPatternError(pattern, err)
			return false
		}
		if hit {
			found, ok = s, true
			return false
		}
		return true
	})
	if matchErr != nil {
		return "", false, matchErr
	}
	return found, ok, nil
}

// CountByPattern returns the number of words that FindByPattern would return.
func (e *Engine) CountByPattern(src Source, pattern string) (int, error) {
	records, err := e.FindByPattern(src, pattern)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// CountOccurrences returns the total number of matches over all words.
// A word with two matches counts twice.
func (e *Engine) CountOccurrences(src Source, pattern string) (int, error) {
	p, err := e.Compile(pattern)
	if err != nil {
		return 0, err
	}

	total := 0
	var matchErr error
	src.Walk(func(_ document.Position, w document.Word) bool {
		n, err := p.Count(w.Text)
		if err != nil {
			matchErr = apperrors.NewPatternError(pattern, err)
			return false
		}
		total += n
		return true
	})
	if matchErr != nil {
		return 0, matchErr
	}
	return total, nil
}

func record(pos document.Position, w document.Word) Record {
	return Record{
		Page:       pos.Page,
		Line:       pos.Line,
		Word:       pos.Word,
		Text:       w.Text,
		Confidence: w.Confidence,
	}
}
