package match

import (
	"regexp"
	"time"

	"github.com/dlclark/regexp2"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// Syntax selects the regular expression dialect.
type Syntax string

const (
	// SyntaxRE2 is Go's regexp syntax. Matching is linear time.
	SyntaxRE2 Syntax = "re2"
	// SyntaxDotNet accepts .NET-style patterns (look-around, back-references).
	SyntaxDotNet Syntax = "dotnet"
)

// ParseSyntax maps a configuration value to a Syntax.
func ParseSyntax(s string) (Syntax, bool) {
	switch Syntax(s) {
	case SyntaxRE2, "":
		return SyntaxRE2, true
	case SyntaxDotNet:
		return SyntaxDotNet, true
	}
	return "", false
}

// Pattern is a compiled expression.
type Pattern interface {
	// Find returns the first match in s.
	Find(s string) (string, bool, error)
	// Count returns the number of non-overlapping matches in s.
	Count(s string) (int, error)
	String() string
}

type re2Pattern struct {
	re *regexp.Regexp
}

func (p re2Pattern) Find(s string) (string, bool, error) {
	loc := p.re.FindStringIndex(s)
	if loc == nil {
		return "", false, nil
	}
	return s[loc[0]:loc[1]], true, nil
}

func (p re2Pattern) Count(s string) (int, error) {
	return len(p.re.FindAllStringIndex(s, -1)), nil
}

func (p re2Pattern) String() string { return p.re.String() }

type dotNetPattern struct {
	re *regexp2.Regexp
}

func (p dotNetPattern) Find(s string) (string, bool, error) {
	m, err := p.re.FindStringMatch(s)
	if err != nil {
		return "", false, err
	}
	if m == nil {
		return "", false, nil
	}
	return m.String(), true, nil
}

func (p dotNetPattern) Count(s string) (int, error) {
	n := 0
	m, err := p.re.FindStringMatch(s)
	for m != nil && err == nil {
		n++
		m, err = p.re.FindNextMatch(m)
	}
	return n, err
}

func (p dotNetPattern) String() string { return p.re.String() }

func compile(expr string, syntax Syntax, timeout time.Duration) (Pattern, error) {
	switch syntax {
	case SyntaxDotNet:
		re, err := regexp2.Compile(expr, regexp2.None)
		if err != nil {
			return nil, apperrors.NewPatternError(expr, err)
		}
		if timeout > 0 {
			re.MatchTimeout = timeout
		}
		return dotNetPattern{re: re}, nil
	default:
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, apperrors.NewPatternError(expr, err)
		}
		return re2Pattern{re: re}, nil
	}
}
