package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// execute runs readctl with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestQuerySummary(t *testing.T) {
	out, err := execute(t, "query", "testdata/read_result.json")
	require.NoError(t, err)

	assert.Contains(t, out, "pages: 2  lines: 2  words: 3")
	assert.Contains(t, out, "1700x2200 pixel")
	assert.Contains(t, out, "8.5x11 inch")
	assert.Contains(t, out, "Invoice 2024-001")
}

func TestQuerySummaryPageDetails(t *testing.T) {
	out, err := execute(t, "query", "testdata/read_result.json", "--output", "json")
	require.NoError(t, err)

	var summary struct {
		Pages       int           `json:"pages"`
		PageDetails []pageSummary `json:"pageDetails"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Len(t, summary.PageDetails, summary.Pages)
	assert.Equal(t, pageSummary{Index: 0, Number: 1, Angle: 0.5, Width: 1700, Height: 2200, Unit: "pixel", Lines: 1}, summary.PageDetails[0])
	assert.Equal(t, pageSummary{Index: 1, Number: 2, Width: 8.5, Height: 11, Unit: "inch", Lines: 1}, summary.PageDetails[1])
}

func TestQueryPatternJSONKeys(t *testing.T) {
	out, err := execute(t, "query", "testdata/ocr_result.json", "--shape", "ocr", "--literal", "ATOMS", "--output", "json")
	require.NoError(t, err)

	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	require.Len(t, raw, 1)
	matches := raw[0]["matches"].([]interface{})
	require.Len(t, matches, 1)
	rec := matches[0].(map[string]interface{})
	assert.EqualValues(t, 1, rec["page"])
	assert.Equal(t, "ATOMS", rec["text"])
	assert.Contains(t, rec, "confidence")
	assert.Nil(t, rec["confidence"])
}

func TestQuerySummaryJSON(t *testing.T) {
	out, err := execute(t, "query", "testdata/ocr_result.json", "--shape", "ocr", "--output", "json")
	require.NoError(t, err)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "ocr", summary["shape"])
	assert.EqualValues(t, 2, summary["pages"])
	assert.EqualValues(t, 4, summary["words"])
	assert.NotContains(t, summary, "confidence")
}

func TestQueryPattern(t *testing.T) {
	out, err := execute(t, "query", "testdata/read_result.json", "--pattern", "^Inv", "--output", "json")
	require.NoError(t, err)

	var results []queryResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 2)
	assert.Equal(t, 0, results[0].Matches[0].Page)
	assert.Equal(t, 1, results[0].Matches[1].Page)
}

func TestQueryLiteralOnOCRShape(t *testing.T) {
	out, err := execute(t, "query", "testdata/ocr_result.json", "--shape", "ocr", "--literal", "EXCEPT")
	require.NoError(t, err)

	assert.Contains(t, out, "EXCEPT")
	assert.Contains(t, out, "0/1/1")
	// OCR words carry no confidence.
	assert.Contains(t, out, "-")
}

func TestQueryFirstAndCount(t *testing.T) {
	out, err := execute(t, "query", "testdata/read_result.json", "--first", "--pattern", `\d{4}-\d{3}`)
	require.NoError(t, err)
	assert.Equal(t, "\\d{4}-\\d{3}\t2024-001\n", out)

	out, err = execute(t, "query", "testdata/read_result.json", "--first", "--pattern", "^Total$")
	require.NoError(t, err)
	assert.Equal(t, "^Total$\t(no match)\n", out)

	out, err = execute(t, "query", "testdata/read_result.json", "--count", "--pattern", "Invoice")
	require.NoError(t, err)
	assert.Equal(t, "Invoice\t2\n", out)
}

func TestQueryFirstAndCountExclusive(t *testing.T) {
	_, err := execute(t, "query", "testdata/read_result.json", "--first", "--count", "--pattern", "x")
	assert.Error(t, err)
}

func TestQueryInvalidPattern(t *testing.T) {
	_, err := execute(t, "query", "testdata/read_result.json", "--pattern", "(unclosed")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPattern)
}

func TestQueryPosition(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"page", []string{"--page", "1"}, "page 1: 1 lines\n"},
		{"line", []string{"--page", "0", "--line", "0"}, "Invoice 2024-001\n"},
		{"word", []string{"--page", "0", "--line", "0", "--word", "1"}, "2024-001\t0.930\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"query", "testdata/read_result.json"}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestQueryPositionOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"page equal to count", []string{"--page", "2"}},
		{"negative page", []string{"--page", "-1"}},
		{"line", []string{"--page", "1", "--line", "1"}},
		{"word", []string{"--page", "0", "--line", "0", "--word", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"query", "testdata/read_result.json"}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrIndexOutOfRange)
		})
	}
}

func TestQueryUnknownShape(t *testing.T) {
	_, err := execute(t, "query", "testdata/read_result.json", "--shape", "pdf")
	assert.ErrorContains(t, err, `unknown response shape "pdf"`)
}

func TestQueryMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := execute(t, "query", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}
