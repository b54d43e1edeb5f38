package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	"github.com/adverant/nexus/vision-read-worker/internal/match"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func checkOutput(format string) error {
	if format != outputText && format != outputJSON {
		return fmt.Errorf("unknown output format %q (want %s or %s)", format, outputText, outputJSON)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResult(w io.Writer, format string, result *processor.ProcessResult) error {
	if format == outputJSON {
		return writeJSON(w, result)
	}

	fmt.Fprintf(w, "job:        %s\n", result.JobID)
	fmt.Fprintf(w, "mode:       %s\n", result.Mode)
	if result.OperationID != "" {
		fmt.Fprintf(w, "operation:  %s\n", result.OperationID)
	}
	fmt.Fprintf(w, "pages:      %d\n", result.PageCount)
	fmt.Fprintf(w, "lines:      %d\n", result.LineCount)
	fmt.Fprintf(w, "words:      %d\n", result.WordCount)
	if result.HasConfidence {
		fmt.Fprintf(w, "confidence: %.3f\n", result.Confidence)
	}
	fmt.Fprintf(w, "time:       %dms\n", result.ProcessingTimeMs)

	if len(result.PatternMatches) > 0 || len(result.LiteralMatches) > 0 {
		fmt.Fprintln(w)
		writeMatchTable(w, "pattern", result.PatternMatches)
		writeMatchTable(w, "literal", result.LiteralMatches)
	}
	return nil
}

func writeMatchTable(w io.Writer, kind string, matches map[string]match.Records) {
	if len(matches) == 0 {
		return
	}
	keys := make([]string, 0, len(matches))
	for k := range matches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		for _, r := range matches[k] {
			fmt.Fprintf(tw, "%s\t%s\t%d/%d/%d\t%s\n", kind, k, r.Page, r.Line, r.Word, r.Text)
		}
	}
	tw.Flush()
}

func writeBatch(w io.Writer, format string, items []processor.BatchItem) error {
	if format == outputJSON {
		type row struct {
			Filename string                   `json:"filename"`
			Result   *processor.ProcessResult `json:"result,omitempty"`
			Error    string                   `json:"error,omitempty"`
		}
		rows := make([]row, len(items))
		for i, item := range items {
			rows[i] = row{Filename: item.Request.Filename, Result: item.Result}
			if item.Err != nil {
				rows[i].Error = item.Err.Error()
			}
		}
		return writeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tPAGES\tWORDS\tMATCHES\tSTATUS")
	for _, item := range items {
		if item.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", item.Request.Filename, item.Err)
			continue
		}
		r := item.Result
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\tok\n", item.Request.Filename, r.PageCount, r.WordCount, r.MatchCount)
	}
	return tw.Flush()
}

// pageSummary is the layout of one page without its text.
type pageSummary struct {
	Index  int     `json:"index"`
	Number int     `json:"number"`
	Angle  float64 `json:"angle"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   string  `json:"unit,omitempty"`
	Lines  int     `json:"lines"`
}

func summarizePages(doc *document.Document) []pageSummary {
	pages := doc.Pages()
	out := make([]pageSummary, len(pages))
	for i, p := range pages {
		out[i] = pageSummary{
			Index:  p.Index,
			Number: p.Number,
			Angle:  p.Angle,
			Width:  p.Width,
			Height: p.Height,
			Unit:   p.Unit,
			Lines:  len(p.Lines),
		}
	}
	return out
}

func writeSummary(w io.Writer, format string, doc *document.Document) error {
	lines, words := doc.Stats()
	avg, ok := doc.AverageConfidence()
	pages := summarizePages(doc)
	if format == outputJSON {
		summary := map[string]interface{}{
			"shape":       doc.Metadata().Shape,
			"pages":       doc.PageCount(),
			"pageDetails": pages,
			"lines":       lines,
			"words":       words,
			"text":        doc.Text(),
		}
		if ok {
			summary["confidence"] = avg
		}
		return writeJSON(w, summary)
	}

	fmt.Fprintf(w, "pages: %d  lines: %d  words: %d", doc.PageCount(), lines, words)
	if ok {
		fmt.Fprintf(w, "  confidence: %.3f", avg)
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range pages {
		fmt.Fprintf(tw, "page %d\t#%d\t%gx%g %s\tangle %g\t%d lines\n", p.Index, p.Number, p.Width, p.Height, p.Unit, p.Angle, p.Lines)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, doc.Text())
	return nil
}

func writeMatches(w io.Writer, format string, results []queryResult) error {
	if format == outputJSON {
		return writeJSON(w, results)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range results {
		for _, r := range res.Matches {
			fmt.Fprintf(tw, "%s\t%d/%d/%d\t%s\t%s\n", res.Query, r.Page, r.Line, r.Word, r.Text, formatConfidence(r.Confidence))
		}
	}
	return tw.Flush()
}

// writePosition prints the addressed page, line or word. Out-of-range
// indices surface as index errors.
func writePosition(w io.Writer, doc *document.Document, page, line, word int, hasLine, hasWord bool) error {
	switch {
	case hasWord:
		text, err := doc.WordText(page, line, word)
		if err != nil {
			return err
		}
		conf, err := doc.WordConfidence(page, line, word)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", text, formatConfidence(conf))
	case hasLine:
		text, err := doc.LineText(page, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, text)
	default:
		n, err := doc.LineCount(page)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "page %d: %d lines\n", page, n)
	}
	return nil
}

func formatConfidence(c document.Confidence) string {
	if !c.Valid {
		return "-"
	}
	return fmt.Sprintf("%.3f", c.Value)
}
