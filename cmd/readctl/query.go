package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vision-read-worker/internal/clients"
	"github.com/adverant/nexus/vision-read-worker/internal/document"
	"github.com/adverant/nexus/vision-read-worker/internal/match"
)

func newQueryCmd(c *cli) *cobra.Command {
	var (
		q                queryFlags
		shape            string
		first, count     bool
		page, line, word int
	)

	cmd := &cobra.Command{
		Use:   "query <result.json>",
		Short: "Query a saved Read or OCR response without calling the service",
		Long: `query loads a saved service response and runs pattern or literal searches
over its words, or addresses a single page, line or word.

  readctl query result.json --pattern '^\d+$'
  readctl query result.json --first --pattern 'INV-\d+'
  readctl query result.json --page 0 --line 2
  readctl query legacy.json --shape ocr --literal TOTAL`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(q.output); err != nil {
				return err
			}
			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			doc, err := parseSaved(document.Shape(shape), body)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			flags := cmd.Flags()
			if flags.Changed("page") || flags.Changed("line") || flags.Changed("word") {
				return writePosition(out, doc, page, line, word, flags.Changed("line"), flags.Changed("word"))
			}

			engine := c.cfg.MatchEngine()
			switch {
			case first:
				for _, p := range q.patterns {
					text, ok, err := engine.FindFirstByPattern(doc, p)
					if err != nil {
						return err
					}
					if ok {
						fmt.Fprintf(out, "%s\t%s\n", p, text)
					} else {
						fmt.Fprintf(out, "%s\t(no match)\n", p)
					}
				}
				return nil
			case count:
				for _, p := range q.patterns {
					n, err := engine.CountByPattern(doc, p)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%d\n", p, n)
				}
				return nil
			}

			if len(q.patterns) == 0 && len(q.literals) == 0 {
				return writeSummary(out, q.output, doc)
			}
			results, err := runQueries(engine, doc, q.patterns, q.literals)
			if err != nil {
				return err
			}
			return writeMatches(out, q.output, results)
		},
	}
	q.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&shape, "shape", string(document.ShapeRead), "response shape (read, ocr)")
	flags.BoolVar(&first, "first", false, "print only the first word matching each pattern")
	flags.BoolVar(&count, "count", false, "print the number of words matching each pattern")
	flags.IntVar(&page, "page", 0, "page index")
	flags.IntVar(&line, "line", 0, "line index within the page")
	flags.IntVar(&word, "word", 0, "word index within the line")
	cmd.MarkFlagsMutuallyExclusive("first", "count")
	return cmd
}

func parseSaved(shape document.Shape, body []byte) (*document.Document, error) {
	switch shape {
	case document.ShapeRead:
		return clients.ParseReadDocument(body)
	case document.ShapeOCR:
		res, err := clients.ParseOCRResult(body)
		if err != nil {
			return nil, err
		}
		return res.ToDocument()
	}
	return nil, fmt.Errorf("unknown response shape %q", shape)
}

// queryResult is the matches of one pattern or literal.
type queryResult struct {
	Query   string        `json:"query"`
	Literal bool          `json:"literal,omitempty"`
	Matches match.Records `json:"matches"`
}

func runQueries(engine *match.Engine, doc *document.Document, patterns, literals []string) ([]queryResult, error) {
	results := make([]queryResult, 0, len(patterns)+len(literals))
	for _, p := range patterns {
		recs, err := engine.FindByPattern(doc, p)
		if err != nil {
			return nil, err
		}
		results = append(results, queryResult{Query: p, Matches: recs})
	}
	for _, l := range literals {
		results = append(results, queryResult{Query: l, Literal: true, Matches: engine.FindByLiteral(doc, l)})
	}
	return results, nil
}
