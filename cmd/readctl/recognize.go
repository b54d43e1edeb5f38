package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

// queryFlags are the pattern and literal queries shared by several commands.
type queryFlags struct {
	patterns []string
	literals []string
	output   string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&q.patterns, "pattern", "p", nil, "pattern to match against every word (repeatable)")
	cmd.Flags().StringArrayVarP(&q.literals, "literal", "l", nil, "exact word to find (repeatable)")
	cmd.Flags().StringVarP(&q.output, "output", "o", outputText, "output format (text, json)")
}

func newRecognizeCmd(c *cli, mode processor.Mode) *cobra.Command {
	var q queryFlags

	short := map[processor.Mode]string{
		processor.ModeRead:      "Recognize a file with the asynchronous Read API",
		processor.ModeOCR:       "Recognize a file with the legacy synchronous OCR API",
		processor.ModeTesseract: "Recognize a file with the local Tesseract engine",
	}
	use := string(mode)
	if mode == processor.ModeTesseract {
		use = "local"
	}

	cmd := &cobra.Command{
		Use:   use + " <file>",
		Short: short[mode],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(q.output); err != nil {
				return err
			}
			proc, err := c.newProcessor(mode)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			result, err := proc.ProcessDocument(ctx, &processor.ProcessRequest{
				JobID:      uuid.NewString(),
				Filename:   filepath.Base(args[0]),
				FileBuffer: data,
				Mode:       mode,
				Patterns:   q.patterns,
				Literals:   q.literals,
			})
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), q.output, result)
		},
	}
	q.register(cmd)
	return cmd
}
