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

func newBatchCmd(c *cli) *cobra.Command {
	var (
		q           queryFlags
		mode        string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Recognize several files concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(q.output); err != nil {
				return err
			}
			m, err := processor.ParseMode(mode)
			if err != nil {
				return err
			}
			proc, err := c.newProcessor(m)
			if err != nil {
				return err
			}

			reqs := make([]*processor.ProcessRequest, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				reqs = append(reqs, &processor.ProcessRequest{
					JobID:      uuid.NewString(),
					Filename:   filepath.Base(path),
					FileBuffer: data,
					Mode:       m,
					Patterns:   q.patterns,
					Literals:   q.literals,
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			items, err := proc.ProcessBatch(ctx, reqs, concurrency)
			if err != nil {
				return err
			}
			if err := writeBatch(cmd.OutOrStdout(), q.output, items); err != nil {
				return err
			}

			failed := 0
			for _, item := range items {
				if item.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(items))
			}
			return nil
		},
	}
	q.register(cmd)
	cmd.Flags().StringVarP(&mode, "mode", "m", string(processor.ModeRead), "recognition mode (read, ocr, tesseract)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "number of documents processed at once")
	return cmd
}
