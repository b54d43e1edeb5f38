package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/adverant/nexus/vision-read-worker/internal/clients"
	"github.com/adverant/nexus/vision-read-worker/internal/config"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

// cli carries the state shared by all subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}
	// Logs share stdout with command output.
	c.v.SetDefault("LOG_LEVEL", "warn")

	root := &cobra.Command{
		Use:   "readctl",
		Short: "Recognize documents with the Computer Vision Read API",
		Long: `readctl submits images and PDFs to the Computer Vision Read API, waits for
the result and runs pattern queries over the recognized words.

Configuration is read from flags, environment variables (VISION_ENDPOINT,
VISION_SUBSCRIPTION_KEY, POLL_TIMEOUT, ...), .env files and --config.

Examples:
  readctl read invoice.png --pattern '^\d{5}$'
  readctl ocr receipt.jpg --literal TOTAL
  readctl batch scans/*.png --concurrency 4 --output json
  readctl enqueue https://example.com/scan.pdf --backend asynq
  readctl query result.json --first --pattern 'INV-\d+'`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("endpoint", "", "Computer Vision endpoint")
	flags.String("key", "", "Computer Vision subscription key")
	flags.String("regex-syntax", "re2", "pattern syntax (re2, dotnet)")
	flags.Duration("poll-timeout", 2*time.Minute, "wall-clock budget for polling a Read operation")
	flags.Int("poll-max-attempts", 120, "maximum number of status fetches per operation")
	bindFlags(c.v, flags, map[string]string{
		"LOG_LEVEL":               "log-level",
		"VISION_ENDPOINT":         "endpoint",
		"VISION_SUBSCRIPTION_KEY": "key",
		"REGEX_SYNTAX":            "regex-syntax",
		"POLL_TIMEOUT":            "poll-timeout",
		"POLL_MAX_ATTEMPTS":       "poll-max-attempts",
	})

	root.AddCommand(
		newRecognizeCmd(c, processor.ModeRead),
		newRecognizeCmd(c, processor.ModeOCR),
		newRecognizeCmd(c, processor.ModeTesseract),
		newBatchCmd(c),
		newEnqueueCmd(c),
		newQueryCmd(c),
	)
	return root
}

// bindFlags binds configuration keys to flags. Unknown flags are a programming error.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

func (c *cli) load() error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.LoadWithoutValidation(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.LogLevel)
	c.cfg = cfg
	return nil
}

// newProcessor builds a processor for mode. Only the remote modes need a
// valid service configuration.
func (c *cli) newProcessor(mode processor.Mode) (*processor.DocumentProcessor, error) {
	procCfg := &processor.ProcessorConfig{
		Service:     clients.NewVisionClient(c.cfg.VisionConfig()),
		Engine:      c.cfg.MatchEngine(),
		Policy:      c.cfg.PollPolicy(),
		ReadOptions: c.cfg.ReadOptions(),
		Limits:      c.cfg.PreflightLimits(),
		DefaultMode: mode,
	}

	if mode == processor.ModeTesseract {
		tess, err := processor.NewTesseractOCR(&processor.TesseractConfig{Languages: c.cfg.Languages()})
		if err != nil {
			return nil, err
		}
		procCfg.Local = tess
	} else if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	return processor.NewDocumentProcessor(procCfg)
}
