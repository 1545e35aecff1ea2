package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "signalrun"
	version = "v1.2.0"
)

// Exit codes: 0 clean, 1 unrecoverable error, 130 interrupted.
const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Chat-signal pipeline: track crypto calls and learn channel reputation",
		Version: version,
		Long: `signalrun ingests chat messages from configured channels, extracts token
mentions, resolves prices across market-data providers and tracks each call's
outcome so per-channel reputation can be learned from what actually happened.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (trace|debug|info|warn|error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: bootstrap, realtime monitoring, tracking",
		RunE:  runPipeline,
	}
	runCmd.Flags().Bool("dry-run", false, "Use the in-memory fake transport instead of the websocket client")

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay recent channel history through the pipeline and exit",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().String("channel", "", "Backfill a single channel id (default: all configured)")
	backfillCmd.Flags().Int("limit", 0, "Messages per channel (default: configured scraper limit)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitError)
	}
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(parsed)
	} else {
		log.Warn().Str("level", level).Msg("unknown log level, keeping default")
	}
}
