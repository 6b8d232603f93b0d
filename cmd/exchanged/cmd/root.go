// Package cmd holds exchanged's cobra command tree, trimmed from
// VictorVVedtion-perp-dex/cmd/perpdexd/cmd's root-command pattern: a
// single in-process classroom server has none of that binary's
// chain/keyring/genesis machinery, so only the logging setup and the
// persistent-flag convention survive the trim.
package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logPretty bool
)

// NewRootCmd builds exchanged's root command and wires its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exchanged",
		Short: "Classroom Exchange - a multi-tenant simulated trading exchange",
		Long: `exchanged runs simulated trading sessions for classroom use: a
matching engine, portfolio accounting, a price simulator, and rule-based
trading bots, wired together for one lesson at a time.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configureLogging()
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "use zerolog's human-readable console writer instead of JSON")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReplayCmd())
	return root
}

func configureLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if logPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
