package cmd

import (
	"fmt"

	"classroom-exchange/internal/config"
	"classroom-exchange/internal/journal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var (
		journalPath string
		lessonPath  string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct final portfolios from a recorded journal file (P6 replay determinism)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(journalPath, lessonPath)
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "path to a journal file written by 'serve --journal' (required)")
	cmd.Flags().StringVar(&lessonPath, "lesson", "", "path to the lesson YAML the journal was recorded from, for starting_cash (required)")
	_ = cmd.MarkFlagRequired("journal")
	_ = cmd.MarkFlagRequired("lesson")

	return cmd
}

func runReplay(journalPath, lessonPath string) error {
	lesson, err := config.Load(lessonPath)
	if err != nil {
		return fmt.Errorf("load lesson: %w", err)
	}
	startingCash, err := lesson.StartingCashMoney()
	if err != nil {
		return fmt.Errorf("parse starting_cash: %w", err)
	}

	records, err := journal.ReadFile(journalPath)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	portfolios, err := journal.Replay(lesson.SessionID, startingCash, records)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	for userID, snap := range portfolios {
		log.Info().
			Str("user_id", userID).
			Str("cash", snap.Cash.String()).
			Int("positions", len(snap.Positions)).
			Msg("reconstructed portfolio")
	}
	return nil
}
