package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-exchange/internal/bot"
	"classroom-exchange/internal/common"
	"classroom-exchange/internal/config"
	"classroom-exchange/internal/journal"
	"classroom-exchange/internal/market"
	"classroom-exchange/internal/session"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		lessonPath string
		journalOut string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one classroom session from a lesson file until it ends or is interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), lessonPath, journalOut)
		},
	}

	cmd.Flags().StringVar(&lessonPath, "lesson", "", "path to a lesson YAML file (required)")
	cmd.Flags().StringVar(&journalOut, "journal", "", "path to write a replayable journal file; empty disables journaling")
	_ = cmd.MarkFlagRequired("lesson")

	return cmd
}

func runServe(ctx context.Context, lessonPath, journalOut string) error {
	lesson, err := config.Load(lessonPath)
	if err != nil {
		return fmt.Errorf("load lesson: %w", err)
	}
	if err := lesson.Validate(); err != nil {
		return fmt.Errorf("invalid lesson: %w", err)
	}

	securities, err := lesson.BuildSecurities()
	if err != nil {
		return fmt.Errorf("build securities: %w", err)
	}
	marketCfg, err := lesson.MarketConfig()
	if err != nil {
		return fmt.Errorf("build market config: %w", err)
	}
	startingCash, err := lesson.StartingCashMoney()
	if err != nil {
		return fmt.Errorf("parse starting_cash: %w", err)
	}

	var sink common.JournalSink = journal.NewMemorySink()
	if journalOut != "" {
		fileSink, err := journal.NewFileSink(journalOut)
		if err != nil {
			return fmt.Errorf("open journal file: %w", err)
		}
		defer fileSink.Close()
		sink = fileSink
	}

	co := session.New(session.Config{
		SessionID:        lesson.SessionID,
		Securities:       securities,
		StartingCash:     startingCash,
		AllowShort:       lesson.AllowShort,
		PreventSelfCross: lesson.PreventSelfCross,
		Market:           marketCfg,
		RNG:              market.NewRand(lesson.Seed),
		Journal:          sink,
		Clock:            common.SystemClock{},
	})

	if err := co.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	rng := market.NewRand(lesson.Seed ^ 0xb0747)
	for _, botCfg := range lesson.Bots {
		co.RegisterUser(botCfg.UserID)

		maxPos, err := decimal.NewFromString(botCfg.MaxPosition)
		if err != nil {
			return fmt.Errorf("bots[%s].max_position: %w", botCfg.UserID, err)
		}
		orderSize, err := decimal.NewFromString(botCfg.OrderSize)
		if err != nil {
			return fmt.Errorf("bots[%s].order_size: %w", botCfg.UserID, err)
		}

		strategyCfg := bot.StrategyConfig{
			UserID: botCfg.UserID, SecurityID: botCfg.SecurityID,
			MaxPosition: maxPos, OrderSize: orderSize,
			TradeFrequency: botCfg.TradeFrequency, Aggressiveness: botCfg.Aggressiveness,
		}
		strategy, err := bot.NewStrategy(botCfg.Strategy, strategyCfg, rng)
		if err != nil {
			return fmt.Errorf("bots[%s]: %w", botCfg.UserID, err)
		}
		co.Bots().Register(strategyCfg, strategy)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := co.Start(runCtx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info().Str("session_id", lesson.SessionID).Int("bots", len(lesson.Bots)).Msg("session started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	dayDuration := time.Duration(marketCfg.MsPerDay) * time.Millisecond
	totalDuration := dayDuration * time.Duration(marketCfg.TotalDays)

	select {
	case sig := <-sigCh:
		log.Warn().Str("signal", sig.String()).Msg("interrupted, ending session early")
	case <-time.After(totalDuration + 2*time.Second):
		log.Info().Msg("lesson calendar finished")
	case <-runCtx.Done():
	}

	endCtx, endCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer endCancel()
	if err := co.End(endCtx); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	for _, userID := range co.Portfolio().Users() {
		snap, ok := co.Portfolio().Snapshot(userID)
		if !ok {
			continue
		}
		log.Info().Str("user_id", userID).Str("cash", snap.Cash.String()).Msg("final balance")
	}
	return nil
}
