// Package config loads a classroom lesson's configuration from a YAML
// file, grounded on 0xtitan6-polymarket-mm's internal/config.Load
// (viper + mapstructure tags, a Validate pass after Unmarshal).
package config

import (
	"fmt"
	"strings"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/market"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Lesson is the top-level configuration for one classroom session,
// maps directly to the YAML file structure.
type Lesson struct {
	SessionID        string           `mapstructure:"session_id"`
	StartingCash     string           `mapstructure:"starting_cash"`
	AllowShort       bool             `mapstructure:"allow_short"`
	PreventSelfCross bool             `mapstructure:"prevent_self_cross"`
	Seed             uint64           `mapstructure:"seed"`
	Securities       []SecurityLesson `mapstructure:"securities"`
	Market           MarketLesson     `mapstructure:"market"`
	Bots             []BotLesson      `mapstructure:"bots"`
	Journal          JournalLesson    `mapstructure:"journal"`
	Logging          LoggingLesson    `mapstructure:"logging"`
}

// SecurityLesson describes one tradeable security for the lesson.
type SecurityLesson struct {
	ID          string  `mapstructure:"id"`
	Symbol      string  `mapstructure:"symbol"`
	TickSize    string  `mapstructure:"tick_size"`
	MinQuantity string  `mapstructure:"min_quantity"`
	StartPrice  float64 `mapstructure:"start_price"`
	Volatility  float64 `mapstructure:"volatility"`
	Drift       float64 `mapstructure:"drift"`
	SpreadBps   float64 `mapstructure:"spread_bps"`
}

// MarketLesson tunes the Market Simulator's calendar.
type MarketLesson struct {
	TotalDays     int     `mapstructure:"total_days"`
	MsPerDay      int     `mapstructure:"ms_per_day"`
	TicksPerDay   int     `mapstructure:"ticks_per_day"`
	NewsFrequency float64 `mapstructure:"news_frequency"`
	LiquidityQty  string  `mapstructure:"liquidity_qty"`
}

// BotLesson configures one strategy instance for the Bot Manager.
type BotLesson struct {
	UserID         string  `mapstructure:"user_id"`
	SecurityID     string  `mapstructure:"security_id"`
	Strategy       string  `mapstructure:"strategy"` // momentum | mean_reversion | random | market_maker | liquidity_provider
	MaxPosition    string  `mapstructure:"max_position"`
	OrderSize      string  `mapstructure:"order_size"`
	TradeFrequency float64 `mapstructure:"trade_frequency"`
	Aggressiveness float64 `mapstructure:"aggressiveness"`
}

// JournalLesson is parsed from the lesson file but not read by serve,
// which picks the journal sink from its --journal flag instead.
type JournalLesson struct {
	Sink    string `mapstructure:"sink"` // none | memory | nats
	NATSURL string `mapstructure:"nats_url"`
}

// LoggingLesson is parsed from the lesson file but not applied; zerolog's
// level and output format come from the --log-level/--log-pretty flags.
type LoggingLesson struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads a Lesson from a YAML file, with CLASSROOM_*-prefixed
// environment variables overriding any field.
func Load(path string) (*Lesson, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CLASSROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var lesson Lesson
	if err := v.Unmarshal(&lesson); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &lesson, nil
}

// Validate checks required fields and value ranges before a session
// starts, so a malformed lesson fails at load time rather than mid-class.
func (l *Lesson) Validate() error {
	if l.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(l.Securities) == 0 {
		return fmt.Errorf("at least one security is required")
	}
	if _, err := decimal.NewFromString(l.StartingCash); err != nil {
		return fmt.Errorf("starting_cash: %w", err)
	}
	if l.Market.TotalDays <= 0 {
		return fmt.Errorf("market.total_days must be > 0")
	}
	if l.Market.TicksPerDay <= 0 {
		return fmt.Errorf("market.ticks_per_day must be > 0")
	}
	for _, sec := range l.Securities {
		if sec.ID == "" {
			return fmt.Errorf("securities: id is required")
		}
		if _, err := decimal.NewFromString(sec.TickSize); err != nil {
			return fmt.Errorf("securities[%s].tick_size: %w", sec.ID, err)
		}
	}
	for _, bot := range l.Bots {
		switch bot.Strategy {
		case "momentum", "mean_reversion", "random", "market_maker", "liquidity_provider":
		default:
			return fmt.Errorf("bots[%s]: unknown strategy %q", bot.UserID, bot.Strategy)
		}
	}
	return nil
}

// BuildSecurities converts the lesson's security list into
// common.Security values for wiring into engine.New.
func (l *Lesson) BuildSecurities() ([]common.Security, error) {
	out := make([]common.Security, 0, len(l.Securities))
	for _, sec := range l.Securities {
		tick, err := decimal.NewFromString(sec.TickSize)
		if err != nil {
			return nil, fmt.Errorf("securities[%s].tick_size: %w", sec.ID, err)
		}
		minQty, err := decimal.NewFromString(sec.MinQuantity)
		if err != nil {
			minQty = decimal.NewFromInt(1)
		}
		out = append(out, common.Security{ID: sec.ID, Symbol: sec.Symbol, TickSize: tick, MinQuantity: minQty})
	}
	return out, nil
}

// MarketConfig converts the lesson's market and security tuning into a
// market.Config for wiring into market.New.
func (l *Lesson) MarketConfig() (market.Config, error) {
	liquidity, err := decimal.NewFromString(l.Market.LiquidityQty)
	if err != nil {
		return market.Config{}, fmt.Errorf("market.liquidity_qty: %w", err)
	}

	secs := make([]market.SecurityConfig, 0, len(l.Securities))
	for _, sec := range l.Securities {
		tick, err := decimal.NewFromString(sec.TickSize)
		if err != nil {
			return market.Config{}, fmt.Errorf("securities[%s].tick_size: %w", sec.ID, err)
		}
		secs = append(secs, market.SecurityConfig{
			SecurityID: sec.ID, TickSize: tick, StartPrice: sec.StartPrice,
			Volatility: sec.Volatility, Drift: sec.Drift, SpreadBps: sec.SpreadBps,
		})
	}

	return market.Config{
		TotalDays: l.Market.TotalDays, MsPerDay: l.Market.MsPerDay, TicksPerDay: l.Market.TicksPerDay,
		NewsFrequency: l.Market.NewsFrequency, LiquidityQty: liquidity, Securities: secs, Seed: l.Seed,
	}, nil
}

// StartingCashMoney parses StartingCash into a common.Money.
func (l *Lesson) StartingCashMoney() (common.Money, error) {
	return decimal.NewFromString(l.StartingCash)
}
