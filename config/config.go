// Package config loads and validates the engine configuration from a YAML
// or JSON file. Configuration is read once at startup; there is no hot
// reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stockpilot/broker"
)

// Config is the complete engine configuration.
type Config struct {
	Mode      string          `json:"mode" yaml:"mode"` // "paper"
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Markets   []string        `json:"markets" yaml:"markets"`
	Budget    BudgetConfig    `json:"budget" yaml:"budget"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Watchlist []WatchConfig   `json:"watchlist" yaml:"watchlist"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Telegram  TelegramConfig  `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	Paper     PaperConfig     `json:"paper" yaml:"paper"`
}

// BudgetConfig sizes the account.
type BudgetConfig struct {
	// Total KRW to trade with. 0 means use the whole account valuation.
	Total float64 `json:"total" yaml:"total"`
	// KRW per USD for sizing US orders.
	USDKRWRate float64 `json:"usd_krw_rate" yaml:"usd_krw_rate"`
}

// RiskConfig holds the circuit breakers and exit thresholds. Percentages
// are whole numbers: 5 means 5%.
type RiskConfig struct {
	StopLossPct                 float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct               float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	TrailingActivationPct       float64 `json:"trailing_activation_pct" yaml:"trailing_activation_pct"`
	TrailingStopPct             float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	DailyMaxLossPct             float64 `json:"daily_max_loss_pct" yaml:"daily_max_loss_pct"`
	ConsecutiveLossLimit        int     `json:"consecutive_loss_limit" yaml:"consecutive_loss_limit"`
	ConsecutiveLossCooldownMins int     `json:"consecutive_loss_cooldown_mins" yaml:"consecutive_loss_cooldown_mins"`
	MaxDailyTrades              int     `json:"max_daily_trades" yaml:"max_daily_trades"`
}

// ExecutionConfig holds the order placement options.
type ExecutionConfig struct {
	LimitOrderEnabled    bool    `json:"limit_order_enabled" yaml:"limit_order_enabled"`
	LimitBuyOffsetPct    float64 `json:"limit_buy_offset_pct" yaml:"limit_buy_offset_pct"`
	LimitTPOffsetPct     float64 `json:"limit_tp_offset_pct" yaml:"limit_tp_offset_pct"`
	LimitOrderTimeoutSec int     `json:"limit_order_timeout_sec" yaml:"limit_order_timeout_sec"`
	SplitBuyEnabled      bool    `json:"split_buy_enabled" yaml:"split_buy_enabled"`
	SplitBuyFirstRatio   float64 `json:"split_buy_first_ratio" yaml:"split_buy_first_ratio"`
	SplitBuyDipPct       float64 `json:"split_buy_dip_pct" yaml:"split_buy_dip_pct"`
	SplitSellEnabled     bool    `json:"split_sell_enabled" yaml:"split_sell_enabled"`
	SplitSellFirstRatio  float64 `json:"split_sell_first_ratio" yaml:"split_sell_first_ratio"`
}

// StrategyConfig selects the signal provider.
type StrategyConfig struct {
	Name        string  `json:"name" yaml:"name"`
	MinStrength float64 `json:"min_strength" yaml:"min_strength"`
	CandleCount int     `json:"candle_count" yaml:"candle_count"`
}

// ScheduleConfig holds the job cadence.
type ScheduleConfig struct {
	StrategyIntervalSec int `json:"strategy_interval_sec" yaml:"strategy_interval_sec"`
	RiskIntervalSec     int `json:"risk_interval_sec" yaml:"risk_interval_sec"`
	SettlementHour      int `json:"settlement_hour" yaml:"settlement_hour"`
}

// WatchConfig is one watchlist entry seeded into the journal at startup.
type WatchConfig struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Market string `json:"market" yaml:"market"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

// JournalConfig locates the SQLite journal.
type JournalConfig struct {
	DBPath        string `json:"db_path" yaml:"db_path"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

// TelegramConfig enables the Telegram notifier when both fields are set.
type TelegramConfig struct {
	BotToken string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
}

// Enabled reports whether the notifier should be constructed.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// PaperConfig seeds the paper broker.
type PaperConfig struct {
	StartingCash float64 `json:"starting_cash" yaml:"starting_cash"`
}

// LoadFromFile loads configuration from a file (YAML or JSON, by content).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, format chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ParsedMarkets converts the market strings, assuming Validate passed.
func (c *Config) ParsedMarkets() []broker.Market {
	out := make([]broker.Market, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, broker.Market(strings.ToUpper(m)))
	}
	return out
}

func validMarket(m string) bool {
	switch broker.Market(strings.ToUpper(m)) {
	case broker.KR, broker.US:
		return true
	}
	return false
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Mode != "paper" {
		return fmt.Errorf("mode must be 'paper', got %q", c.Mode)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	for _, m := range c.Markets {
		if !validMarket(m) {
			return fmt.Errorf("unknown market: %s", m)
		}
	}
	if c.Budget.Total < 0 {
		return fmt.Errorf("budget.total must not be negative")
	}
	if c.Budget.USDKRWRate <= 0 {
		return fmt.Errorf("budget.usd_krw_rate must be positive")
	}

	r := c.Risk
	if r.StopLossPct <= 0 || r.TakeProfitPct <= 0 {
		return fmt.Errorf("risk stop/take percentages must be positive")
	}
	if r.TrailingStopPct <= 0 || r.TrailingActivationPct <= 0 {
		return fmt.Errorf("risk trailing percentages must be positive")
	}
	if r.DailyMaxLossPct <= 0 {
		return fmt.Errorf("risk.daily_max_loss_pct must be positive")
	}
	if r.ConsecutiveLossLimit <= 0 || r.ConsecutiveLossCooldownMins <= 0 {
		return fmt.Errorf("risk consecutive-loss limit and cooldown must be positive")
	}
	if r.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be positive")
	}

	e := c.Execution
	if e.LimitOrderEnabled && e.LimitOrderTimeoutSec <= 0 {
		return fmt.Errorf("execution.limit_order_timeout_sec must be positive when limit orders are enabled")
	}
	if e.SplitBuyEnabled && (e.SplitBuyFirstRatio <= 0 || e.SplitBuyFirstRatio >= 1) {
		return fmt.Errorf("execution.split_buy_first_ratio must be between 0 and 1")
	}
	if e.SplitBuyEnabled && e.SplitBuyDipPct <= 0 {
		return fmt.Errorf("execution.split_buy_dip_pct must be positive")
	}
	if e.SplitSellEnabled && (e.SplitSellFirstRatio <= 0 || e.SplitSellFirstRatio >= 1) {
		return fmt.Errorf("execution.split_sell_first_ratio must be between 0 and 1")
	}

	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Strategy.MinStrength < 0 || c.Strategy.MinStrength > 1 {
		return fmt.Errorf("strategy.min_strength must be between 0 and 1")
	}

	s := c.Schedule
	if s.StrategyIntervalSec <= 0 || s.RiskIntervalSec <= 0 {
		return fmt.Errorf("schedule intervals must be positive")
	}
	if s.SettlementHour < 0 || s.SettlementHour > 23 {
		return fmt.Errorf("schedule.settlement_hour must be 0..23")
	}

	for _, w := range c.Watchlist {
		if w.Symbol == "" {
			return fmt.Errorf("watchlist entries need a symbol")
		}
		if !validMarket(w.Market) {
			return fmt.Errorf("watchlist %s: unknown market %q", w.Symbol, w.Market)
		}
	}

	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal.retention_days must not be negative")
	}
	if c.Paper.StartingCash <= 0 {
		return fmt.Errorf("paper.starting_cash must be positive")
	}
	return nil
}

// Default returns a configuration with sensible defaults. Loading merges
// the file over these, so a sparse config stays valid.
func Default() *Config {
	return &Config{
		Mode:     "paper",
		LogLevel: "info",
		Markets:  []string{"KR"},
		Budget: BudgetConfig{
			Total:      0, // whole account
			USDKRWRate: 1350,
		},
		Risk: RiskConfig{
			StopLossPct:                 5,
			TakeProfitPct:               10,
			TrailingActivationPct:       5,
			TrailingStopPct:             3,
			DailyMaxLossPct:             3,
			ConsecutiveLossLimit:        3,
			ConsecutiveLossCooldownMins: 60,
			MaxDailyTrades:              10,
		},
		Execution: ExecutionConfig{
			LimitOrderEnabled:    true,
			LimitBuyOffsetPct:    0.3,
			LimitTPOffsetPct:     0.3,
			LimitOrderTimeoutSec: 300,
			SplitBuyEnabled:      true,
			SplitBuyFirstRatio:   0.5,
			SplitBuyDipPct:       2,
			SplitSellEnabled:     true,
			SplitSellFirstRatio:  0.5,
		},
		Strategy: StrategyConfig{
			Name:        "ma_cross",
			MinStrength: 0.3,
			CandleCount: 60,
		},
		Schedule: ScheduleConfig{
			StrategyIntervalSec: 60,
			RiskIntervalSec:     30,
			SettlementHour:      16,
		},
		Journal: JournalConfig{
			DBPath:        "./stockpilot.db",
			RetentionDays: 90,
		},
		Paper: PaperConfig{
			StartingCash: 10_000_000,
		},
	}
}
