package models

import (
	"time"

	"github.com/creasty/defaults"
)

type ReferencePriceType string

const (
	ReferenceWindowHighLow ReferencePriceType = "window_high_low"
	ReferenceOpen          ReferencePriceType = "open"
	ReferencePrevClose     ReferencePriceType = "prev_close"
	ReferenceVWAP          ReferencePriceType = "vwap"
)

// BreakoutParams пороги пробоя и диапазон премии для одного режима волатильности.
type BreakoutParams struct {
	PctThreshold     float64 `yaml:"pct_threshold" validate:"gte=0"` // 0.4 => 0.4% от референса
	MinPoints        float64 `yaml:"min_points" validate:"gte=0"`
	MaxPoints        float64 `yaml:"max_points" validate:"gte=0"` // 0 = без потолка
	TargetMultiplier float64 `yaml:"target_multiplier" validate:"gt=1"`
	AskMin           float64 `yaml:"ask_min" validate:"gte=0"`
	AskMax           float64 `yaml:"ask_max" validate:"gtfield=AskMin"`
}

// Threshold эффективный порог движения для референсной цены.
func (p BreakoutParams) Threshold(reference float64) float64 {
	pct := p.PctThreshold / 100 * reference
	if pct > p.MinPoints {
		return pct
	}
	return p.MinPoints
}

type VIXConfig struct {
	Enabled bool          `yaml:"enabled" default:"true"`
	Level   float64       `yaml:"level" default:"25" validate:"gt=0"`
	MaxAge  time.Duration `yaml:"max_age" default:"5m"`

	High BreakoutParams `yaml:"high"`
	Low  BreakoutParams `yaml:"low"`
}

// StrategyConfig базовые параметры стратегии. Аккаунт может переопределить любое поле.
type StrategyConfig struct {
	Underlying  string  `yaml:"underlying" default:"SPY" validate:"required"`
	RiskPerSide float64 `yaml:"risk_per_side" default:"400" validate:"gt=0"`

	Window              time.Duration `yaml:"window" default:"30m" validate:"gt=0"`
	Cooldown            time.Duration `yaml:"cooldown" default:"20m" validate:"gte=0"`
	EarlySignalCooldown time.Duration `yaml:"early_signal_cooldown" default:"30m" validate:"gte=0"`
	OpenBuffer          time.Duration `yaml:"open_buffer" default:"15m" validate:"gte=0"`
	CloseBuffer         time.Duration `yaml:"close_buffer" default:"15m" validate:"gte=0"`
	MaxEntryTime        string        `yaml:"max_entry_time" default:"15:00" validate:"datetime=15:04"`
	MaxHold             time.Duration `yaml:"max_hold" default:"1h" validate:"gt=0"`

	StopLossPct    float64 `yaml:"stop_loss_pct" default:"12" validate:"gt=0,lt=100"`
	EmergencyStop  float64 `yaml:"emergency_stop" default:"2000" validate:"gt=0"`
	MaxDailyTrades int     `yaml:"max_daily_trades" default:"5" validate:"gt=0"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss" default:"1000" validate:"gt=0"`

	Commission     float64 `yaml:"commission" default:"0.65" validate:"gte=0"` // за контракт, за сторону
	Slippage       float64 `yaml:"slippage" default:"0.01" validate:"gte=0"`
	MinBidAskRatio float64 `yaml:"min_bid_ask_ratio" default:"0.5" validate:"gte=0,lte=1"`

	ReferencePrice ReferencePriceType `yaml:"reference_price" default:"window_high_low" validate:"oneof=window_high_low open prev_close vwap"`

	Breakout BreakoutParams `yaml:"breakout"`
	VIX      VIXConfig      `yaml:"vix"`
}

// SetDefaults вызывается creasty/defaults после тегов.
func (s *StrategyConfig) SetDefaults() {
	if s.Breakout == (BreakoutParams{}) {
		s.Breakout = BreakoutParams{
			PctThreshold:     0.4,
			MinPoints:        3.0,
			MaxPoints:        20.0,
			TargetMultiplier: 2.35,
			AskMin:           0.5,
			AskMax:           347.33,
		}
	}
	if s.VIX.High == (BreakoutParams{}) {
		s.VIX.High = BreakoutParams{
			PctThreshold:     0.4,
			MinPoints:        3.5,
			MaxPoints:        20.0,
			TargetMultiplier: 1.35,
			AskMin:           1.05,
			AskMax:           2.20,
		}
	}
	if s.VIX.Low == (BreakoutParams{}) {
		s.VIX.Low = BreakoutParams{
			PctThreshold:     0.4,
			MinPoints:        2.5,
			MaxPoints:        20.0,
			TargetMultiplier: 1.35,
			AskMin:           0.40,
			AskMax:           1.05,
		}
	}
}

// FeePerContract комиссия + проскальзывание на контракт за одну сторону.
func (s StrategyConfig) FeePerContract() float64 {
	return s.Commission + s.Slippage
}

// EntryDeadline время HH:MM последнего входа.
func (s StrategyConfig) EntryDeadline() (hour, minute int) {
	t, err := time.Parse("15:04", s.MaxEntryTime)
	if err != nil {
		return 15, 0
	}
	return t.Hour(), t.Minute()
}

// DefaultStrategy стратегия со всеми значениями по умолчанию.
func DefaultStrategy() StrategyConfig {
	var s StrategyConfig
	if err := defaults.Set(&s); err != nil {
		panic(err)
	}
	return s
}
