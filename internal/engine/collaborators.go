package engine

import (
	"context"
	"time"

	"breakout_bot/internal/models"
)

type OptionChainSource interface {
	FetchChain(ctx context.Context, underlying string, asOf time.Time) ([]models.OptionContract, error)
}

// OrderExecutor движок никогда не шлёт второй Open, пока позиция открыта.
type OrderExecutor interface {
	Open(ctx context.Context, symbol string, side models.OptionType, qty int64) (models.Fill, error)
	Close(ctx context.Context, symbol string, qty int64) (models.Fill, error)
}

type Metrics interface {
	SignalDetected(account string, regime models.Regime)
	PositionOpened(account string)
	PositionClosed(account string, reason models.ExitReason, pnl float64)
}

type nopMetrics struct{}

func (nopMetrics) SignalDetected(string, models.Regime)              {}
func (nopMetrics) PositionOpened(string)                             {}
func (nopMetrics) PositionClosed(string, models.ExitReason, float64) {}
