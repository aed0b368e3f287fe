package models

import "time"

type Direction string

const (
	DirectionNone Direction = ""
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// OptionSide контракт, который покупаем на пробой.
func (d Direction) OptionSide() OptionType {
	if d == DirectionDown {
		return OptionPut
	}
	return OptionCall
}

type Regime string

const (
	RegimeBase Regime = "base"
	RegimeHigh Regime = "high_volatility"
	RegimeLow  Regime = "low_volatility"
)

// Signal пробой диапазона окна. Живёт один шаг обработки.
type Signal struct {
	Symbol     string
	Direction  Direction
	Price      float64
	Reference  float64
	MovePoints float64
	MovePct    float64
	Threshold  float64
	Regime     Regime
	VIX        float64
	DetectedAt time.Time
}
