package models

import "time"

type ExitReason string

const (
	ExitEmergencyStop ExitReason = "emergency_stop"
	ExitStopLoss      ExitReason = "stop_loss"
	ExitMaxHold       ExitReason = "max_hold"
	ExitCloseBuffer   ExitReason = "close_buffer"
	ExitProfitTarget  ExitReason = "profit_target"
	ExitForced        ExitReason = "forced"
)

// Position открытая позиция аккаунта. Стоп и тейк фиксируются при открытии.
type Position struct {
	TradeID    int64      `json:"trade_id"`
	Symbol     string     `json:"symbol"`
	Underlying string     `json:"underlying"`
	Side       OptionType `json:"side"`
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`

	EntryPrice float64   `json:"entry_price"`
	Quantity   int64     `json:"quantity"`
	OpenedAt   time.Time `json:"opened_at"`
	EntryCost  float64   `json:"entry_cost"` // премия + комиссии входа

	StopLossPrice float64 `json:"stop_loss_price"`
	TargetPrice   float64 `json:"target_price"`

	Regime    Regime    `json:"regime"`
	Direction Direction `json:"direction"`

	LastMark   float64   `json:"last_mark"`
	LastMarkAt time.Time `json:"last_mark_at"`
}

// MarketValue стоимость позиции по цене опциона.
func (p *Position) MarketValue(mark float64) float64 {
	return mark * ContractMultiplier * float64(p.Quantity)
}

// ClosedTrade итог закрытой сделки.
type ClosedTrade struct {
	Position  Position   `json:"position"`
	ExitPrice float64    `json:"exit_price"`
	ExitValue float64    `json:"exit_value"`
	ExitFees  float64    `json:"exit_fees"`
	PnL       float64    `json:"pnl"`
	Reason    ExitReason `json:"reason"`
	ClosedAt  time.Time  `json:"closed_at"`
}

// Fill ответ исполнителя ордера.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"` // 0 если брокер не вернул цену
	FilledAt time.Time `json:"filled_at"`
}

const ContractMultiplier = 100.0
