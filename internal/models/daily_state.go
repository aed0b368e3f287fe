package models

import "time"

// DailyState счётчики торгового дня. Переживает рестарт процессора внутри дня.
type DailyState struct {
	DayID          string    `json:"day_id"`
	TradeCount     int       `json:"trade_count"`
	RealizedPnL    float64   `json:"realized_pnl"`
	CumulativeLoss float64   `json:"cumulative_loss"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	LastTradeAt    time.Time `json:"last_trade_at"`
	Halted         bool      `json:"halted"`
	HaltReason     string    `json:"halt_reason,omitempty"`
}

// NewDailyState пустое состояние на день dayID.
func NewDailyState(dayID string) DailyState {
	return DailyState{DayID: dayID}
}

// RealizedLoss реализованный убыток дня, 0 если день в плюсе.
func (d DailyState) RealizedLoss() float64 {
	if d.RealizedPnL >= 0 {
		return 0
	}
	return -d.RealizedPnL
}

// Record учитывает закрытую сделку.
func (d *DailyState) Record(pnl float64) {
	d.RealizedPnL += pnl
	if pnl > 0 {
		d.Wins++
		return
	}
	d.Losses++
	d.CumulativeLoss += -pnl
}

func (d *DailyState) Halt(reason string) {
	if d.Halted {
		return
	}
	d.Halted = true
	d.HaltReason = reason
}

// AccountState то, что сохраняется между рестартами движка.
type AccountState struct {
	AccountID   string     `json:"account_id"`
	Daily       DailyState `json:"daily"`
	Position    *Position  `json:"position,omitempty"`
	NextTradeID int64      `json:"next_trade_id"`
	Totals      Totals     `json:"totals"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Totals накопительная статистика аккаунта за всё время работы.
type Totals struct {
	Signals  int     `json:"signals"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
}

func (t *Totals) Record(pnl float64) {
	t.TotalPnL += pnl
	if pnl > 0 {
		t.Wins++
	} else {
		t.Losses++
	}
}

// WinRate процент прибыльных сделок.
func (t Totals) WinRate() float64 {
	closed := t.Wins + t.Losses
	if closed == 0 {
		return 0
	}
	return float64(t.Wins) / float64(closed) * 100
}
