package models

import (
	"math"
	"time"
)

// MarketSnapshot один опрос котировок: цена базового актива и VIX.
// После публикации не меняется, подписчики получают копию.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`

	VIX   float64   `json:"vix"`
	VIXAt time.Time `json:"vix_at"` // время котировки VIX, zero = нет данных
}

// Valid проверяет что снапшот пригоден для обработки.
func (s MarketSnapshot) Valid() bool {
	if s.Timestamp.IsZero() {
		return false
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return false
	}
	if math.IsNaN(s.VIX) || s.VIX < 0 {
		return false
	}
	return true
}

// VIXFresh true если VIX есть и не старше maxAge относительно снапшота.
func (s MarketSnapshot) VIXFresh(maxAge time.Duration) bool {
	if s.VIX <= 0 || s.VIXAt.IsZero() {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return s.Timestamp.Sub(s.VIXAt) <= maxAge
}
