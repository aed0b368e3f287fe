package models

import "time"

type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionContract кандидат из опционной цепочки.
type OptionContract struct {
	Symbol       string     `json:"symbol"`
	Underlying   string     `json:"underlying"`
	Type         OptionType `json:"type"`
	Strike       float64    `json:"strike"`
	Expiration   time.Time  `json:"expiration"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
}

// BidAskRatio bid/ask, 0 если ask не положительный.
func (c OptionContract) BidAskRatio() float64 {
	if c.Ask <= 0 {
		return 0
	}
	return c.Bid / c.Ask
}
