package service

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"breakout_bot/internal/models"
)

// oneOrMany Tradier отдаёт объект вместо массива, если элемент один.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*o = nil
		return nil
	case b[0] == '[':
		var many []T
		if err := sonic.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	default:
		var one T
		if err := sonic.Unmarshal(b, &one); err != nil {
			return err
		}
		*o = oneOrMany[T]{one}
		return nil
	}
}

type Quote struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	PrevClose float64 `json:"prevclose"`
	Volume    int64   `json:"volume"`
	TradeDate int64   `json:"trade_date"` // unix ms
}

func (q Quote) TradedAt() time.Time {
	if q.TradeDate <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(q.TradeDate)
}

type quotesResponse struct {
	Quotes *struct {
		Quote oneOrMany[Quote] `json:"quote"`
	} `json:"quotes"`
}

// Quotes котировки по символам. Неизвестные символы просто отсутствуют в ответе.
func (c *Client) Quotes(ctx context.Context, symbols ...string) (map[string]Quote, error) {
	var resp quotesResponse
	q := url.Values{"symbols": {strings.Join(symbols, ",")}}
	if err := c.get(ctx, "/v1/markets/quotes", q, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Quote, len(symbols))
	if resp.Quotes == nil {
		return out, nil
	}
	for _, qt := range resp.Quotes.Quote {
		out[strings.ToUpper(qt.Symbol)] = qt
	}
	return out, nil
}

// Snapshotter источник снапшотов для фида: базовый актив + VIX одним запросом.
type Snapshotter struct {
	c          *Client
	underlying string
	vix        string
}

func NewSnapshotter(c *Client, underlying, vixSymbol string) *Snapshotter {
	return &Snapshotter{c: c, underlying: strings.ToUpper(underlying), vix: strings.ToUpper(vixSymbol)}
}

func (s *Snapshotter) FetchSnapshot(ctx context.Context) (models.MarketSnapshot, error) {
	quotes, err := s.c.Quotes(ctx, s.underlying, s.vix)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	u, ok := quotes[s.underlying]
	if !ok || u.Last <= 0 {
		return models.MarketSnapshot{}, errors.Errorf("no last price for %s", s.underlying)
	}

	snap := models.MarketSnapshot{
		Symbol:    s.underlying,
		Timestamp: s.c.now(),
		Price:     u.Last,
	}
	// нет VIX: снапшот всё равно публикуем, движок сам решит по свежести
	if v, ok := quotes[s.vix]; ok && v.Last > 0 {
		snap.VIX = v.Last
		snap.VIXAt = v.TradedAt()
		if snap.VIXAt.IsZero() || snap.VIXAt.After(snap.Timestamp) {
			snap.VIXAt = snap.Timestamp
		}
	}
	return snap, nil
}
