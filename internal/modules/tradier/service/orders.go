package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"breakout_bot/internal/models"
	"breakout_bot/pkg/tracing"
)

type orderResponse struct {
	Order *struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
	Errors *struct {
		Error oneOrMany[string] `json:"error"`
	} `json:"errors"`
}

type orderStatusResponse struct {
	Order *struct {
		ID           int64   `json:"id"`
		Status       string  `json:"status"`
		AvgFillPrice float64 `json:"avg_fill_price"`
		ExecQuantity float64 `json:"exec_quantity"`
	} `json:"order"`
}

// Executor рыночные ордера по опционам одного счёта.
type Executor struct {
	c          *Client
	account    string
	underlying string
}

func NewExecutor(c *Client, accountNumber, underlying string) *Executor {
	return &Executor{c: c, account: accountNumber, underlying: strings.ToUpper(underlying)}
}

func (e *Executor) Open(ctx context.Context, symbol string, _ models.OptionType, qty int64) (models.Fill, error) {
	return e.place(ctx, "buy_to_open", symbol, qty)
}

func (e *Executor) Close(ctx context.Context, symbol string, qty int64) (models.Fill, error) {
	return e.place(ctx, "sell_to_close", symbol, qty)
}

func (e *Executor) place(ctx context.Context, side, symbol string, qty int64) (models.Fill, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tradier.order")
	defer span.Finish()
	span.SetTag("side", side)
	span.SetTag("symbol", symbol)

	if e.account == "" {
		return models.Fill{}, errors.New("tradier account number is not configured")
	}
	if qty <= 0 {
		return models.Fill{}, errors.Errorf("order quantity %d <= 0", qty)
	}

	form := url.Values{
		"class":         {"option"},
		"symbol":        {e.underlying},
		"option_symbol": {symbol},
		"side":          {side},
		"quantity":      {strconv.FormatInt(qty, 10)},
		"type":          {"market"},
		"duration":      {"day"},
	}

	var resp orderResponse
	path := fmt.Sprintf("/v1/accounts/%s/orders", e.account)
	if err := e.c.post(ctx, path, form, &resp); err != nil {
		return models.Fill{}, tracing.Fail(span, errors.Wrapf(err, "%s %s x%d", side, symbol, qty))
	}
	if resp.Errors != nil && len(resp.Errors.Error) > 0 {
		return models.Fill{}, tracing.Fail(span, errors.Errorf("%s %s rejected: %s", side, symbol, strings.Join(resp.Errors.Error, "; ")))
	}
	if resp.Order == nil || resp.Order.ID == 0 {
		return models.Fill{}, errors.Errorf("%s %s: empty order response", side, symbol)
	}

	fill := models.Fill{
		OrderID:  strconv.FormatInt(resp.Order.ID, 10),
		Symbol:   symbol,
		Quantity: qty,
		FilledAt: e.c.now(),
	}
	// цена исполнения не критична: без неё движок считает по котировке
	if price, err := e.fillPrice(ctx, resp.Order.ID); err == nil {
		fill.Price = price
	}
	return fill, nil
}

func (e *Executor) fillPrice(ctx context.Context, orderID int64) (float64, error) {
	var resp orderStatusResponse
	path := fmt.Sprintf("/v1/accounts/%s/orders/%d", e.account, orderID)
	if err := e.c.get(ctx, path, nil, &resp); err != nil {
		return 0, err
	}
	if resp.Order == nil || resp.Order.Status != "filled" {
		return 0, errors.New("order not filled yet")
	}
	return resp.Order.AvgFillPrice, nil
}
