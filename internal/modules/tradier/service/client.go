package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// APIError ответ Tradier с не-2xx статусом.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradier http %d: %s", e.Status, e.Body)
}

// Client тонкая обёртка над REST Tradier. Безопасен для конкурентного использования.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient baseURL без /v1: https://api.tradier.com или https://sandbox.tradier.com.
func NewClient(baseURL, token string, timeout time.Duration, loc *time.Location, opts ...Option) *Client {
	if loc == nil {
		loc = time.UTC
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		loc:     loc,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithToken копия клиента с другим токеном, транспорт общий.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(rb))}
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(rb, out); err != nil {
		return errors.Wrapf(err, "decode %s", req.URL.Path)
	}
	return nil
}
