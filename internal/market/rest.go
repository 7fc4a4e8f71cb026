package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RESTClient wraps HTTP access to an upstream exchange's REST API,
// classifying every response into the typed outcomes declared in
// types.go. Grounded on the teacher's pkg/market/binance/rest.go shape,
// generalized to a pluggable base URL rather than a Binance-specific one.
type RESTClient struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
}

// NewRESTClient builds a REST client pointed at baseURL.
func NewRESTClient(baseURL, apiKey, apiSecret string) *RESTClient {
	return &RESTClient{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		APISecret: apiSecret,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, out any) error {
	u := c.BaseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return Fatal(fmt.Errorf("build request: %w", err))
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-KEY", c.APIKey)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Fatal(fmt.Errorf("request cancelled: %w", err))
		}
		return Transient(fmt.Errorf("do request: %w", err))
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return RateLimited(fmt.Errorf("upstream status %d", res.StatusCode))
	case res.StatusCode >= 500:
		return Transient(fmt.Errorf("upstream status %d", res.StatusCode))
	case res.StatusCode >= 400:
		return Fatal(fmt.Errorf("upstream status %d", res.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type tickerResponse struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	Ts        int64   `json:"ts"`
}

func (c *RESTClient) GetTicker(ctx context.Context, pair string) (Ticker, error) {
	var resp tickerResponse
	params := url.Values{"pair": {pair}}
	if err := c.do(ctx, http.MethodGet, "/ticker", params, &resp); err != nil {
		return Ticker{}, err
	}
	return Ticker{
		Pair:      pair,
		Price:     resp.Price,
		Volume24h: resp.Volume24h,
		Ts:        time.UnixMilli(resp.Ts),
	}, nil
}

type candleResponse struct {
	Open, High, Low, Close, Volume float64
	Ts                             int64
}

func (c *RESTClient) GetCandles(ctx context.Context, pair string, granularitySec, limit int) ([]Candle, error) {
	var resp []candleResponse
	params := url.Values{
		"pair":        {pair},
		"granularity": {strconv.Itoa(granularitySec)},
		"limit":       {strconv.Itoa(limit)},
	}
	if err := c.do(ctx, http.MethodGet, "/candles", params, &resp); err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(resp))
	for _, r := range resp {
		out = append(out, Candle{
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
			Ts: time.UnixMilli(r.Ts),
		})
	}
	return out, nil
}

func (c *RESTClient) GetAccounts(ctx context.Context) ([]AccountBalance, error) {
	var resp []AccountBalance
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RESTClient) GetBalance(ctx context.Context, currency string) (Balance, error) {
	var resp Balance
	params := url.Values{"currency": {currency}}
	if err := c.do(ctx, http.MethodGet, "/balance", params, &resp); err != nil {
		return Balance{}, err
	}
	return resp, nil
}

type orderRequest struct {
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	SizeQuote     float64 `json:"size_quote"`
	ClientOrderID string  `json:"client_order_id"`
}

func (c *RESTClient) PlaceOrder(ctx context.Context, pair string, side Side, sizeQuote float64, clientOrderID string) (OrderAck, error) {
	var resp OrderAck
	body, _ := json.Marshal(orderRequest{Pair: pair, Side: string(side), SizeQuote: sizeQuote, ClientOrderID: clientOrderID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return OrderAck{}, Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-KEY", c.APIKey)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return OrderAck{}, Transient(err)
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return OrderAck{}, RateLimited(fmt.Errorf("upstream status %d", res.StatusCode))
	case res.StatusCode >= 500:
		return OrderAck{}, Transient(fmt.Errorf("upstream status %d", res.StatusCode))
	case res.StatusCode >= 400:
		return OrderAck{}, Fatal(fmt.Errorf("upstream status %d", res.StatusCode))
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return OrderAck{}, Transient(err)
	}
	return resp, nil
}

func (c *RESTClient) GetOrder(ctx context.Context, exchangeOrderID string) (OrderStatus, error) {
	var resp OrderStatus
	params := url.Values{"exchange_order_id": {exchangeOrderID}}
	if err := c.do(ctx, http.MethodGet, "/order", params, &resp); err != nil {
		return OrderStatus{}, err
	}
	return resp, nil
}

var _ Client = (*RESTClient)(nil)
