package market

import "context"

// Client is the black-box upstream adapter (spec §6). The Coordinator is
// its only authorized caller; RateGate and Cache have no knowledge of it.
type Client interface {
	GetTicker(ctx context.Context, pair string) (Ticker, error)
	GetCandles(ctx context.Context, pair string, granularitySec, limit int) ([]Candle, error)
	GetAccounts(ctx context.Context) ([]AccountBalance, error)
	GetBalance(ctx context.Context, currency string) (Balance, error)
	PlaceOrder(ctx context.Context, pair string, side Side, sizeQuote float64, clientOrderID string) (OrderAck, error)
	GetOrder(ctx context.Context, exchangeOrderID string) (OrderStatus, error)
}
