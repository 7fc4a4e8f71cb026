package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient generates deterministic synthetic ticker/candle data for local
// development and tests, grounded on the teacher's random-walk price feed
// but seeded per pair so repeated calls within a test are reproducible.
type MockClient struct {
	mu      sync.Mutex
	rngs    map[string]*rand.Rand
	prices  map[string]float64
	orders  map[string]OrderAck
	filled  map[string]OrderStatus
	accounts map[string]AccountBalance

	// Seed is the base seed; each pair gets Seed plus a base-31 hash of
	// the pair string for determinism.
	Seed int64
	// StartPrice is the initial price for any pair not seen before.
	StartPrice float64
}

// NewMockClient builds a MockClient with sane defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		rngs:     make(map[string]*rand.Rand),
		prices:   make(map[string]float64),
		orders:   make(map[string]OrderAck),
		filled:   make(map[string]OrderStatus),
		accounts: defaultAccounts(),
		Seed:       1,
		StartPrice: 30000,
	}
}

func defaultAccounts() map[string]AccountBalance {
	return map[string]AccountBalance{
		"USD": {Currency: "USD", Available: 100000, Hold: 0},
		"BTC": {Currency: "BTC", Available: 5, Hold: 0},
		"ETH": {Currency: "ETH", Available: 50, Hold: 0},
	}
}

func (m *MockClient) rngFor(pair string) *rand.Rand {
	if r, ok := m.rngs[pair]; ok {
		return r
	}
	var seed int64
	for _, c := range pair {
		seed = seed*31 + int64(c)
	}
	r := rand.New(rand.NewSource(m.Seed + seed))
	m.rngs[pair] = r
	m.prices[pair] = m.StartPrice
	return r
}

func (m *MockClient) GetTicker(_ context.Context, pair string) (Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rngFor(pair)
	price := m.prices[pair]
	price = math.Max(0.01, price+(r.Float64()*2-1)*price*0.002)
	m.prices[pair] = price

	return Ticker{
		Pair:      pair,
		Price:     price,
		Volume24h: 1_000_000 * (0.8 + r.Float64()*0.4),
		Ts:        time.Now(),
	}, nil
}

// GetCandles synthesizes `limit` candles ending at the current simulated
// price, ascending by timestamp as spec §6 requires.
func (m *MockClient) GetCandles(_ context.Context, pair string, granularitySec, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rngFor(pair)
	price := m.prices[pair]
	out := make([]Candle, limit)
	now := time.Now()

	// Walk backwards from the current price so the most recent candle's
	// close matches the ticker, then reverse into ascending order.
	for i := limit - 1; i >= 0; i-- {
		open := price - (r.Float64()*2-1)*price*0.0015
		high := math.Max(open, price) + r.Float64()*price*0.0008
		low := math.Min(open, price) - r.Float64()*price*0.0008
		out[i] = Candle{
			Open: open, High: high, Low: low, Close: price,
			Volume: 10 + r.Float64()*90,
			Ts:     now.Add(-time.Duration(limit-i) * time.Duration(granularitySec) * time.Second),
		}
		price = open
	}
	m.prices[pair] = m.prices[pair] // ticker continues independently
	return out, nil
}

func (m *MockClient) GetAccounts(_ context.Context) ([]AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AccountBalance, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *MockClient) GetBalance(_ context.Context, currency string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[currency]
	if !ok {
		return Balance{Currency: currency}, nil
	}
	return Balance{Currency: a.Currency, Available: a.Available, Hold: a.Hold}, nil
}

func (m *MockClient) PlaceOrder(_ context.Context, pair string, side Side, sizeQuote float64, clientOrderID string) (OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	price := m.prices[pair]
	if price == 0 {
		price = m.StartPrice
	}
	ack := OrderAck{ExchangeOrderID: "mock-" + uuid.NewString(), Status: "FILLED"}
	m.orders[ack.ExchangeOrderID] = ack
	m.filled[ack.ExchangeOrderID] = OrderStatus{
		Status:    "FILLED",
		FilledQty: sizeQuote / price,
		AvgPrice:  price,
		Fee:       sizeQuote * 0.001,
	}
	return ack, nil
}

func (m *MockClient) GetOrder(_ context.Context, exchangeOrderID string) (OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.filled[exchangeOrderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("unknown order %s", exchangeOrderID)
	}
	return st, nil
}

var _ Client = (*MockClient)(nil)
