package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type ExchangeName string

const (
	ExchangeBybit ExchangeName = "bybit"
)

// Ticker is the last-price snapshot for one symbol.
type Ticker struct {
	Symbol       string
	LastPrice    decimal.Decimal
	HighPrice24h decimal.Decimal
	LowPrice24h  decimal.Decimal
}

type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	PlaceOrder(ctx context.Context, order OrderRequest) (*PlacedOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderUpdate, error)
	SubscribeOrderUpdates(ctx context.Context, handler func(ctx context.Context, update OrderUpdate)) error
}
