package entity

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string
type OrderSide string
type OrderStatus string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"

	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"

	OrderStatusNew      OrderStatus = "New"
	OrderStatusFilled   OrderStatus = "Filled"
	OrderStatusCanceled OrderStatus = "Cancelled"
)

// OrderRequest is a new order to be submitted to the exchange.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Price       decimal.Decimal
	Qty         decimal.Decimal
	TimeInForce string
	OrderLinkID string
}

// PlacedOrder is the exchange acknowledgement of a submitted order.
type PlacedOrder struct {
	OrderID     string
	OrderLinkID string
}

// OrderUpdate is a private order stream event entry.
type OrderUpdate struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	OrderStatus string `json:"orderStatus"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	AvgPrice    string `json:"avgPrice"`
	ExecFee     string `json:"cumExecFee"`
	FeeCurrency string `json:"feeCurrency"`
}

// ActiveOrder is a grid order the bot is currently tracking, persisted in
// the active_orders table.
type ActiveOrder struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     string          `db:"order_id" json:"order_id"`
	OrderLinkID sql.NullString  `db:"order_link_id" json:"order_link_id"`
	Symbol      string          `db:"symbol" json:"symbol"`
	Side        OrderSide       `db:"side" json:"side"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Qty         decimal.Decimal `db:"qty" json:"qty"`
	GridLevel   sql.NullInt64   `db:"grid_level" json:"grid_level"`
	Status      OrderStatus     `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

func (o ActiveOrder) TableName() string {
	return "active_orders"
}
