package entity

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is an executed grid order, persisted in the fills table.
type Fill struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     string          `db:"order_id" json:"order_id"`
	OrderLinkID sql.NullString  `db:"order_link_id" json:"order_link_id"`
	Symbol      string          `db:"symbol" json:"symbol"`
	Side        OrderSide       `db:"side" json:"side"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Qty         decimal.Decimal `db:"qty" json:"qty"`
	Fee         decimal.Decimal `db:"fee" json:"fee"`
	FeeCurrency sql.NullString  `db:"fee_currency" json:"fee_currency"`
	Timestamp   int64           `db:"timestamp" json:"timestamp"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

func (f Fill) TableName() string {
	return "fills"
}

type FillEvent struct {
	RetryCount int  `json:"retry"`
	Data       Fill `json:"data"`
}

// BotLog is an operational event record in the bot_logs table.
type BotLog struct {
	ID        int64          `db:"id" json:"id"`
	EventType string         `db:"event_type" json:"event_type"`
	Symbol    sql.NullString `db:"symbol" json:"symbol"`
	Message   string         `db:"message" json:"message"`
	Details   string         `db:"details" json:"details"`
	Timestamp int64          `db:"timestamp" json:"timestamp"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

func (b BotLog) TableName() string {
	return "bot_logs"
}

// ProfitStats summarizes recorded fills for one symbol.
type ProfitStats struct {
	Symbol          string          `json:"symbol"`
	TotalFills      int64           `json:"total_fills"`
	BuyCount        int64           `json:"buy_count"`
	SellCount       int64           `json:"sell_count"`
	TotalBuyQty     decimal.Decimal `json:"total_buy_qty"`
	TotalSellQty    decimal.Decimal `json:"total_sell_qty"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	TotalEarned     decimal.Decimal `json:"total_earned"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	EstimatedProfit decimal.Decimal `json:"estimated_profit"`
}
