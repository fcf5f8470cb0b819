package repository

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/shopspring/decimal"
)

type FillRepository struct {
	db *sqlx.DB
}

func NewFillRepository(db *sqlx.DB) *FillRepository {
	return &FillRepository{db: db}
}

func (r *FillRepository) Create(ctx context.Context, fill *entity.Fill) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(fill.TableName()).
		Columns(
			"order_id",
			"order_link_id",
			"symbol",
			"side",
			"price",
			"qty",
			"fee",
			"fee_currency",
			"timestamp",
			"created_at",
		).
		Values(
			fill.OrderID,
			fill.OrderLinkID,
			fill.Symbol,
			fill.Side,
			fill.Price,
			fill.Qty,
			fill.Fee,
			fill.FeeCurrency,
			fill.Timestamp,
			fill.CreatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err != nil {
		return err
	}

	fill.ID = id

	return nil
}

func (r *FillRepository) GetBySymbol(ctx context.Context, symbol string) ([]entity.Fill, error) {
	var fills []entity.Fill
	err := r.db.SelectContext(ctx, &fills, "SELECT * FROM fills WHERE symbol = $1 ORDER BY timestamp DESC", symbol)
	if err != nil {
		return nil, err
	}

	return fills, nil
}

// GetProfitStats aggregates recorded fills into the per-symbol profit
// summary. Profit is earned minus spent minus fees, commissions of open
// positions included.
func (r *FillRepository) GetProfitStats(ctx context.Context, symbol string) (*entity.ProfitStats, error) {
	row := struct {
		TotalFills   int64           `db:"total_fills"`
		BuyCount     int64           `db:"buy_count"`
		SellCount    int64           `db:"sell_count"`
		TotalBuyQty  decimal.Decimal `db:"total_buy_qty"`
		TotalSellQty decimal.Decimal `db:"total_sell_qty"`
		TotalSpent   decimal.Decimal `db:"total_spent"`
		TotalEarned  decimal.Decimal `db:"total_earned"`
		TotalFees    decimal.Decimal `db:"total_fees"`
	}{}

	query := `SELECT
	COUNT(*) AS total_fills,
	COUNT(*) FILTER (WHERE side = 'Buy') AS buy_count,
	COUNT(*) FILTER (WHERE side = 'Sell') AS sell_count,
	COALESCE(SUM(qty) FILTER (WHERE side = 'Buy'), 0) AS total_buy_qty,
	COALESCE(SUM(qty) FILTER (WHERE side = 'Sell'), 0) AS total_sell_qty,
	COALESCE(SUM(price * qty) FILTER (WHERE side = 'Buy'), 0) AS total_spent,
	COALESCE(SUM(price * qty) FILTER (WHERE side = 'Sell'), 0) AS total_earned,
	COALESCE(SUM(fee), 0) AS total_fees
FROM fills
WHERE symbol = $1`

	err := r.db.GetContext(ctx, &row, query, symbol)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return &entity.ProfitStats{
		Symbol:          symbol,
		TotalFills:      row.TotalFills,
		BuyCount:        row.BuyCount,
		SellCount:       row.SellCount,
		TotalBuyQty:     row.TotalBuyQty,
		TotalSellQty:    row.TotalSellQty,
		TotalSpent:      row.TotalSpent,
		TotalEarned:     row.TotalEarned,
		TotalFees:       row.TotalFees,
		EstimatedProfit: row.TotalEarned.Sub(row.TotalSpent).Sub(row.TotalFees),
	}, nil
}
