package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/grid-bot/internal/entity"
)

type ActiveOrderRepository struct {
	db *sqlx.DB
}

func NewActiveOrderRepository(db *sqlx.DB) *ActiveOrderRepository {
	return &ActiveOrderRepository{db: db}
}

// Upsert records a tracked grid order, replacing any previous row with the
// same exchange order id.
func (r *ActiveOrderRepository) Upsert(ctx context.Context, order *entity.ActiveOrder) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(order.TableName()).
		Columns(
			"order_id",
			"order_link_id",
			"symbol",
			"side",
			"price",
			"qty",
			"grid_level",
			"status",
			"created_at",
			"updated_at",
		).
		Values(
			order.OrderID,
			order.OrderLinkID,
			order.Symbol,
			order.Side,
			order.Price,
			order.Qty,
			order.GridLevel,
			order.Status,
			order.CreatedAt,
			order.UpdatedAt,
		).
		Suffix(`ON CONFLICT (order_id)
DO UPDATE SET
	order_link_id = EXCLUDED.order_link_id,
	side = EXCLUDED.side,
	price = EXCLUDED.price,
	qty = EXCLUDED.qty,
	grid_level = EXCLUDED.grid_level,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *ActiveOrderRepository) Delete(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM active_orders WHERE order_id = $1", orderID)
	return err
}

func (r *ActiveOrderRepository) GetBySymbol(ctx context.Context, symbol string) ([]entity.ActiveOrder, error) {
	var orders []entity.ActiveOrder
	err := r.db.SelectContext(ctx, &orders, "SELECT * FROM active_orders WHERE symbol = $1 ORDER BY price ASC", symbol)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *ActiveOrderRepository) GetAll(ctx context.Context) ([]entity.ActiveOrder, error) {
	var orders []entity.ActiveOrder
	err := r.db.SelectContext(ctx, &orders, "SELECT * FROM active_orders ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}

	return orders, nil
}
