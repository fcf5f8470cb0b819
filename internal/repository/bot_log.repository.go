package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/grid-bot/internal/entity"
)

type BotLogRepository struct {
	db *sqlx.DB
}

func NewBotLogRepository(db *sqlx.DB) *BotLogRepository {
	return &BotLogRepository{db: db}
}

func (r *BotLogRepository) Create(ctx context.Context, log *entity.BotLog) error {
	if log.Details == "" {
		log.Details = "{}"
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(log.TableName()).
		Columns(
			"event_type",
			"symbol",
			"message",
			"details",
			"timestamp",
			"created_at",
		).
		Values(
			log.EventType,
			log.Symbol,
			log.Message,
			log.Details,
			log.Timestamp,
			log.CreatedAt,
		)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *BotLogRepository) GetByEventType(ctx context.Context, eventType string, limit uint64) ([]entity.BotLog, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("bot_logs").
		Where(sq.Eq{"event_type": eventType}).
		OrderBy("timestamp DESC")

	if limit > 0 {
		queryBuilder = queryBuilder.Limit(limit)
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var logs []entity.BotLog
	err = r.db.SelectContext(ctx, &logs, query, args...)
	if err != nil {
		return nil, err
	}

	return logs, nil
}
