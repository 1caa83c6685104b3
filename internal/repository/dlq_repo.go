package repository

import (
	"context"
	"database/sql"

	"app/internal/model"
)

type DLQRepository interface {
	Create(ctx context.Context, event *model.DeadLetterEvent) error
}

type dlqRepository struct {
	db *sql.DB
}

func NewDLQRepository(db *sql.DB) DLQRepository {
	return &dlqRepository{db: db}
}

func (r *dlqRepository) Create(ctx context.Context, event *model.DeadLetterEvent) error {
	query := `
        INSERT INTO dead_letter_events (id, event_type, payload, reason, status)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.EventType,
		event.Payload,
		event.Reason,
		event.Status,
	)
	return err
}
