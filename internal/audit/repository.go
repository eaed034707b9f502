package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo appends events to call_events.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, type, call_id, rider_id, actor_user_id, message, metadata, created_at)
VALUES (:id, :type, :call_id, :rider_id, :actor_user_id, :message, :metadata, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("append call event: %w", err)
	}
	return nil
}

// maxCallEvents caps one call's history; a call sees a handful of events.
const maxCallEvents = 500

func (r *PostgresRepo) ForCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, type, call_id, rider_id, actor_user_id, message, metadata, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at, id
LIMIT $2`
	var out []Event
	if err := r.db.SelectContext(ctx, &out, q, callID, maxCallEvents); err != nil {
		return nil, fmt.Errorf("list call events: %w", err)
	}
	return out, nil
}
