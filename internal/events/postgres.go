package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	version     TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS events_occurred_at_idx ON events (occurred_at);
`

// PostgresSink writes the audit trail of published events.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink wraps an existing pool; the caller owns its lifecycle.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// EnsureSchema creates the events table.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, eventsSchema); err != nil {
		return fmt.Errorf("events: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Append(ctx context.Context, evt Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (event_id, event_type, version, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.Type, evt.Version, evt.OccurredAt, []byte(evt.Payload))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Same envelope published twice; the audit row already exists.
			logging.Debug("events: duplicate event id", zap.String("event", evt.ID))
			return nil
		}
		return fmt.Errorf("events: append: %w", err)
	}
	return nil
}
