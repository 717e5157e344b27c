package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriptions is the durable subscription and delivery store.
type PostgresSubscriptions struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptions wraps an existing pool.
func NewPostgresSubscriptions(pool *pgxpool.Pool) *PostgresSubscriptions {
	return &PostgresSubscriptions{pool: pool}
}

// EnsureSchema creates the webhook tables.
func (p *PostgresSubscriptions) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id                    text PRIMARY KEY,
			subscriber_id         text NOT NULL,
			callback_url          text NOT NULL,
			event_types           text[] NOT NULL,
			signing_secret        text NOT NULL,
			rate_limit_per_minute integer NOT NULL,
			max_attempts          integer NOT NULL,
			backoff_ms            integer NOT NULL,
			status                text NOT NULL,
			created_at            timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS webhook_subscriptions_status_idx
			ON webhook_subscriptions (status)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			delivery_id     text PRIMARY KEY,
			event_id        text NOT NULL,
			subscription_id text NOT NULL,
			event_type      text NOT NULL,
			attempt         integer NOT NULL,
			status          text NOT NULL,
			response_status integer,
			last_error      text,
			recorded_at     timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS webhook_deliveries_event_idx
			ON webhook_deliveries (event_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("webhook: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresSubscriptions) Create(ctx context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions
			(id, subscriber_id, callback_url, event_types, signing_secret,
			 rate_limit_per_minute, max_attempts, backoff_ms, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sub.ID, sub.SubscriberID, sub.CallbackURL, sub.EventTypes, sub.SigningSecret,
		sub.RateLimitPerMinute, sub.MaxAttempts, sub.BackoffMs, sub.Status, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("webhook: create subscription: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, subscriber_id, callback_url, event_types,
	signing_secret, rate_limit_per_minute, max_attempts, backoff_ms, status, created_at`

func (p *PostgresSubscriptions) Get(ctx context.Context, id string) (*Subscription, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("webhook: get subscription: %w", err)
	}
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return &subs[0], nil
}

func (p *PostgresSubscriptions) List(ctx context.Context) ([]Subscription, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("webhook: list subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

func (p *PostgresSubscriptions) ActiveForEvent(ctx context.Context, eventType string) ([]Subscription, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE status = $1 AND (event_types @> ARRAY[$2]::text[] OR event_types @> ARRAY['*']::text[])`,
		StatusActive, eventType)
	if err != nil {
		return nil, fmt.Errorf("webhook: active subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

func (p *PostgresSubscriptions) Update(ctx context.Context, sub *Subscription) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET
			callback_url = $2, event_types = $3, signing_secret = $4,
			rate_limit_per_minute = $5, max_attempts = $6, backoff_ms = $7, status = $8
		WHERE id = $1`,
		sub.ID, sub.CallbackURL, sub.EventTypes, sub.SigningSecret,
		sub.RateLimitPerMinute, sub.MaxAttempts, sub.BackoffMs, sub.Status)
	if err != nil {
		return fmt.Errorf("webhook: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresSubscriptions) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("webhook: delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Record upserts the delivery's latest status keyed by delivery_id.
func (p *PostgresSubscriptions) Record(ctx context.Context, d *Delivery) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries
			(delivery_id, event_id, subscription_id, event_type, attempt,
			 status, response_status, last_error, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (delivery_id) DO UPDATE SET
			attempt = EXCLUDED.attempt,
			status = EXCLUDED.status,
			response_status = EXCLUDED.response_status,
			last_error = EXCLUDED.last_error,
			recorded_at = now()`,
		d.DeliveryID, d.EventID, d.SubscriptionID, d.EventType, d.Attempt,
		d.Status, nullInt(d.ResponseStatus), nullStr(d.LastError))
	if err != nil {
		return fmt.Errorf("webhook: record delivery: %w", err)
	}
	return nil
}

func scanSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.SubscriberID, &sub.CallbackURL, &sub.EventTypes,
			&sub.SigningSecret, &sub.RateLimitPerMinute, &sub.MaxAttempts,
			&sub.BackoffMs, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("webhook: scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
