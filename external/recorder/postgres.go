package recorder

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calldeck/callscribe/internal/recorder"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS call_events (
		call_id TEXT NOT NULL,
		sort_key TEXT NOT NULL,
		event_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (call_id, sort_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_events_expiry ON call_events (expires_at)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// PostgresEventStore persists call events in a single table keyed by
// (call_id, sort_key). Conflicting inserts are replays and are discarded,
// which gives the idempotency the port requires.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEventStore(pool *pgxpool.Pool) recorder.EventStore {
	return &PostgresEventStore{pool: pool}
}

func (s *PostgresEventStore) Put(ctx context.Context, rec recorder.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_events (call_id, sort_key, event_type, created_at, expires_at, payload)
		 VALUES ($1, $2, $3, $4, TO_TIMESTAMP($5), $6)
		 ON CONFLICT (call_id, sort_key) DO NOTHING`,
		rec.CallID, rec.SortKey, string(rec.EventType), rec.CreatedAt, rec.ExpiresAt, rec.Payload)
	return err
}
