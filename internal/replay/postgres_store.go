package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
)

// Results are stored as BYTEA: JSONB would normalise the document and a
// replay must return the exact bytes of the first result.
const schema = `
CREATE TABLE IF NOT EXISTS idempotency_store (
	key         TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	result      BYTEA,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idempotency_store_expires_at_idx ON idempotency_store (expires_at);
`

// PostgresStore keeps records in the idempotency_store table. Claims are
// atomic through INSERT ... ON CONFLICT, so it is safe across processes.
type PostgresStore struct {
	db       *pgxpool.Pool
	ttl      time.Duration
	claimTTL time.Duration
}

func NewPostgresStore(db *pgxpool.Pool, ttl, claimTTL time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl, claimTTL: claimTTL}
}

// EnsureSchema creates the table and index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create idempotency_store: %w", err)
	}
	return nil
}

// Claim inserts a pending row, taking over an expired one if present.
func (s *PostgresStore) Claim(ctx context.Context, key string) (domain.Claim, error) {
	var claimed string
	err := s.db.QueryRow(ctx, `
		INSERT INTO idempotency_store (key, status, created_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
			SET status = EXCLUDED.status, result = NULL, created_at = now(), expires_at = EXCLUDED.expires_at
			WHERE idempotency_store.expires_at <= now()
		RETURNING key`,
		key, statusPending, s.claimTTL.Seconds()).Scan(&claimed)
	if err == nil {
		return domain.Claim{}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Claim{}, fmt.Errorf("claim %s: %w", key, err)
	}

	var status string
	var result []byte
	err = s.db.QueryRow(ctx,
		"SELECT status, result FROM idempotency_store WHERE key = $1",
		key).Scan(&status, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		// Released between the two statements; the caller claims again.
		return domain.Claim{Exists: true}, nil
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("read claim %s: %w", key, err)
	}
	if status != statusCompleted {
		return domain.Claim{Exists: true}, nil
	}
	return domain.Claim{Exists: true, Result: result}, nil
}

func (s *PostgresStore) Store(ctx context.Context, key string, result []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_store (key, status, result, created_at, expires_at)
		VALUES ($1, $2, $3, now(), now() + make_interval(secs => $4))
		ON CONFLICT (key) DO UPDATE
			SET status = EXCLUDED.status, result = EXCLUDED.result, expires_at = EXCLUDED.expires_at`,
		key, statusCompleted, result, s.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("store result %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM idempotency_store WHERE key = $1 AND status = $2",
		key, statusPending)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes expired rows.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM idempotency_store WHERE expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("purge expired records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
