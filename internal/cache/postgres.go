package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/customdata/internal/db"
)

// PostgresStore keeps entries in the catalog_cache table.
type PostgresStore struct {
	conn   *db.Connection
	config Config
	now    func() time.Time
}

func NewPostgresStore(conn *db.Connection, config Config) *PostgresStore {
	return &PostgresStore{conn: conn, config: config, now: time.Now}
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.conn.Pool.QueryRow(ctx,
		`SELECT value FROM catalog_cache WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		p.config.Prefix+key, p.now(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, miss(key)
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, nil
}

// Set upserts the entry and prunes expired rows in the same transaction.
func (p *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = p.config.DefaultTTL
	}
	now := p.now()
	var expiresAt pgtype.Timestamptz
	if ttl > 0 {
		expiresAt = pgtype.Timestamptz{Time: now.Add(ttl), Valid: true}
	}

	return p.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM catalog_cache WHERE expires_at IS NOT NULL AND expires_at <= $1`, now); err != nil {
			return fmt.Errorf("failed to prune cache: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO catalog_cache (key, value, expires_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
			p.config.Prefix+key, value, expiresAt, now,
		)
		if err != nil {
			return fmt.Errorf("failed to write cache entry: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.conn.Pool.Exec(ctx, `DELETE FROM catalog_cache WHERE key = $1`, p.config.Prefix+key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
