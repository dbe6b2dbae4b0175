// Package postgres provides the pgx-backed catalog store for deployments
// where several processes share one catalog.
//
// Expected schema:
//
//	CREATE TABLE items (
//	    source_url      TEXT PRIMARY KEY,
//	    content_url     TEXT NOT NULL UNIQUE,
//	    category        TEXT NOT NULL,
//	    tags            TEXT[] NOT NULL DEFAULT '{}',
//	    status          TEXT NOT NULL DEFAULT 'pending',
//	    exact_hash      TEXT,
//	    perceptual_hash TEXT,
//	    reason          JSONB,
//	    receipt         JSONB,
//	    reserved_at     TIMESTAMPTZ,
//	    discovered_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    resolved_at     TIMESTAMPTZ
//	);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/walldrop/walldrop/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements catalog.Store on Postgres. Reservations are a nullable
// reserved_at column, cleared on release and on every recorded outcome.
type Store struct {
	pool  DB
	table string
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithDB constructs a Store from an existing pool (primarily for testing).
func NewWithDB(pool DB, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "items"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append inserts a pending item. Uniqueness of both keys is enforced by the
// table constraints in one statement, so two harvesters can race safely.
func (s *Store) Append(ctx context.Context, item catalog.Item) error {
	query := fmt.Sprintf(`
INSERT INTO %s (source_url, content_url, category, tags, status)
VALUES ($1, $2, $3, $4, 'pending')
ON CONFLICT DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query, item.SourceURL, item.ContentURL, item.Category, item.Tags)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source url %s: %w", item.SourceURL, catalog.ErrDuplicateItem)
	}
	return nil
}

// Reserve picks one unreserved pending item in the given categories uniformly
// at random and stamps reserved_at in the same statement. SKIP LOCKED keeps
// two destinations from ever selecting the same row.
func (s *Store) Reserve(ctx context.Context, categories []string) (catalog.Item, bool, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET reserved_at = NOW()
WHERE source_url = (
	SELECT source_url FROM %[1]s
	WHERE status = 'pending' AND reserved_at IS NULL AND category = ANY($1)
	ORDER BY random()
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING source_url, content_url, category, tags`, s.table)

	var item catalog.Item
	err := s.pool.QueryRow(ctx, query, categories).Scan(
		&item.SourceURL, &item.ContentURL, &item.Category, &item.Tags,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Item{}, false, nil
	}
	if err != nil {
		return catalog.Item{}, false, fmt.Errorf("reserve candidate: %w", err)
	}
	item.Status = catalog.StatusPending
	return item, true, nil
}

// Release clears a reservation so the item becomes selectable again.
func (s *Store) Release(ctx context.Context, sourceURL string) error {
	query := fmt.Sprintf(`UPDATE %s SET reserved_at = NULL WHERE source_url = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, sourceURL); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// RecordOutcome applies a forward-only transition. The status guard in the
// WHERE clause makes terminal items immutable: zero affected rows means the
// item was already terminal (or never existed).
func (s *Store) RecordOutcome(ctx context.Context, sourceURL string, outcome catalog.Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("outcome status %q is not terminal", outcome.Status)
	}
	reasonJSON, err := marshalOrNil(outcome.Reason)
	if err != nil {
		return fmt.Errorf("marshal reason: %w", err)
	}
	receiptJSON, err := marshalOrNil(outcome.Receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	reason = COALESCE($3, reason),
	exact_hash = COALESCE(NULLIF($4, ''), exact_hash),
	perceptual_hash = COALESCE(NULLIF($5, ''), perceptual_hash),
	receipt = COALESCE($6, receipt),
	reserved_at = NULL,
	resolved_at = NOW()
WHERE source_url = $1 AND status = 'pending'`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		sourceURL,
		string(outcome.Status),
		reasonJSON,
		outcome.ExactHash,
		outcome.PerceptualHash,
		receiptJSON,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source url %s: %w", sourceURL, catalog.ErrTerminalItem)
	}
	return nil
}

// Fingerprints returns the digest pairs of every fully fingerprinted item.
func (s *Store) Fingerprints(ctx context.Context) ([]catalog.FingerprintRecord, error) {
	query := fmt.Sprintf(`
SELECT source_url, exact_hash, perceptual_hash
FROM %s
WHERE exact_hash IS NOT NULL AND perceptual_hash IS NOT NULL
ORDER BY discovered_at`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var records []catalog.FingerprintRecord
	for rows.Next() {
		var rec catalog.FingerprintRecord
		if err := rows.Scan(&rec.SourceURL, &rec.ExactHash, &rec.PerceptualHash); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return records, nil
}

func marshalOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case *catalog.Reason:
		if t == nil {
			return nil, nil
		}
	case *catalog.Receipt:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
