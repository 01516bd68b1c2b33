// Package postgres implements storage.Tier on PostgreSQL via pgx, mapping
// Entry fields to columns directly rather than through the byte-oriented
// wire envelope other backends use. Grounded on the teacher's
// postgresql/postgresql.go, generalized from opaque blobs to typed columns
// and from *Cache's standalone interface to storage.Tier.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycache/engine/entry"
	"github.com/relaycache/engine/httpheader"
	"github.com/relaycache/engine/storage"
)

// DefaultTableName is used when Config.TableName is empty.
const DefaultTableName = "response_cache"

// Config configures the Postgres-backed tier.
type Config struct {
	TableName string
	Timeout   time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{TableName: DefaultTableName, Timeout: 5 * time.Second}
}

// Tier is a storage.Tier backed by a Postgres table with one row per entry.
type Tier struct {
	pool  *pgxpool.Pool
	table string
	cfg   Config
}

var _ storage.Tier = (*Tier)(nil)

// New connects a pool to connString, creates the table if absent, and
// returns a ready Tier.
func New(ctx context.Context, connString string, cfg Config) (*Tier, error) {
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	t := &Tier{pool: pool, table: cfg.TableName, cfg: cfg}
	if err := t.createTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*Tier, error) {
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	t := &Tier{pool: pool, table: cfg.TableName, cfg: cfg}
	if err := t.createTable(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tier) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + t.table + ` (
			cache_key       TEXT PRIMARY KEY,
			method          TEXT NOT NULL,
			uri             TEXT NOT NULL,
			status_code     INTEGER NOT NULL,
			headers         JSONB NOT NULL,
			body            BYTEA NOT NULL,
			request_time    TIMESTAMPTZ NOT NULL,
			response_time   TIMESTAMPTZ NOT NULL,
			vary_headers    JSONB,
			is_incomplete   BOOLEAN NOT NULL DEFAULT FALSE,
			content_range   TEXT,
			is_invalid      BOOLEAN NOT NULL DEFAULT FALSE,
			size            BIGINT NOT NULL,
			access_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
			access_count    BIGINT NOT NULL DEFAULT 0,
			created_time    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_` + t.table + `_access_time ON ` + t.table + ` (access_time);
		CREATE INDEX IF NOT EXISTS idx_` + t.table + `_access_count ON ` + t.table + ` (access_count);
		CREATE INDEX IF NOT EXISTS idx_` + t.table + `_created_time ON ` + t.table + ` (created_time);
	`
	_, err := t.pool.Exec(ctx, query)
	return err
}

func (t *Tier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.cfg.Timeout)
}

type row struct {
	method       string
	uri          string
	statusCode   int
	headers      map[string]string
	body         []byte
	requestTime  time.Time
	responseTime time.Time
	varyHeaders  map[string]string
	isIncomplete bool
	contentRange string
	isInvalid    bool
}

func toEntry(r row) *entry.Entry {
	return &entry.Entry{
		Method:       r.method,
		URI:          r.uri,
		StatusCode:   r.statusCode,
		Headers:      httpheader.FromMap(r.headers),
		Body:         r.body,
		RequestTime:  r.requestTime,
		ResponseTime: r.responseTime,
		VaryHeaders:  r.varyHeaders,
		IsIncomplete: r.isIncomplete,
		ContentRange: r.contentRange,
		IsInvalid:    r.isInvalid,
	}
}

func (t *Tier) Get(ctx context.Context, key string) (*entry.Entry, bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE ` + t.table + ` SET access_time = now(), access_count = access_count + 1
		WHERE cache_key = $1
		RETURNING method, uri, status_code, headers, body, request_time, response_time,
			vary_headers, is_incomplete, content_range, is_invalid
	`
	var r row
	var headersJSON, varyJSON []byte
	err := t.pool.QueryRow(ctx, query, key).Scan(
		&r.method, &r.uri, &r.statusCode, &headersJSON, &r.body,
		&r.requestTime, &r.responseTime, &varyJSON, &r.isIncomplete, &r.contentRange, &r.isInvalid,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	if err := json.Unmarshal(headersJSON, &r.headers); err != nil {
		return nil, false, fmt.Errorf("postgres: decode headers for %q: %w", key, err)
	}
	if len(varyJSON) > 0 {
		if err := json.Unmarshal(varyJSON, &r.varyHeaders); err != nil {
			return nil, false, fmt.Errorf("postgres: decode vary headers for %q: %w", key, err)
		}
	}
	return toEntry(r), true, nil
}

func (t *Tier) Put(ctx context.Context, key string, e *entry.Entry) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	headersJSON, err := json.Marshal(e.Headers.ToMap())
	if err != nil {
		return false, err
	}
	varyJSON, err := json.Marshal(e.VaryHeaders)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO ` + t.table + ` (
			cache_key, method, uri, status_code, headers, body, request_time, response_time,
			vary_headers, is_incomplete, content_range, is_invalid, size, access_time, access_count, created_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),0,now())
		ON CONFLICT (cache_key) DO UPDATE SET
			method = $2, uri = $3, status_code = $4, headers = $5, body = $6,
			request_time = $7, response_time = $8, vary_headers = $9, is_incomplete = $10,
			content_range = $11, is_invalid = $12, size = $13, access_time = now()
	`
	_, err = t.pool.Exec(ctx, query,
		key, e.Method, e.URI, e.StatusCode, headersJSON, e.Body, e.RequestTime, e.ResponseTime,
		varyJSON, e.IsIncomplete, e.ContentRange, e.IsInvalid, e.ByteLen(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: put %q: %w", key, err)
	}
	return true, nil
}

func (t *Tier) Remove(ctx context.Context, key string) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	tag, err := t.pool.Exec(ctx, `DELETE FROM `+t.table+` WHERE cache_key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("postgres: remove %q: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	var exists bool
	err := t.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+t.table+` WHERE cache_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: contains %q: %w", key, err)
	}
	return exists, nil
}

func (t *Tier) Clear(ctx context.Context) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	_, err := t.pool.Exec(ctx, `TRUNCATE `+t.table)
	return err
}

func (t *Tier) ClearWhere(ctx context.Context, predicate func(*entry.Entry) bool) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	rows, err := t.pool.Query(ctx, `
		SELECT cache_key, method, uri, status_code, headers, body, request_time, response_time,
			vary_headers, is_incomplete, content_range, is_invalid
		FROM `+t.table)
	if err != nil {
		return fmt.Errorf("postgres: clearWhere scan: %w", err)
	}

	var toRemove []string
	for rows.Next() {
		var key string
		var r row
		var headersJSON, varyJSON []byte
		if err := rows.Scan(&key, &r.method, &r.uri, &r.statusCode, &headersJSON, &r.body,
			&r.requestTime, &r.responseTime, &varyJSON, &r.isIncomplete, &r.contentRange, &r.isInvalid); err != nil {
			rows.Close()
			return err
		}
		_ = json.Unmarshal(headersJSON, &r.headers)
		if len(varyJSON) > 0 {
			_ = json.Unmarshal(varyJSON, &r.varyHeaders)
		}
		if predicate(toEntry(r)) {
			toRemove = append(toRemove, key)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(toRemove) == 0 {
		return nil
	}
	_, err = t.pool.Exec(ctx, `DELETE FROM `+t.table+` WHERE cache_key = ANY($1)`, toRemove)
	return err
}

func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	rows, err := t.pool.Query(ctx, `SELECT cache_key FROM `+t.table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *Tier) Size(ctx context.Context) (int, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	var n int
	err := t.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+t.table).Scan(&n)
	return n, err
}

func (t *Tier) SizeInBytes(ctx context.Context) (int64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	var total int64
	err := t.pool.QueryRow(ctx, `SELECT COALESCE(SUM(size), 0) FROM `+t.table).Scan(&total)
	return total, err
}

func (t *Tier) Close() error {
	t.pool.Close()
	return nil
}
