package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool used by the postgres backend.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres stores entries in a Postgres table. Expired rows stay until Purge.
type Postgres struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewPostgres wraps an existing pool. table is quoted as an identifier.
func NewPostgres(pool Pool, table string) *Postgres {
	return &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize(), now: time.Now}
}

// OpenPostgres connects to databaseURL and creates the cache table.
func OpenPostgres(ctx context.Context, databaseURL, table string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, eris.New("cache: postgres backend requires a database url")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "cache: connect postgres")
	}
	p := NewPostgres(pool, table)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the cache table.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return eris.Wrap(err, "cache: migrate postgres")
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM `+p.table+` WHERE key = $1 AND expires_at > $2`,
		key, p.now().UTC(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: postgres get %s", key)
	}
	return data, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.table+` (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, p.now().UTC().Add(ttl),
	)
	if err != nil {
		return eris.Wrapf(err, "cache: postgres set %s", key)
	}
	return nil
}

// Purge deletes expired rows.
func (p *Postgres) Purge(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM `+p.table+` WHERE expires_at <= $1`, p.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "cache: postgres purge")
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
