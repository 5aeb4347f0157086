package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLite stores entries in a local SQLite file. Expired rows stay until Purge.
type SQLite struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// OpenSQLite opens the database at path in WAL mode and creates the table.
func OpenSQLite(ctx context.Context, path, table string) (*SQLite, error) {
	if path == "" {
		return nil, eris.New("cache: sqlite backend requires a path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}

	s := &SQLite{db: db, table: pgx.Identifier{table}.Sanitize(), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	return eris.Wrap(err, "cache: migrate sqlite")
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM `+s.table+` WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: sqlite get %s", key)
	}
	return data, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return eris.Wrapf(err, "cache: sqlite set %s", key)
	}
	return nil
}

// Purge deletes expired rows.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite purge")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite rows affected")
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
