// Package cache stores serialized lookup results keyed by lookup kind and
// input, with pluggable backends and a coalescing gate in front of the
// resolver.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kataster/internal/model"
)

// Store is a byte-oriented key/value store with per-entry expiry.
type Store interface {
	// Get returns the stored bytes and true, or false on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Purger is implemented by backends that keep expired rows until purged.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

// Backends lists every supported backend name.
var Backends = []string{BackendMemory, BackendRedis, BackendPostgres, BackendSQLite, BackendNone}

// Config selects and configures a backend.
type Config struct {
	Backend       string
	MaxEntries    int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	Table         string
	SQLitePath    string
}

// DefaultTable is the SQL table used by the postgres and sqlite backends.
const DefaultTable = "lookup_cache"

// Open builds the configured backend. SQL backends create their table.
func Open(ctx context.Context, cfg Config) (Store, error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemory(cfg.MaxEntries), nil
	case BackendNone:
		return Noop{}, nil
	case BackendRedis:
		return NewRedisFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, table)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, table)
	}
	return nil, eris.Errorf("cache: unknown backend %q", cfg.Backend)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Close() error { return nil }

// IdentifierKey builds the key for an identifier-keyed lookup.
func IdentifierKey(kind model.Kind, id string) string {
	return string(kind) + ":" + id
}

// CoordinateKey builds the key for a coordinate-keyed lookup. Coordinates are
// rendered as received, without rounding.
func CoordinateKey(kind model.Kind, pt model.Point) string {
	return string(kind) + ":" + model.FormatCoord(pt.X) + ":" + model.FormatCoord(pt.Y) + ":" + pt.EPSG
}
