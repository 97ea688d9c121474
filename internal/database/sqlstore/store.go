// Package sqlstore is a kv.Store on a SQL database, for deployments that run
// on postgres or on an embedded sqlite file instead of redis.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// registers the "pgx" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
)

const (
	schemaPostgres = `CREATE TABLE IF NOT EXISTS kv_entries (
	entry_key   TEXT PRIMARY KEY,
	entry_value BYTEA NOT NULL,
	expires_at  BIGINT NOT NULL
)`
	schemaSQLite = `CREATE TABLE IF NOT EXISTS kv_entries (
	entry_key   TEXT PRIMARY KEY,
	entry_value BLOB NOT NULL,
	expires_at  INTEGER NOT NULL
)`

	upsertQuery = `INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES (?, ?, ?)
ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, expires_at = excluded.expires_at`

	// an expired row counts as absent and is replaced
	insertIfAbsentQuery = `INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES (?, ?, ?)
ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, expires_at = excluded.expires_at
WHERE kv_entries.expires_at <> 0 AND kv_entries.expires_at <= ?`

	getQuery = `SELECT entry_value FROM kv_entries WHERE entry_key = ? AND (expires_at = 0 OR expires_at > ?)`

	keysQuery = `SELECT entry_key FROM kv_entries WHERE entry_key LIKE ? ESCAPE '\' AND (expires_at = 0 OR expires_at > ?)`

	pruneQuery = `DELETE FROM kv_entries WHERE expires_at <> 0 AND expires_at <= ?`
)

// Store is a kv.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var (
	_ kv.Store  = (*Store)(nil)
	_ kv.Pruner = (*Store)(nil)
)

// Open connects using cfg, checks connectivity and creates the table.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, driver, err := cfg.dialect()
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("SQL Config: %+v", cfg.masked())

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; also keeps a :memory: database on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("dialect", string(dialect)).Msg("sql store is ready")
	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Migrate creates the kv table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.dialect == Postgres {
		schema = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create kv_entries: %w", err)
	}
	return nil
}

// rebind turns '?' placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertQuery), key, value, s.expiresAt(ttl))
	return err
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(insertIfAbsentQuery), key, value, s.expiresAt(ttl), s.now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.rebind(getQuery), key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(keysQuery), globToLike(pattern), s.now().UnixMilli())
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
		// sqlite LIKE ignores ASCII case
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

// Prune deletes expired rows.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(pruneQuery), s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// matchGlob reports whether s matches pattern, where '*' matches any run.
func matchGlob(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, last)
}
