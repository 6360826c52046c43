package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db  *sql.DB
	cfg config
}

var _ Backend = (*sqliteBackend)(nil)

// NewSQLite returns a Backend stored in a SQLite database, suitable for the
// persistent tier. Values are serialized to msgpack BLOBs. If dbPath is empty
// or ":memory:", an in-memory database is used (handy for tests).
func NewSQLite(dbPath string, opts ...Option) (Backend, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers unblocked during sweeps.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		written_at INTEGER NOT NULL,
		ttl_ns INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_written_at ON entries(written_at)`); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteBackend{db: db, cfg: applyOptions(opts)}, nil
}

func (s *sqliteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *sqliteBackend) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var data []byte
	var writtenAt, ttl int64
	err := s.db.QueryRowContext(qctx,
		`SELECT value, written_at, ttl_ns FROM entries WHERE key = ?`, key,
	).Scan(&data, &writtenAt, &ttl)
	if err == sql.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if time.Now().UnixNano()-writtenAt >= ttl {
		_, _ = s.db.ExecContext(qctx, `DELETE FROM entries WHERE key = ?`, key)
		return false, nil, nil
	}
	return true, data, nil
}

func (s *sqliteBackend) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err = s.db.ExecContext(qctx,
		`INSERT INTO entries (key, value, written_at, ttl_ns) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, written_at = excluded.written_at, ttl_ns = excluded.ttl_ns`,
		key, data, time.Now().UnixNano(), int64(ttl),
	)
	if err != nil && strings.Contains(err.Error(), "database or disk is full") {
		return errors.Mark(err, ErrQuotaExceeded)
	}
	return err
}

func (s *sqliteBackend) Remove(ctx context.Context, key string) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(qctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqliteBackend) RemoveMatching(ctx context.Context, match func(key string) bool) (int, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx, `SELECT key FROM entries`)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return 0, err
		}
		if match(key) {
			doomed = append(doomed, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()
	var removed int
	for _, key := range doomed {
		if _, err := s.db.ExecContext(qctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *sqliteBackend) SweepExpired(ctx context.Context) (int, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(qctx,
		`DELETE FROM entries WHERE written_at + ttl_ns <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (s *sqliteBackend) Len(ctx context.Context) (int, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var count int
	err := s.db.QueryRowContext(qctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

func (s *sqliteBackend) Close(_ context.Context) error {
	return s.db.Close()
}
