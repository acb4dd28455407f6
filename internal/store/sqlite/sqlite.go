// Package sqlite opens the embedded single-file store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alanyoungcy/polyshadow/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect is the sqlstore dialect for sqlite.
type Dialect struct {
	sqlstore.QuestionMarks
}

func (Dialect) Name() string { return "sqlite" }

// TxOptions leaves isolation to the connection's _txlock=immediate setting:
// every transaction takes the write lock up front, so read-modify-write
// cycles on one position are serialized.
func (Dialect) TxOptions() *sql.TxOptions { return nil }

func (Dialect) Retryable(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (Dialect) UniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// Open creates or opens the database at path with WAL, foreign keys and a
// busy timeout enabled on every pooled connection, and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sqlstore.Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrations fs: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, Dialect{}, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect{}, logger), nil
}

// DSN builds the modernc connection string for path.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}
