// Package sqlstore implements the domain store contract on database/sql. The
// SQL text is shared by the sqlite and postgres drivers; a Dialect supplies
// placeholder rebinding, isolation and error classification.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// Dialect adapts the shared SQL to one driver.
type Dialect interface {
	Name() string
	// Rebind rewrites ? placeholders into the driver's native form.
	Rebind(query string) string
	TxOptions() *sql.TxOptions
	// Retryable reports serialization or lock conflicts worth retrying.
	Retryable(err error) bool
	UniqueViolation(err error) bool
}

// QuestionMarks leaves ? placeholders unchanged.
type QuestionMarks struct{}

func (QuestionMarks) Rebind(query string) string { return query }

// DollarNumbered rewrites ? placeholders as $1, $2, ...
type DollarNumbered struct{}

func (DollarNumbered) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const (
	maxTxAttempts = 5
	retryBaseWait = 25 * time.Millisecond
)

// Store implements domain.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	closers []func()
}

var _ domain.Store = (*Store)(nil)

// New wraps db. closers run after db is closed, in reverse order.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger, closers ...func()) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With(slog.String("component", "store"), slog.String("driver", dialect.Name())),
		closers: closers,
	}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}

// InTx runs fn in one transaction, retrying the whole function when the
// driver reports a serialization or busy conflict.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.dialect.Retryable(err) {
			return err
		}
		s.logger.DebugContext(ctx, "retrying transaction",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseWait):
		}
	}
	return fmt.Errorf("sqlstore: transaction failed after %d attempts: %w", maxTxAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions())
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &txStore{q: querier{ex: sqlTx, d: s.dialect}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (s *Store) q() querier { return querier{ex: s.db, d: s.dialect} }

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier rebinds every statement for its dialect.
type querier struct {
	ex execer
	d  Dialect
}

func (q querier) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ex.ExecContext(ctx, q.d.Rebind(query), args...)
}

func (q querier) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.ex.QueryContext(ctx, q.d.Rebind(query), args...)
}

func (q querier) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.ex.QueryRowContext(ctx, q.d.Rebind(query), args...)
}

// txStore implements domain.Tx on an open transaction.
type txStore struct {
	q querier
}

var _ domain.Tx = (*txStore)(nil)

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Timestamps are stored as unix milliseconds.

func ms(t time.Time) int64 { return t.UnixMilli() }

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

func fromNullMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// pageClause appends LIMIT/OFFSET with the dashboard defaults.
func pageClause(opts domain.ListOpts, args []any) (string, []any) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	return " LIMIT ? OFFSET ?", append(args, limit, offset)
}

// filter accumulates optional WHERE conditions.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, args ...any) {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, args...)
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func (f *filter) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		f.add(col+" >= ?", ms(*opts.Since))
	}
	if opts.Until != nil {
		f.add(col+" < ?", ms(*opts.Until))
	}
}

func msDuration(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
