package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// driverName is the go-sqlite3 driver registered with the casefold function
// and the archive pragmas installed on every new connection.
const driverName = "sqlite3_msgarchive"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc(querysql.FoldFunc, foldValue, true); err != nil {
				return fmt.Errorf("register %s: %w", querysql.FoldFunc, err)
			}
			return applyPragmas(conn)
		},
	})
}

// foldValue backs the casefold SQL function. NULL and non-text values pass
// through unchanged.
func foldValue(v any) any {
	switch s := v.(type) {
	case string:
		return querysql.FoldString(s)
	case []byte:
		// The driver hands NULL arguments over as a nil slice.
		if s == nil {
			return nil
		}
		return querysql.FoldString(string(s))
	default:
		return v
	}
}

// AccountDirectory exposes the configured accounts. Search uses it to scope
// queries to active accounts, retention cleanup for per-account limits and
// the legacy migration to seed archive sync state.
type AccountDirectory interface {
	Accounts() []model.AccountSettings
}

// ProgressFunc receives migration progress as (processed, total) rows.
type ProgressFunc func(processed, total int)

// Options configures a Store. The zero value is usable.
type Options struct {
	Logger     *slog.Logger
	Accounts   AccountDirectory
	Registerer prometheus.Registerer
	Progress   ProgressFunc

	// Now is the wall clock used for relative windows (recent nicknames,
	// correctable messages, retention). Defaults to time.Now.
	Now func() time.Time
}

// Store is the message archive. Every public write runs in exactly one
// transaction. A Store is meant to be driven by one goroutine at a time;
// the connection pool holds a single connection.
type Store struct {
	db       *sql.DB
	path     string
	log      *slog.Logger
	accounts AccountDirectory
	progress ProgressFunc
	now      func() time.Time
	compiler *querysql.SQLCompiler
	interns  *interner
	metrics  *metrics
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens the archive at path and brings its schema up to
// date, migrating legacy archives first.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - secure_delete, so removed history is overwritten on disk
//
// Any failure is returned as a *FatalError and the store is not usable.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fatal("open archive", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fatal("connect archive", err)
	}

	// SQLite only supports one writer at a time, and reads made while a
	// transaction is open must go through it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:       db,
		path:     path,
		log:      opts.Logger,
		accounts: opts.Accounts,
		progress: opts.Progress,
		now:      opts.Now,
		compiler: querysql.NewSQLCompiler(),
		interns:  newInterner(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "archive")
	if s.now == nil {
		s.now = time.Now
	}

	s.metrics, err = newMetrics(opts.Registerer)
	if err != nil {
		db.Close()
		return nil, fatal("register metrics", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	// Migrations may delete identity rows interned by earlier steps.
	s.interns = newInterner()

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the file the store was opened from.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the schema version recorded in the archive.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// applyPragmas sets required SQLite configuration on a new connection.
func applyPragmas(conn *sqlite3.SQLiteConn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA secure_delete = ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// withTx runs fn in a transaction. Identities interned by fn become visible
// to later calls only if the transaction commits.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin transaction: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		s.interns.discard()
		return err
	}

	if err := tx.Commit(); err != nil {
		s.interns.discard()
		return fmt.Errorf("%s: commit transaction: %w", op, err)
	}
	s.interns.promote()
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
