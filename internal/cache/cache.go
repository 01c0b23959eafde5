// Package cache is the secondary key-value store next to the message
// archive: rosters, entity capabilities, contact and room properties and
// unread counters.
//
// Everything in the cache can be rebuilt from the network, so writes are
// batched. A write joins the currently open transaction and, if no commit
// is scheduled yet, arms a timer that commits after the commit delay.
// Flush and Close commit immediately. Reads go through the open
// transaction and therefore see uncommitted writes. A batch whose commit
// fails is rolled back and the error is returned by the next Flush or Close.
package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// currentVersion is the cache schema version. Caches written by any other
// version are dropped and rebuilt.
const currentVersion = 1

// DefaultCommitDelay is the idle period after which pending writes commit.
const DefaultCommitDelay = 500 * time.Millisecond

const driverName = "sqlite3_msgarchive_cache"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: applyPragmas,
	})
}

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache closed")

// Options configures a Store. The zero value is usable.
type Options struct {
	Logger *slog.Logger

	// CommitDelay defaults to DefaultCommitDelay.
	CommitDelay time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is the cache database. Its methods are safe for concurrent use; the
// commit timer runs on its own goroutine.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	timer  *time.Timer
	delay  time.Duration
	closed bool

	// commitTx is replaced in tests.
	commitTx  func(*sql.Tx) error
	commitErr error

	log *slog.Logger
	now func() time.Time

	caps     map[capsKey][]byte
	muc      map[propKey]string
	contacts map[propKey]contactValue
}

// Open creates or opens the cache at path. A cache written by another
// schema version is discarded.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:       db,
		commitTx: (*sql.Tx).Commit,
		delay:    opts.CommitDelay,
		log:      opts.Logger,
		now:      opts.Now,
		caps:     make(map[capsKey][]byte),
		muc:      make(map[propKey]string),
		contacts: make(map[propKey]contactValue),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "cache")
	if s.delay <= 0 {
		s.delay = DefaultCommitDelay
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init brings the schema to currentVersion, expires stale capabilities
// and loads the capabilities into memory.
func (s *Store) init(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read cache version: %w", err)
	}
	if version != currentVersion {
		if version != 0 {
			s.log.Info("rebuilding cache", "version", version, "want", currentVersion)
		}
		if err := s.rebuild(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cleanCapsLocked(ctx); err != nil {
		return err
	}
	if err := s.loadCapsLocked(ctx); err != nil {
		return err
	}
	return s.commitLocked()
}

// rebuild drops every table and creates the current schema.
func (s *Store) rebuild(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return fmt.Errorf("list cache tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("list cache tables: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list cache tables: %w", err)
	}

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %q", table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create cache schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentVersion)); err != nil {
		return fmt.Errorf("set cache version: %w", err)
	}
	return tx.Commit()
}

// Flush commits pending writes now.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	err := s.commitLocked()
	return errors.Join(s.takeCommitErrLocked(), err)
}

// Close commits pending writes and closes the database. Closing twice is a
// no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.commitLocked()
	return errors.Join(s.takeCommitErrLocked(), err, s.db.Close())
}

// execLocked runs a write in the open transaction and schedules its commit.
func (s *Store) execLocked(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx == nil {
		// The transaction outlives this call; only the statement is bound
		// to ctx.
		tx, err := s.db.BeginTx(context.Background(), nil)
		if err != nil {
			return nil, fmt.Errorf("begin cache transaction: %w", err)
		}
		s.tx = tx
	}
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	s.scheduleLocked()
	return res, nil
}

// queryerLocked returns the open transaction, or the database when nothing
// is pending.
func (s *Store) queryerLocked() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scheduleLocked arms the commit timer unless it is already armed.
func (s *Store) scheduleLocked() {
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, s.delayedCommit)
}

func (s *Store) delayedCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.commitLocked(); err != nil {
		s.log.Error("delayed cache commit failed", "error", err)
		s.commitErr = errors.Join(s.commitErr, err)
	}
}

// takeCommitErrLocked returns and clears the error of a failed delayed
// commit.
func (s *Store) takeCommitErrLocked() error {
	err := s.commitErr
	s.commitErr = nil
	return err
}

func (s *Store) commitLocked() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.tx == nil {
		return nil
	}

	defer s.timeit("commit")()
	tx := s.tx
	s.tx = nil
	if err := s.commitTx(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, rbErr)
		}
		return errors.Join(fmt.Errorf("commit cache: %w", err), s.resetMemoLocked())
	}
	return nil
}

// resetMemoLocked forgets values memoized from a batch that never reached
// the database.
func (s *Store) resetMemoLocked() error {
	clear(s.muc)
	clear(s.contacts)
	clear(s.caps)
	return s.loadCapsLocked(context.Background())
}

// pending reports whether uncommitted writes exist.
func (s *Store) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// timeit logs the duration of op. Use as: defer s.timeit("op")()
func (s *Store) timeit(op string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		if elapsed > 50*time.Millisecond {
			s.log.Warn("slow cache operation", "op", op, "duration", elapsed)
			return
		}
		s.log.Debug("cache operation", "op", op, "duration", elapsed)
	}
}

// applyPragmas configures a new cache connection. Unlike the archive,
// secure_delete is off.
func applyPragmas(conn *sqlite3.SQLiteConn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA secure_delete = OFF",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
