package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/querysql"
)

// column is one column value of a row to insert.
type column struct {
	name  string
	value any
}

// record is a row of a table with a natural key. Key columns are compared
// with IS so NULL keys (a missing occupant) match NULL.
type record struct {
	table string
	cols  []column
	key   []string
}

func (r record) value(name string) any {
	for _, c := range r.cols {
		if c.name == name {
			return c.value
		}
	}
	return nil
}

// assignment is one SET term of a merge. expr defaults to "?".
type assignment struct {
	name  string
	expr  string
	value any
}

// upsert describes how a stored row is merged with a new revision.
type upsert struct {
	record
	set []assignment

	// stamp is the column holding the revision time passed to newer.
	// When newer is nil the merge always applies.
	stamp string
	newer func(stored time.Time) bool
}

// insertRecord inserts r. inserted is false when a row with the same
// natural key already exists; nothing is written in that case.
func insertRecord(ctx context.Context, q queryer, r record) (pk int64, inserted bool, err error) {
	names := make([]string, len(r.cols))
	marks := make([]string, len(r.cols))
	args := make([]any, len(r.cols))
	for i, c := range r.cols {
		names[i] = c.name
		marks[i] = "?"
		args[i] = c.value
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING RETURNING pk",
		r.table, strings.Join(names, ", "), strings.Join(marks, ", "))
	err = q.QueryRowContext(ctx, query, args...).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert %s: %w", r.table, err)
	}
	return pk, true, nil
}

// findRecord returns the key of the row matching r's natural key, and the
// value of stamp when stamp is not empty.
func findRecord(ctx context.Context, q queryer, r record, stamp string) (pk int64, stored sql.NullFloat64, found bool, err error) {
	conds := make([]string, len(r.key))
	args := make([]any, len(r.key))
	for i, k := range r.key {
		conds[i] = k + " IS ?"
		args[i] = r.value(k)
	}

	selected := "pk"
	dest := []any{&pk}
	if stamp != "" {
		selected += ", " + stamp
		dest = append(dest, &stored)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", selected, r.table, strings.Join(conds, " AND "))
	err = q.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, stored, false, nil
	}
	if err != nil {
		return 0, stored, false, fmt.Errorf("find %s: %w", r.table, err)
	}
	return pk, stored, true, nil
}

// insertUnique inserts r and reports an existing natural key as a
// *ConflictError carrying the stored row's key.
func insertUnique(ctx context.Context, q queryer, r record) (int64, error) {
	pk, inserted, err := insertRecord(ctx, q, r)
	if err != nil || inserted {
		return pk, err
	}
	existing, _, _, err := findRecord(ctx, q, r, "")
	if err != nil {
		return 0, err
	}
	return 0, &ConflictError{Table: r.table, ExistingPK: existing}
}

// upsertRecord inserts u or merges it into the stored row. Merges only
// touch the columns in u.set and only when u.newer allows it.
func upsertRecord(ctx context.Context, q queryer, u upsert) (int64, error) {
	pk, stored, found, err := findRecord(ctx, q, u.record, u.stamp)
	if err != nil {
		return 0, err
	}
	if !found {
		return insertUnique(ctx, q, u.record)
	}

	if u.newer != nil && stored.Valid && !u.newer(fromEpoch(stored.Float64)) {
		return pk, nil
	}
	if len(u.set) == 0 {
		return pk, nil
	}

	terms := make([]string, len(u.set))
	args := make([]any, 0, len(u.set)+1)
	for i, a := range u.set {
		expr := a.expr
		if expr == "" {
			expr = "?"
		}
		terms[i] = a.name + " = " + expr
		args = append(args, a.value)
	}
	args = append(args, pk)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE pk = ?", u.table, strings.Join(terms, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("update %s: %w", u.table, err)
	}
	return pk, nil
}

// applyPolicy turns a *ConflictError into the result the caller selected.
func (s *Store) applyPolicy(pk int64, err error, policy ConflictPolicy) (int64, error) {
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		return pk, err
	}
	s.metrics.conflicts.WithLabelValues(conflict.Table, policy.String()).Inc()

	switch policy {
	case ConflictSentinel:
		return NoRow, nil
	case ConflictResolve:
		return conflict.ExistingPK, nil
	default:
		return 0, err
	}
}

// Stored values.

func epoch(t time.Time) float64 {
	return querysql.EpochSeconds(t).(float64)
}

func fromEpoch(f float64) time.Time {
	return time.UnixMicro(int64(math.Round(f * 1e6))).UTC()
}

// micro truncates t to the precision timestamps are stored with.
func micro(t time.Time) time.Time {
	return t.Truncate(time.Microsecond)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return epoch(t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullKey(pk sql.NullInt64) any {
	if !pk.Valid {
		return nil
	}
	return pk.Int64
}

// optional converts an Optional to a column value; missing and null are
// both NULL.
func optional[T any](o model.Optional[T], conv func(T) any) any {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return conv(v)
}

func asIs[T any](v T) any { return v }

func timeValue(t time.Time) any { return epoch(t) }

func scanTime(f sql.NullFloat64) time.Time {
	if !f.Valid {
		return time.Time{}
	}
	return fromEpoch(f.Float64)
}
