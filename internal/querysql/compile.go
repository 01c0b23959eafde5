package querysql

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/msgarchive/internal/queryir"
)

// FoldFunc is the name of the SQL function the store registers on every
// connection to Unicode case fold text. Contains and folded In predicates
// compile to calls of it.
const FoldFunc = "casefold"

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: ALL queries end in ORDER BY <primary key> for deterministic
// results. All values are parameterized, never interpolated.
type SQLCompiler struct {
	// PrimaryKey is the tiebreaker appended to every ORDER BY.
	PrimaryKey string

	// TimeParam converts time values to their stored representation.
	TimeParam func(time.Time) any

	// Fold case folds string values compared against FoldFunc(column).
	Fold func(string) string
}

// NewSQLCompiler creates a compiler for tables keyed by "pk" that store
// time as REAL seconds since the Unix epoch.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		PrimaryKey: "pk",
		TimeParam:  EpochSeconds,
		Fold:       FoldString,
	}
}

// FoldString Unicode case folds s. It backs both the FoldFunc SQL function
// and folded parameters. A fresh Caser is used per call; Casers are stateful.
func FoldString(s string) string {
	return cases.Fold().String(s)
}

// EpochSeconds converts t to fractional seconds since the Unix epoch with
// microsecond precision.
func EpochSeconds(t time.Time) any {
	return float64(t.UnixMicro()) / 1e6
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error) tuple. The query is validated first.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	columns := "*"
	if len(q.Columns) > 0 {
		columns = strings.Join(q.Columns, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, q.From)

	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(filterSQL)
		params = filterParams
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(c.orderBy(q.OrderBy))

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return b.String(), params, nil
}

// orderBy renders the ORDER BY terms followed by the primary key, which
// takes the direction of the last explicit term.
func (c *SQLCompiler) orderBy(orders []queryir.Order) string {
	pk := c.PrimaryKey
	if pk == "" {
		pk = "pk"
	}

	parts := make([]string, 0, len(orders)+1)
	tieDesc := false
	hasPK := false
	for _, o := range orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, o.Field+" "+dir)
		tieDesc = o.Desc
		if o.Field == pk {
			hasPK = true
		}
	}
	if !hasPK {
		dir := "ASC"
		if tieDesc {
			dir = "DESC"
		}
		parts = append(parts, pk+" "+dir)
	}
	return strings.Join(parts, ", ")
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := queryir.Normalize(p).(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		if pred.Value == nil {
			return "0 = 1", nil, nil
		}
		return pred.Field + " = ?", []any{c.param(pred.Value)}, nil
	case queryir.IsNull:
		return pred.Field + " IS NULL", nil, nil
	case queryir.NotNull:
		return pred.Field + " IS NOT NULL", nil, nil
	case queryir.Compare:
		return fmt.Sprintf("%s %s ?", pred.Field, pred.Op), []any{c.param(pred.Value)}, nil
	case queryir.In:
		return c.compileIn(pred)
	case queryir.Contains:
		return fmt.Sprintf("instr(%s(%s), ?) > 0", FoldFunc, pred.Field), []any{c.fold(pred.Substring)}, nil
	case queryir.NotExists:
		return "NOT EXISTS (" + pred.SQL + ")", pred.Args, nil
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "0 = 1")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileIn(in queryir.In) (string, []any, error) {
	field := in.Field
	if in.Fold {
		field = fmt.Sprintf("%s(%s)", FoldFunc, in.Field)
	}

	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		placeholders[i] = "?"
		if s, ok := v.(string); ok && in.Fold {
			params[i] = c.fold(s)
			continue
		}
		params[i] = c.param(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", ")), params, nil
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	parts := make([]string, 0, len(preds))
	var params []any
	for _, pred := range preds {
		sql, predParams, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, predParams...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

func (c *SQLCompiler) param(v any) any {
	if t, ok := v.(time.Time); ok {
		if c.TimeParam != nil {
			return c.TimeParam(t)
		}
		return EpochSeconds(t)
	}
	return v
}

func (c *SQLCompiler) fold(s string) string {
	if c.Fold == nil {
		return FoldString(s)
	}
	return c.Fold(s)
}
