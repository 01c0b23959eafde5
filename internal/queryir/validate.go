package queryir

import (
	"errors"
	"fmt"
	"regexp"
)

// identPattern matches the plain identifiers the compiler is willing to
// interpolate. Everything else goes through bind parameters.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate checks that a query can be compiled safely: every table,
// column and order field is a plain identifier, operators are known and
// IN lists are non-empty.
//
// Validate is a pure function; all problems are reported together.
func Validate(query Query) error {
	v := &validator{}
	v.validateQuery(query)
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) ident(kind, name string) {
	if !identPattern.MatchString(name) {
		v.addf("invalid %s identifier %q", kind, name)
	}
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addf("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addf("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	v.ident("table", sel.From)
	for _, c := range sel.Columns {
		v.ident("column", c)
	}
	for _, o := range sel.OrderBy {
		v.ident("order", o.Field)
	}
	if sel.Limit < 0 {
		v.addf("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	p = Normalize(p)
	switch pred := p.(type) {
	case nil:
		v.addf("nil predicate")
	case Equals:
		v.ident("field", pred.Field)
	case IsNull:
		v.ident("field", pred.Field)
	case NotNull:
		v.ident("field", pred.Field)
	case Compare:
		v.ident("field", pred.Field)
		switch pred.Op {
		case OpLess, OpLessEq, OpGreater, OpGreaterEq, OpNotEq:
		default:
			v.addf("unknown operator %q", pred.Op)
		}
	case In:
		v.ident("field", pred.Field)
		if len(pred.Values) == 0 {
			v.addf("empty IN list for %q", pred.Field)
		}
	case Contains:
		v.ident("field", pred.Field)
	case NotExists:
		if pred.SQL == "" {
			v.addf("empty NOT EXISTS subquery")
		}
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.addf("unknown predicate type: %T", p)
	}
}
