package queryir

// Query represents an abstract query.
//
// This is a sealed interface - only types in this package implement it.
// The marker method prevents external implementations and enables
// exhaustive type switches in backend compilers.
type Query interface {
	queryNode()
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: field = value
//   - IsNull / NotNull: field IS [NOT] NULL
//   - Compare: field <op> value
//   - In: field IN (values), optionally case folded
//   - Contains: case-insensitive substring match
//   - And / Or: conjunction and disjunction
type Predicate interface {
	predicateNode()
}

// Select is a single-table read.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order> LIMIT <limit>
//
// The compiler always appends the table's primary key as the final order
// term so that rows with equal sort keys come back in a stable order.
type Select struct {
	From    string
	Columns []string  // empty selects every column
	Filter  Predicate // nil = no filter
	OrderBy []Order
	Limit   int // 0 = unlimited
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Asc and Desc build Order terms.
func Asc(field string) Order  { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Equals matches rows where Field equals Value.
// A nil Value never matches; use IsNull for NULL checks.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// IsNull matches rows where Field is NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// NotNull matches rows where Field is not NULL.
type NotNull struct {
	Field string
}

func (NotNull) predicateNode() {}

// Op is a comparison operator.
type Op string

const (
	OpLess      Op = "<"
	OpLessEq    Op = "<="
	OpGreater   Op = ">"
	OpGreaterEq Op = ">="
	OpNotEq     Op = "!="
)

// Compare matches rows where Field <Op> Value.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (Compare) predicateNode() {}

// In matches rows where Field is one of Values. When Fold is set both
// sides are Unicode case folded.
type In struct {
	Field  string
	Values []any
	Fold   bool
}

func (In) predicateNode() {}

// Contains matches rows where Field contains Substring, ignoring case.
// NULL fields never match.
type Contains struct {
	Field     string
	Substring string
}

func (Contains) predicateNode() {}

// NotExists matches rows for which the correlated subquery returns no
// rows. SQL is compiled verbatim and must only reference columns of the
// outer table by qualified name; values go through Args.
type NotExists struct {
	SQL  string
	Args []any
}

func (NotExists) predicateNode() {}

// And represents a conjunction of predicates. Empty = always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates. Empty = always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// All is shorthand for And that drops nil predicates.
func All(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return And{Predicates: out}
}

// Normalize dereferences pointer predicates so that backends only need to
// switch over value types. Nil pointers become nil.
func Normalize(p Predicate) Predicate {
	switch x := p.(type) {
	case *Equals:
		if x == nil {
			return nil
		}
		return *x
	case *IsNull:
		if x == nil {
			return nil
		}
		return *x
	case *NotNull:
		if x == nil {
			return nil
		}
		return *x
	case *Compare:
		if x == nil {
			return nil
		}
		return *x
	case *In:
		if x == nil {
			return nil
		}
		return *x
	case *Contains:
		if x == nil {
			return nil
		}
		return *x
	case *NotExists:
		if x == nil {
			return nil
		}
		return *x
	case *And:
		if x == nil {
			return nil
		}
		return *x
	case *Or:
		if x == nil {
			return nil
		}
		return *x
	}
	return p
}
