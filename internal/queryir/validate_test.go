package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidSelect(t *testing.T) {
	query := Select{
		From:    "message_view",
		Columns: []string{"pk", "timestamp"},
		Filter: All(
			Equals{Field: "fk_account_pk", Value: int64(1)},
			IsNull{Field: "correction_id"},
			Compare{Field: "timestamp", Op: OpLess, Value: 10.0},
			Contains{Field: "text", Substring: "hello"},
			In{Field: "resource", Values: []any{"nick"}, Fold: true},
			Or{Predicates: []Predicate{NotNull{Field: "stanza_id"}}},
		),
		OrderBy: []Order{Desc("timestamp")},
		Limit:   50,
	}

	assert.NoError(t, Validate(query))
	assert.NoError(t, Validate(&query))
}

func TestValidate_PointerPredicates(t *testing.T) {
	query := Select{
		From:   "message",
		Filter: &And{Predicates: []Predicate{&Equals{Field: "id", Value: "x"}}},
	}
	assert.NoError(t, Validate(query))
}

func TestValidate_RejectsUnsafeIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		query Select
	}{
		{"table", Select{From: "message; DROP TABLE message"}},
		{"column", Select{From: "message", Columns: []string{"pk, text"}}},
		{"order", Select{From: "message", OrderBy: []Order{Asc("timestamp DESC")}}},
		{"field", Select{From: "message", Filter: Equals{Field: "1=1 OR id", Value: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	query := Select{
		From:  "message",
		Limit: -1,
		Filter: And{Predicates: []Predicate{
			Compare{Field: "timestamp", Op: "LIKE", Value: 1},
			In{Field: "resource"},
			NotExists{},
		}},
	}

	err := Validate(query)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "negative limit")
	assert.Contains(t, msg, `unknown operator "LIKE"`)
	assert.Contains(t, msg, "empty IN list")
	assert.Contains(t, msg, "empty NOT EXISTS")
}

func TestValidate_NilQuery(t *testing.T) {
	assert.Error(t, Validate(nil))
}

func TestAll_DropsNil(t *testing.T) {
	p := All(nil, IsNull{Field: "correction_id"}, nil)
	and, ok := p.(And)
	require.True(t, ok)
	assert.Len(t, and.Predicates, 1)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Equals{Field: "id", Value: "x"}, Normalize(&Equals{Field: "id", Value: "x"}))
	assert.Nil(t, Normalize((*Equals)(nil)))
	assert.Equal(t, IsNull{Field: "id"}, Normalize(IsNull{Field: "id"}))
}
