package querysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgarchive/internal/queryir"
)

func TestCompile_SimpleSelect(t *testing.T) {
	compiler := NewSQLCompiler()

	query := queryir.Select{
		From:    "message",
		Columns: []string{"pk", "text"},
		Filter:  queryir.Equals{Field: "id", Value: "m1"},
	}

	sql, params, err := compiler.Compile(query)
	require.NoError(t, err)

	assert.Equal(t, "SELECT pk, text FROM message WHERE id = ? ORDER BY pk ASC", sql)
	assert.NotContains(t, sql, "m1")
	assert.Equal(t, []any{"m1"}, params)
}

func TestCompile_SelectPointerAndStar(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(&queryir.Select{From: "message"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM message ORDER BY pk ASC", sql)
	assert.Empty(t, params)
}

func TestCompile_OrderTiebreakerFollowsLastTerm(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, _, err := compiler.Compile(queryir.Select{
		From:    "message",
		OrderBy: []queryir.Order{queryir.Desc("timestamp")},
		Limit:   25,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM message ORDER BY timestamp DESC, pk DESC LIMIT ?", sql)

	sql, _, err = compiler.Compile(queryir.Select{
		From:    "message",
		OrderBy: []queryir.Order{queryir.Asc("timestamp"), queryir.Desc("pk")},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM message ORDER BY timestamp ASC, pk DESC", sql)
}

func TestCompile_Predicates(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 500000000, time.UTC)

	tests := []struct {
		name   string
		pred   queryir.Predicate
		sql    string
		params []any
	}{
		{"is null", queryir.IsNull{Field: "correction_id"}, "correction_id IS NULL", nil},
		{"not null", queryir.NotNull{Field: "resource"}, "resource IS NOT NULL", nil},
		{"nil equals never matches", queryir.Equals{Field: "id", Value: nil}, "0 = 1", nil},
		{"time compare", queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: at}, "timestamp < ?", []any{1704067200.5}},
		{"contains folds", queryir.Contains{Field: "text", Substring: "HeLLo"}, "instr(casefold(text), ?) > 0", []any{"hello"}},
		{"folded in", queryir.In{Field: "resource", Values: []any{"Alice", "BOB"}, Fold: true}, "casefold(resource) IN (?, ?)", []any{"alice", "bob"}},
		{"plain in", queryir.In{Field: "type", Values: []any{1, 2}}, "type IN (?, ?)", []any{1, 2}},
		{"not exists", queryir.NotExists{SQL: "SELECT 1 FROM moderation mo WHERE mo.stanza_id = message.stanza_id AND mo.pk > ?", Args: []any{0}},
			"NOT EXISTS (SELECT 1 FROM moderation mo WHERE mo.stanza_id = message.stanza_id AND mo.pk > ?)", []any{0}},
		{"empty and", queryir.And{}, "1 = 1", nil},
		{"empty or", queryir.Or{}, "0 = 1", nil},
		{"or", queryir.Or{Predicates: []queryir.Predicate{
			queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: 5.0},
			queryir.And{Predicates: []queryir.Predicate{
				queryir.Equals{Field: "timestamp", Value: 5.0},
				queryir.Compare{Field: "pk", Op: queryir.OpLess, Value: int64(9)},
			}},
		}}, "(timestamp < ? OR (timestamp = ? AND pk < ?))", []any{5.0, 5.0, int64(9)}},
	}

	compiler := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := compiler.compilePredicate(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompile_ParameterOrder(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Select{
		From: "message_view",
		Filter: queryir.All(
			queryir.Equals{Field: "fk_account_pk", Value: int64(1)},
			queryir.Equals{Field: "fk_remote_pk", Value: int64(2)},
			queryir.IsNull{Field: "correction_id"},
		),
		OrderBy: []queryir.Order{queryir.Desc("timestamp")},
		Limit:   50,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT * FROM message_view WHERE (fk_account_pk = ? AND fk_remote_pk = ? AND correction_id IS NULL) ORDER BY timestamp DESC, pk DESC LIMIT ?",
		sql)
	assert.Equal(t, []any{int64(1), int64(2), 50}, params)
}

func TestCompile_RejectsInvalidQuery(t *testing.T) {
	compiler := NewSQLCompiler()

	_, _, err := compiler.Compile(queryir.Select{From: "message; --"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")

	_, _, err = compiler.Compile(nil)
	assert.Error(t, err)
}

func TestEpochSeconds(t *testing.T) {
	assert.Equal(t, 0.0, EpochSeconds(time.Unix(0, 0)))
	assert.Equal(t, 1.000001, EpochSeconds(time.Unix(1, 1000)))
}
