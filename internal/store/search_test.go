package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

func collect(t *testing.T, seq func(func(*model.MessageRow, error) bool)) []*model.MessageRow {
	t.Helper()
	var rows []*model.MessageRow
	for row, err := range seq {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestSearch_PagesNewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Equal timestamps across a page boundary must not be skipped.
	for i := int64(1); i <= 60; i++ {
		insert(t, s, chatMessage(fmt.Sprintf("m%d", i), at(100+i/2), fmt.Sprintf("Hello %d", i)))
	}
	insert(t, s, chatMessage("x", at(500), "unrelated"))

	rows := collect(t, s.Search(ctx, SearchOptions{Text: "HELLO"}))
	require.Len(t, rows, 60)

	seen := make(map[int64]bool)
	for i, row := range rows {
		assert.False(t, seen[row.PK])
		seen[row.PK] = true
		if i > 0 {
			prev := rows[i-1]
			assert.False(t, row.Timestamp.After(prev.Timestamp))
			if row.Timestamp.Equal(prev.Timestamp) {
				assert.Less(t, row.PK, prev.PK)
			}
		}
	}
	assert.Equal(t, "Hello 60", rows[0].Text)
}

func TestSearch_SingleUse(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, chatMessage("m1", at(100), "hello"))

	seq := s.Search(ctx, SearchOptions{Text: "hello"})
	assert.Len(t, collect(t, seq), 1)

	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrSequenceConsumed)
}

func TestSearch_StopEarly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 30; i++ {
		insert(t, s, chatMessage(fmt.Sprintf("m%d", i), at(i), "hello"))
	}

	n := 0
	for _, err := range s.Search(ctx, SearchOptions{Text: "hello"}) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)

	// The connection is free again.
	insert(t, s, chatMessage("after", at(1000), "hello"))
}

func TestSearch_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, roomMessage("s1", "Alice", nil, at(100), "hello room"))
	insert(t, s, roomMessage("s2", "bob", nil, at(200), "hello again"))
	insert(t, s, roomMessage("s3", "carol", nil, at(300), "hello moderated"))
	insert(t, s, roomMessage("s4", "alice", nil, at(400), "hello retracted"))
	insert(t, s, chatMessage("m1", at(250), "hello chat"))

	_, err := s.InsertRow(ctx, model.Moderation{Conversation: room(), StanzaID: "s3", Timestamp: at(310)}, ConflictRaise)
	require.NoError(t, err)
	_, err = s.InsertRow(ctx, model.Retraction{
		Conversation: room(), ID: "s4", Direction: model.DirectionIncoming, Timestamp: at(410),
	}, ConflictRaise)
	require.NoError(t, err)

	rows := collect(t, s.Search(ctx, SearchOptions{Text: "hello"}))
	assert.Equal(t, []string{"hello chat", "hello again", "hello room"}, texts(rows))

	rows = collect(t, s.Search(ctx, SearchOptions{Remote: testRoom, Resources: []string{"ALICE"}}))
	assert.Equal(t, []string{"hello room"}, texts(rows))

	rows = collect(t, s.Search(ctx, SearchOptions{Account: testAccount, Text: "hello", After: at(150), Before: at(250)}))
	assert.Equal(t, []string{"hello again"}, texts(rows))

	rows = collect(t, s.Search(ctx, SearchOptions{Account: jid.MustParse("other@example.org"), Text: "hello"}))
	assert.Empty(t, rows)

	// A NULL resource never matches a nickname, not even an empty one.
	rows = collect(t, s.Search(ctx, SearchOptions{Text: "chat", Resources: []string{""}}))
	assert.Empty(t, rows)
}

func TestSearch_OnlyActiveAccounts(t *testing.T) {
	other := jid.MustParse("other@example.org")
	s := createTestStore(t, func(o *Options) {
		o.Accounts = accountList{
			{Name: "main", Address: testAccount, Active: true},
			{Name: "other", Address: other, Active: false},
		}
	})
	ctx := context.Background()

	insert(t, s, chatMessage("m1", at(100), "hello main"))
	m := chatMessage("m2", at(200), "hello other")
	m.Account = other
	insert(t, s, m)

	rows := collect(t, s.Search(ctx, SearchOptions{Text: "hello"}))
	assert.Equal(t, []string{"hello main"}, texts(rows))
}

func TestExportMessages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 30; i++ {
		insert(t, s, chatMessage(fmt.Sprintf("m%d", i), at(i), fmt.Sprintf("%d", i)))
	}
	insert(t, s, correction("c1", "m1", 40, "one"))
	insert(t, s, roomMessage("s1", "alice", nil, at(5), "elsewhere"))

	rows := collect(t, s.ExportMessages(ctx, testAccount, testRemote))
	require.Len(t, rows, 30)
	assert.Equal(t, "30", rows[0].Text)
	assert.Equal(t, "one", rows[29].DisplayText())
}
