package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

func TestGetConversationBeforeAfter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		insert(t, s, chatMessage(fmt.Sprintf("m%d", i), at(i*10), fmt.Sprintf("msg %d", i)))
	}
	insert(t, s, correction("c3", "m3", 31, "msg 3 fixed"))

	before, err := s.GetConversationBeforeAfter(ctx, testAccount, testRemote, true, at(40), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg 3", "msg 2", "msg 1"}, texts(before))
	assert.Equal(t, "msg 3 fixed", before[0].DisplayText())

	after, err := s.GetConversationBeforeAfter(ctx, testAccount, testRemote, false, at(20), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg 3", "msg 4"}, texts(after))

	unknown, err := s.GetConversationBeforeAfter(ctx, testAccount, jid.MustParse("nobody@example.org"), true, at(40), 10)
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestGetConversationBeforeAfter_TiesOrderedByKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := insert(t, s, chatMessage("a", at(10), "a"))
	second := insert(t, s, chatMessage("b", at(10), "b"))

	before, err := s.GetConversationBeforeAfter(ctx, testAccount, testRemote, true, at(11), 10)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, second, before[0].PK)
	assert.Equal(t, first, before[1].PK)
}

func TestGetMessagesAround(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 120; i++ {
		insert(t, s, chatMessage(fmt.Sprintf("m%d", i), at(i), fmt.Sprintf("%d", i)))
		if i%10 == 0 {
			insert(t, s, correction(fmt.Sprintf("c%d", i), fmt.Sprintf("m%d", i), i, "fix"))
		}
	}

	rows, err := s.GetMessagesAround(ctx, testAccount, testRemote, at(60))
	require.NoError(t, err)
	require.Len(t, rows, 100)

	seen := make(map[int64]bool)
	for i, row := range rows {
		assert.False(t, seen[row.PK], "duplicate row %d", row.PK)
		seen[row.PK] = true
		assert.False(t, row.IsCorrection())
		assert.True(t, row.Timestamp.Equal(at(int64(i)+11)), "row %d at %s", i, row.Timestamp)
	}
}

func TestGetDaysContainingMessages_Timezones(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, chatMessage("m1", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), "late"))
	insert(t, s, chatMessage("m2", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), "mid"))

	east := time.FixedZone("UTC+2", 2*60*60)
	days, err := s.GetDaysContainingMessages(ctx, testAccount, testRemote, 2024, time.January, east)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 15}, days)

	west := time.FixedZone("UTC-1", -60*60)
	days, err = s.GetDaysContainingMessages(ctx, testAccount, testRemote, 2024, time.January, west)
	require.NoError(t, err)
	assert.Equal(t, []int{15}, days)

	days, err = s.GetDaysContainingMessages(ctx, testAccount, testRemote, 2023, time.December, west)
	require.NoError(t, err)
	assert.Equal(t, []int{31}, days)
}

func TestGetFirstMessageMetaForDate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := insert(t, s, chatMessage("m1", time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC), "a"))
	insert(t, s, chatMessage("m2", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), "b"))

	east := time.FixedZone("UTC+2", 2*60*60)
	pk, ts, ok, err := s.GetFirstMessageMetaForDate(ctx, testAccount, testRemote, time.Date(2024, 3, 10, 15, 0, 0, 0, east))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, pk)
	assert.True(t, ts.Equal(time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)))

	_, _, ok, err = s.GetFirstMessageMetaForDate(ctx, testAccount, testRemote, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetFirstAndLastMessageTS(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetFirstMessageTS(ctx, testAccount, testRemote)
	require.NoError(t, err)
	assert.False(t, ok)

	insert(t, s, chatMessage("m1", at(100), "a"))
	insert(t, s, chatMessage("m2", at(200), "b"))
	insert(t, s, correction("c2", "m2", 300, "b!"))

	first, ok, err := s.GetFirstMessageTS(ctx, testAccount, testRemote)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, first.Equal(at(100)))

	last, ok, err := s.GetLastMessageTS(ctx, testAccount, testRemote)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(at(200)))

	row, err := s.GetLastConversationRow(ctx, testAccount, testRemote)
	require.NoError(t, err)
	assert.Equal(t, "b!", row.DisplayText())
}

func TestGetRecentMUCNicks(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, roomMessage("s1", "old", nil, testNow.Add(-40*24*time.Hour), "ancient"))
	insert(t, s, roomMessage("s2", "alice", nil, testNow.Add(-3*time.Hour), "a"))
	insert(t, s, roomMessage("s3", "bob", nil, testNow.Add(-2*time.Hour), "b"))
	insert(t, s, roomMessage("s4", "alice", nil, testNow.Add(-1*time.Hour), "a again"))

	mine := roomMessage("s5", "me", nil, testNow.Add(-time.Minute), "hi")
	mine.Direction = model.DirectionOutgoing
	insert(t, s, mine)

	nicks, err := s.GetRecentMUCNicks(ctx, testAccount, testRoom)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, nicks)
}

func TestGetLastCorrectableMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	recent := chatMessage("m1", testNow.Add(-time.Minute), "recent")
	recent.Direction = model.DirectionOutgoing
	insert(t, s, recent)

	stale := chatMessage("m2", testNow.Add(-10*time.Minute), "stale")
	stale.Direction = model.DirectionOutgoing
	insert(t, s, stale)

	row, err := s.GetLastCorrectableMessage(ctx, testAccount, testRemote, "m1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "recent", row.Text)

	row, err = s.GetLastCorrectableMessage(ctx, testAccount, testRemote, "m2")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestGetMessageWithID_Ambiguous(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, chatMessage("dup", at(100), "one"))
	insert(t, s, chatMessage("dup", at(101), "two"))
	insert(t, s, chatMessage("solo", at(102), "three"))

	row, err := s.GetMessageWithID(ctx, testAccount, testRemote, "dup")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = s.GetMessageWithID(ctx, testAccount, testRemote, "solo")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "three", row.Text)

	ok, err := s.CheckMessageIDExists(ctx, testAccount, testRemote, "dup")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckStanzaIDExists(ctx, testAccount, testRemote, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMessageWithStanzaID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, roomMessage("s1", "alice", nil, at(100), "hi"))

	row, err := s.GetMessageWithStanzaID(ctx, testAccount, testRoom, "s1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "alice", row.Resource)
	assert.Equal(t, testRoom, row.Remote)
	assert.Equal(t, testAccount, row.Account)

	ok, err := s.CheckStanzaIDExists(ctx, testAccount, testRoom, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetReferencedMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, roomMessage("s1", "alice", nil, at(100), "in the room"))
	insert(t, s, chatMessage("m1", at(101), "in private"))

	// Group chat replies point at the stanza id.
	row, err := s.GetReferencedMessage(ctx, testAccount, testRoom, model.MessageTypeGroupchat, "s1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "in the room", row.Text)

	row, err = s.GetReferencedMessage(ctx, testAccount, testRoom, model.MessageTypeGroupchat, "id-s1")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = s.GetReferencedMessage(ctx, testAccount, testRemote, model.MessageTypeChat, "m1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "in private", row.Text)

	row, err = s.GetReferencedMessage(ctx, testAccount, testRemote, model.MessageTypeChat, "missing")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestGetConversationJIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insert(t, s, roomMessage("s1", "alice", nil, at(100), "hi"))
	insert(t, s, chatMessage("m1", at(101), "hey"))

	addrs, err := s.GetConversationJIDs(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, []jid.JID{testRemote, testRoom}, addrs)

	addrs, err = s.GetConversationJIDs(ctx, jid.MustParse("other@example.org"))
	require.NoError(t, err)
	assert.Empty(t, addrs)
}
