package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

func TestInsertMessage_RejectsInvalid(t *testing.T) {
	s := createTestStore(t)
	m := chatMessage("m1", at(100), "hi")
	m.Remote = jid.MustParse("friend@example.org/phone")

	_, err := s.InsertMessage(context.Background(), m, ConflictRaise)
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))
	assert.Equal(t, 0, countRows(t, s, "remote"))

	m = chatMessage("m2", at(100), "ringing")
	m.Call = &model.Call{State: 1}
	_, err = s.InsertMessage(context.Background(), m, ConflictRaise)
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))
}

func TestInsertMessage_OpenCall(t *testing.T) {
	s := createTestStore(t)

	m := chatMessage("m1", at(100), "")
	m.Call = &model.Call{SID: "call-1", State: 1}
	pk := insert(t, s, m)

	row, err := s.GetMessage(context.Background(), pk)
	require.NoError(t, err)
	require.NotNil(t, row.Call)
	assert.True(t, row.Call.EndTS.IsZero())
	assert.Zero(t, row.MarkupType)
	assert.Empty(t, row.Markup)
}

func TestInsertMessage_StoresOwnedRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := chatMessage("m1", at(100), "see attachment")
	m.ThreadID = "thread-1"
	m.Encryption = &model.Encryption{Protocol: model.ProtocolOMEMO, Key: "fp", Trust: model.TrustVerified}
	m.OOB = []model.OOB{{URL: "https://example.org/a.png", Description: "a"}}
	m.Reply = &model.Reply{ID: "m0", To: "friend@example.org"}
	m.MarkupType = 1
	m.Markup = "see *attachment*"
	m.Call = &model.Call{SID: "call-1", EndTS: at(160), State: 2}
	m.FileTransfers = []model.FileTransfer{{
		Name:      "a.png",
		MediaType: "image/png",
		Size:      42,
		Sources: []model.FileTransferSource{
			model.URLData{Target: "https://example.org/a.png", SchemeData: map[string]any{"k": "v"}},
			&model.JingleFT{SID: "sid-1"},
		},
	}}
	pk := insert(t, s, m)

	row, err := s.GetMessage(ctx, pk)
	require.NoError(t, err)
	require.NotNil(t, row)

	assert.Equal(t, "thread-1", row.ThreadID)
	require.NotNil(t, row.Encryption)
	assert.Equal(t, *m.Encryption, *row.Encryption)
	assert.Equal(t, m.OOB, row.OOB)
	assert.Equal(t, m.Reply, row.Reply)
	assert.Equal(t, 1, row.MarkupType)
	assert.Equal(t, "see *attachment*", row.Markup)
	assert.Equal(t, m.Call, row.Call)
	require.Len(t, row.FileTransfers, 1)
	ft := row.FileTransfers[0]
	assert.Equal(t, "a.png", ft.Name)
	assert.Equal(t, int64(42), ft.Size)
	require.Len(t, ft.Sources, 2)
	assert.Equal(t, model.URLData{Target: "https://example.org/a.png", SchemeData: map[string]any{"k": "v"}}, ft.Sources[0])
	assert.Equal(t, model.JingleFT{SID: "sid-1"}, ft.Sources[1])

	// Shared rows are resolved, not duplicated.
	m2 := chatMessage("m2", at(101), "again")
	m2.ThreadID = "thread-1"
	m2.Encryption = m.Encryption
	insert(t, s, m2)
	assert.Equal(t, 1, countRows(t, s, "thread"))
	assert.Equal(t, 1, countRows(t, s, "encryption"))
}

func TestInsertMessage_ConflictPolicies(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := roomMessage("s1", "alice", nil, at(100), "first")
	first := insert(t, s, m)

	dup := m
	dup.Text = "second"

	_, err := s.InsertMessage(ctx, dup, ConflictRaise)
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "message", conflict.Table)
	assert.Equal(t, first, conflict.ExistingPK)

	pk, err := s.InsertMessage(ctx, dup, ConflictSentinel)
	require.NoError(t, err)
	assert.Equal(t, NoRow, pk)

	pk, err = s.InsertMessage(ctx, dup, ConflictResolve)
	require.NoError(t, err)
	assert.Equal(t, first, pk)

	assert.Equal(t, 1, countRows(t, s, "message"))
}

func TestInsertMessage_ConflictKeepsNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := roomMessage("s1", "alice", nil, at(100), "first")
	insert(t, s, m)

	dup := m
	dup.OOB = []model.OOB{{URL: "https://example.org/x"}}
	dup.ThreadID = "t"
	_, err := s.InsertMessage(ctx, dup, ConflictSentinel)
	require.NoError(t, err)

	assert.Equal(t, 0, countRows(t, s, "oob"))
	assert.Equal(t, 0, countRows(t, s, "thread"))
}

func TestInsertRow_SideRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	receipt := model.Receipt{Conversation: chat(), ID: "m1", Timestamp: at(100)}
	pk, err := s.InsertRow(ctx, receipt, ConflictRaise)
	require.NoError(t, err)
	assert.Positive(t, pk)

	again, err := s.InsertRow(ctx, &receipt, ConflictResolve)
	require.NoError(t, err)
	assert.Equal(t, pk, again)

	_, err = s.InsertRow(ctx, receipt, ConflictRaise)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.InsertRow(ctx, model.Receipt{Conversation: chat(), Timestamp: at(1)}, ConflictRaise)
	assert.True(t, model.IsValidationError(err))

	var nilReceipt *model.Receipt
	_, err = s.InsertRow(ctx, nilReceipt, ConflictRaise)
	assert.Error(t, err)
}

func TestInsertRow_OccupantScopedKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// The same retraction id from two occupants and from none are distinct.
	for _, o := range []*model.Occupant{occupant("o1", "alice", at(1)), occupant("o2", "bob", at(1)), nil} {
		_, err := s.InsertRow(ctx, model.Retraction{
			Conversation: room(),
			Occupant:     o,
			ID:           "s1",
			Direction:    model.DirectionIncoming,
			Timestamp:    at(100),
		}, ConflictRaise)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, countRows(t, s, "retraction"))

	_, err := s.InsertRow(ctx, model.Retraction{
		Conversation: room(),
		ID:           "s1",
		Direction:    model.DirectionIncoming,
		Timestamp:    at(200),
	}, ConflictRaise)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpsertOccupant_IdempotentAndMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	o := occupant("o1", "alice", at(100))
	o.AvatarSHA = model.Some("sha1")

	pk, err := s.Upsert(ctx, o)
	require.NoError(t, err)
	again, err := s.Upsert(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, pk, again)
	assert.Equal(t, 1, countRows(t, s, "occupant"))

	// Older revisions are ignored.
	older := occupant("o1", "old-name", at(50))
	_, err = s.Upsert(ctx, older)
	require.NoError(t, err)

	// Equal timestamps are ignored.
	same := occupant("o1", "same-time", at(100))
	_, err = s.Upsert(ctx, same)
	require.NoError(t, err)

	var nick, sha string
	require.NoError(t, s.db.QueryRow("SELECT nickname, avatar_sha FROM occupant WHERE pk = ?", pk).Scan(&nick, &sha))
	assert.Equal(t, "alice", nick)
	assert.Equal(t, "sha1", sha)

	// Newer revisions merge; missing fields keep their stored value.
	newer := occupant("o1", "alice2", at(200))
	_, err = s.Upsert(ctx, newer)
	require.NoError(t, err)
	require.NoError(t, s.db.QueryRow("SELECT nickname, avatar_sha FROM occupant WHERE pk = ?", pk).Scan(&nick, &sha))
	assert.Equal(t, "alice2", nick)
	assert.Equal(t, "sha1", sha)

	// A null avatar clears it.
	cleared := occupant("o1", "", at(300))
	cleared.AvatarSHA = model.Null[string]()
	_, err = s.Upsert(ctx, cleared)
	require.NoError(t, err)
	var shaNull *string
	require.NoError(t, s.db.QueryRow("SELECT nickname, avatar_sha FROM occupant WHERE pk = ?", pk).Scan(&nick, &shaNull))
	assert.Equal(t, "alice2", nick)
	assert.Nil(t, shaNull)
}

func TestUpsertMAMArchiveState_MergesPresentFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, model.MAMArchiveState{
		Conversation: room(),
		FromStanzaID: model.Some("first"),
		FromStanzaTS: model.Some(at(100)),
	})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, model.MAMArchiveState{
		Conversation: room(),
		ToStanzaID:   model.Some("last"),
		ToStanzaTS:   model.Some(at(200)),
	})
	require.NoError(t, err)

	st, err := s.GetMAMArchiveState(ctx, testAccount, testRoom)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, model.Some("first"), st.FromStanzaID)
	assert.Equal(t, model.Some("last"), st.ToStanzaID)
	ts, ok := st.ToStanzaTS.Get()
	require.True(t, ok)
	assert.True(t, ts.Equal(at(200)))

	require.NoError(t, s.ResetMAMArchiveState(ctx, testAccount, testRoom))
	st, err = s.GetMAMArchiveState(ctx, testAccount, testRoom)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestUpsertConditional_Reactions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	reaction := func(emojis string, ts int64) model.Reaction {
		return model.Reaction{
			Conversation: chat(),
			ID:           "m1",
			Direction:    model.DirectionIncoming,
			Emojis:       emojis,
			Timestamp:    at(ts),
		}
	}

	pk, applied, err := s.UpsertConditional(ctx, reaction("👍", 10))
	require.NoError(t, err)
	assert.True(t, applied)

	again, applied, err := s.UpsertConditional(ctx, reaction("👍;😂", 11))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, pk, again)

	stale, applied, err := s.UpsertConditional(ctx, reaction("😢", 5))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, NoRow, stale)

	var emojis string
	var ts float64
	require.NoError(t, s.db.QueryRow("SELECT emojis, timestamp FROM reaction WHERE pk = ?", pk).Scan(&emojis, &ts))
	assert.Equal(t, "👍;😂", emojis)
	assert.Equal(t, 11.0, ts)
	assert.Equal(t, 1, countRows(t, s, "reaction"))
}

func TestUpsertConditional_PerOccupant(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, o := range []*model.Occupant{occupant("o1", "alice", at(1)), occupant("o2", "bob", at(1))} {
		_, applied, err := s.UpsertConditional(ctx, model.Reaction{
			Conversation: room(),
			Occupant:     o,
			ID:           "s1",
			Direction:    model.DirectionIncoming,
			Emojis:       "👍",
			Timestamp:    at(10),
		})
		require.NoError(t, err)
		assert.True(t, applied)
	}
	assert.Equal(t, 2, countRows(t, s, "reaction"))
}

func TestUpdatePendingMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := chatMessage("out-1", at(100), "sending")
	m.Direction = model.DirectionOutgoing
	m.State = model.StatePending
	pk := insert(t, s, m)

	got, found, err := s.UpdatePendingMessage(ctx, testAccount, testRemote, "out-1", "server-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pk, got)

	row, err := s.GetMessage(ctx, pk)
	require.NoError(t, err)
	assert.Equal(t, model.StateAcknowledged, row.State)
	assert.Equal(t, "server-1", row.StanzaID)

	_, found, err = s.UpdatePendingMessage(ctx, testAccount, testRemote, "out-1", "server-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetBlockOccupant(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, o := range []*model.Occupant{occupant("o1", "alice", at(1)), occupant("o2", "bob", at(1))} {
		_, err := s.Upsert(ctx, o)
		require.NoError(t, err)
	}

	n, err := s.SetBlockOccupant(ctx, testAccount, testRoom, []string{"o1"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Already blocked occupants do not count.
	n, err = s.SetBlockOccupant(ctx, testAccount, jid.JID{}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	blocked, err := s.GetBlockedOccupants(ctx, testAccount)
	require.NoError(t, err)
	require.Len(t, blocked, 2)
	assert.Equal(t, "o1", blocked[0].ID)
	assert.Equal(t, testRoom, blocked[0].Remote)
	assert.Equal(t, model.Some(true), blocked[0].Blocked)

	n, err = s.SetBlockOccupant(ctx, testAccount, testRoom, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	blocked, err = s.GetBlockedOccupants(ctx, testAccount)
	require.NoError(t, err)
	assert.Empty(t, blocked)
}
