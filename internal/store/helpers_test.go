package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

var (
	testAccount = jid.MustParse("user@example.org")
	testRemote  = jid.MustParse("friend@example.org")
	testRoom    = jid.MustParse("room@conference.example.org")
)

// testNow is the wall clock of every test store.
var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// accountList is a static AccountDirectory.
type accountList []model.AccountSettings

func (l accountList) Accounts() []model.AccountSettings { return l }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestStore opens a fresh archive in a temporary directory.
func createTestStore(t *testing.T, opts ...func(*Options)) *Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "archive.db"), opts...)
}

func openTestStore(t *testing.T, path string, opts ...func(*Options)) *Store {
	t.Helper()
	o := Options{
		Logger:   quietLogger(),
		Accounts: accountList{{Name: "main", Address: testAccount, Active: true, HistoryMaxAge: model.NoHistoryLimit}},
		Now:      func() time.Time { return testNow },
	}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := Open(context.Background(), path, o)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func chat() model.Conversation {
	return model.Conversation{Account: testAccount, Remote: testRemote}
}

func room() model.Conversation {
	return model.Conversation{Account: testAccount, Remote: testRoom}
}

func chatMessage(id string, ts time.Time, text string) model.Message {
	return model.Message{
		Conversation: chat(),
		Type:         model.MessageTypeChat,
		Direction:    model.DirectionIncoming,
		Timestamp:    ts,
		State:        model.StateAcknowledged,
		ID:           id,
		Text:         text,
	}
}

func roomMessage(stanzaID, nick string, occupant *model.Occupant, ts time.Time, text string) model.Message {
	return model.Message{
		Conversation: room(),
		Resource:     nick,
		Type:         model.MessageTypeGroupchat,
		Direction:    model.DirectionIncoming,
		Timestamp:    ts,
		State:        model.StateAcknowledged,
		ID:           "id-" + stanzaID,
		StanzaID:     stanzaID,
		Text:         text,
		Occupant:     occupant,
	}
}

func occupant(id, nick string, updated time.Time) *model.Occupant {
	return &model.Occupant{
		Conversation: room(),
		ID:           id,
		Nickname:     nick,
		UpdatedAt:    updated,
	}
}

func insert(t *testing.T, s *Store, m model.Message) int64 {
	t.Helper()
	pk, err := s.InsertMessage(context.Background(), m, ConflictRaise)
	require.NoError(t, err)
	return pk
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func texts(rows []*model.MessageRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Text
	}
	return out
}
