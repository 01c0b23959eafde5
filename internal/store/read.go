package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/queryir"
)

const (
	// aroundWindow is the number of messages loaded on each side of a
	// timestamp by GetMessagesAround.
	aroundWindow = 50

	// correctionWindow is how long a sent message can still be corrected.
	correctionWindow = 5 * time.Minute

	// recentNickWindow bounds GetRecentMUCNicks.
	recentNickWindow = 30 * 24 * time.Hour
)

// readMessages runs sel outside a transaction and resolves the results.
func (s *Store) readMessages(ctx context.Context, sel queryir.Select) ([]*model.MessageRow, error) {
	msgs, err := s.selectMessages(ctx, s.db, sel)
	if err != nil {
		return nil, err
	}
	return s.newAssembler(s.db).assemble(ctx, msgs)
}

// readMessage is readMessages for at most one row.
func (s *Store) readMessage(ctx context.Context, sel queryir.Select) (*model.MessageRow, error) {
	sel.Limit = 1
	rows, err := s.readMessages(ctx, sel)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// GetMessage returns the message with the given key, or nil.
func (s *Store) GetMessage(ctx context.Context, pk int64) (*model.MessageRow, error) {
	defer s.timeit("get_message")()

	return s.readMessage(ctx, queryir.Select{Filter: queryir.Equals{Field: "pk", Value: pk}})
}

// GetConversationBeforeAfter loads up to n messages of a conversation
// strictly before or after ts, nearest first. Corrections are never
// returned as rows of their own.
func (s *Store) GetConversationBeforeAfter(ctx context.Context, account, remote jid.JID, before bool, ts time.Time, n int) ([]*model.MessageRow, error) {
	defer s.timeit("get_conversation_before_after")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}
	return s.readMessages(ctx, window(accountPK, remotePK, before, queryir.OpLess, queryir.OpGreater, ts, n))
}

// GetMessagesAround loads the messages surrounding ts in ascending order:
// up to 50 at or before ts and up to 50 after it.
func (s *Store) GetMessagesAround(ctx context.Context, account, remote jid.JID, ts time.Time) ([]*model.MessageRow, error) {
	defer s.timeit("get_messages_around")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}

	older, err := s.readMessages(ctx, window(accountPK, remotePK, true, queryir.OpLessEq, queryir.OpGreater, ts, aroundWindow))
	if err != nil {
		return nil, err
	}
	newer, err := s.readMessages(ctx, window(accountPK, remotePK, false, queryir.OpLessEq, queryir.OpGreater, ts, aroundWindow))
	if err != nil {
		return nil, err
	}

	out := make([]*model.MessageRow, 0, len(older)+len(newer))
	for i := len(older) - 1; i >= 0; i-- {
		out = append(out, older[i])
	}
	return append(out, newer...), nil
}

// window selects non-correction messages on one side of ts, nearest first.
func window(accountPK, remotePK int64, before bool, beforeOp, afterOp queryir.Op, ts time.Time, n int) queryir.Select {
	op, order := afterOp, queryir.Asc("timestamp")
	if before {
		op, order = beforeOp, queryir.Desc("timestamp")
	}
	return queryir.Select{
		Filter: queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.IsNull{Field: "correction_id"},
			queryir.Compare{Field: "timestamp", Op: op, Value: ts},
		),
		OrderBy: []queryir.Order{order},
		Limit:   n,
	}
}

// GetLastConversationRow returns the newest non-correction message of a
// conversation, or nil.
func (s *Store) GetLastConversationRow(ctx context.Context, account, remote jid.JID) (*model.MessageRow, error) {
	defer s.timeit("get_last_conversation_row")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}
	return s.readMessage(ctx, queryir.Select{
		Filter: queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.IsNull{Field: "correction_id"},
		),
		OrderBy: []queryir.Order{queryir.Desc("timestamp")},
	})
}

// GetLastCorrectableMessage returns the newest acknowledged message with
// the given protocol id that is recent enough to be corrected, or nil.
func (s *Store) GetLastCorrectableMessage(ctx context.Context, account, remote jid.JID, messageID string) (*model.MessageRow, error) {
	defer s.timeit("get_last_correctable_message")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}
	return s.readMessage(ctx, queryir.Select{
		Filter: queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.Equals{Field: "id", Value: messageID},
			queryir.Compare{Field: "timestamp", Op: queryir.OpGreater, Value: s.now().Add(-correctionWindow)},
			queryir.Equals{Field: "state", Value: int(model.StateAcknowledged)},
		),
		OrderBy: []queryir.Order{queryir.Desc("timestamp")},
	})
}

// GetCorrectedMessage follows a correction back to the message it
// revises and returns that message with all its revisions, or nil when the
// original is not stored. Rows that are not corrections resolve to
// themselves.
func (s *Store) GetCorrectedMessage(ctx context.Context, correction *model.MessageRow) (*model.MessageRow, error) {
	defer s.timeit("get_corrected_message")()

	msgs, err := s.selectMessages(ctx, s.db, queryir.Select{Filter: queryir.Equals{Field: "pk", Value: correction.PK}})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}

	cur := msgs[0]
	seen := map[int64]bool{cur.row.PK: true}
	for cur.row.CorrectionID != "" {
		parents, err := s.selectMessages(ctx, s.db, queryir.Select{
			Filter:  revisionFilter(cur, queryir.Equals{Field: "id", Value: cur.row.CorrectionID}),
			OrderBy: []queryir.Order{queryir.Desc("timestamp")},
			Limit:   1,
		})
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 || seen[parents[0].row.PK] {
			return nil, nil
		}
		cur = parents[0]
		seen[cur.row.PK] = true
	}

	rows, err := s.newAssembler(s.db).assemble(ctx, []*storedMessage{cur})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// GetMessageWithID returns the message with the given protocol id. It
// returns nil when none or more than one match.
func (s *Store) GetMessageWithID(ctx context.Context, account, remote jid.JID, messageID string) (*model.MessageRow, error) {
	defer s.timeit("get_message_with_id")()
	return s.uniqueMessage(ctx, account, remote, "id", messageID)
}

// GetMessageWithStanzaID returns the message with the given stanza id, or
// nil.
func (s *Store) GetMessageWithStanzaID(ctx context.Context, account, remote jid.JID, stanzaID string) (*model.MessageRow, error) {
	defer s.timeit("get_message_with_stanza_id")()
	return s.uniqueMessage(ctx, account, remote, "stanza_id", stanzaID)
}

// GetReferencedMessage returns the message a reply points at: by stanza id
// in group chats and by protocol id otherwise. It returns nil when no single
// message matches.
func (s *Store) GetReferencedMessage(ctx context.Context, account, remote jid.JID, typ model.MessageType, replyID string) (*model.MessageRow, error) {
	if typ == model.MessageTypeGroupchat {
		return s.GetMessageWithStanzaID(ctx, account, remote, replyID)
	}
	return s.GetMessageWithID(ctx, account, remote, replyID)
}

func (s *Store) uniqueMessage(ctx context.Context, account, remote jid.JID, field, value string) (*model.MessageRow, error) {
	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}

	msgs, err := s.selectMessages(ctx, s.db, queryir.Select{
		Filter: queryir.All(conversationFilter(accountPK, remotePK), queryir.Equals{Field: field, Value: value}),
		Limit:  2,
	})
	if err != nil {
		return nil, err
	}
	switch len(msgs) {
	case 0:
		return nil, nil
	case 1:
		rows, err := s.newAssembler(s.db).assemble(ctx, msgs)
		if err != nil {
			return nil, err
		}
		return rows[0], nil
	default:
		s.log.Warn("found more than one message", field, value)
		return nil, nil
	}
}

// CheckMessageIDExists reports whether a message with the protocol id is
// stored in the conversation. Callers use it to drop duplicate deliveries.
func (s *Store) CheckMessageIDExists(ctx context.Context, account, remote jid.JID, messageID string) (bool, error) {
	defer s.timeit("check_message_id_exists")()
	return s.messageExists(ctx, account, remote, "id", messageID)
}

// CheckStanzaIDExists reports whether a message with the stanza id is
// stored in the conversation.
func (s *Store) CheckStanzaIDExists(ctx context.Context, account, remote jid.JID, stanzaID string) (bool, error) {
	defer s.timeit("check_stanza_id_exists")()
	return s.messageExists(ctx, account, remote, "stanza_id", stanzaID)
}

func (s *Store) messageExists(ctx context.Context, account, remote jid.JID, field, value string) (bool, error) {
	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return false, err
	}

	query, args, err := s.compiler.Compile(queryir.Select{
		From:    "message",
		Columns: []string{"pk"},
		Filter:  queryir.All(conversationFilter(accountPK, remotePK), queryir.Equals{Field: field, Value: value}),
		Limit:   1,
	})
	if err != nil {
		return false, err
	}

	var pk int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s: %w", field, err)
	}
	return true, nil
}

// GetConversationJIDs returns every remote the account has messages with.
func (s *Store) GetConversationJIDs(ctx context.Context, account jid.JID) ([]jid.JID, error) {
	defer s.timeit("get_conversation_jids")()

	accountPK, found, err := s.lookup(ctx, s.db, roleAccount, account)
	if err != nil || !found {
		return nil, err
	}

	addrs, err := queryAll(ctx, s.db, func(rows *sql.Rows) (jid.JID, error) {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return jid.JID{}, err
		}
		return jid.Parse(raw)
	}, `SELECT r.jid FROM remote r
		WHERE r.pk IN (SELECT DISTINCT fk_remote_pk FROM message WHERE fk_account_pk = ?)
		ORDER BY r.jid`, accountPK)
	if err != nil {
		return nil, fmt.Errorf("get conversation jids: %w", err)
	}
	return addrs, nil
}

// GetFirstMessageTS returns the timestamp of the oldest message of a
// conversation. ok is false when there is none.
func (s *Store) GetFirstMessageTS(ctx context.Context, account, remote jid.JID) (ts time.Time, ok bool, err error) {
	defer s.timeit("get_first_message_ts")()
	return s.boundaryTS(ctx, account, remote, "min")
}

// GetLastMessageTS returns the timestamp of the newest message of a
// conversation. ok is false when there is none.
func (s *Store) GetLastMessageTS(ctx context.Context, account, remote jid.JID) (ts time.Time, ok bool, err error) {
	defer s.timeit("get_last_message_ts")()
	return s.boundaryTS(ctx, account, remote, "max")
}

func (s *Store) boundaryTS(ctx context.Context, account, remote jid.JID, agg string) (time.Time, bool, error) {
	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return time.Time{}, false, err
	}

	var ts sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		"SELECT "+agg+"(timestamp) FROM message WHERE fk_account_pk = ? AND fk_remote_pk = ? AND correction_id IS NULL",
		accountPK, remotePK).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s timestamp: %w", agg, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return fromEpoch(ts.Float64), true, nil
}

// GetFirstMessageMetaForDate returns the key and timestamp of the first
// message on the calendar day of date, in date's location. ok is false
// when the day has no messages.
func (s *Store) GetFirstMessageMetaForDate(ctx context.Context, account, remote jid.JID, date time.Time) (pk int64, ts time.Time, ok bool, err error) {
	defer s.timeit("get_first_message_meta_for_date")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return 0, time.Time{}, false, err
	}

	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.AddDate(0, 0, 1)

	query, args, err := s.compiler.Compile(queryir.Select{
		From:    "message",
		Columns: []string{"pk", "timestamp"},
		Filter: queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.IsNull{Field: "correction_id"},
			queryir.Compare{Field: "timestamp", Op: queryir.OpGreaterEq, Value: start},
			queryir.Compare{Field: "timestamp", Op: queryir.OpLess, Value: end},
		),
		OrderBy: []queryir.Order{queryir.Asc("timestamp")},
		Limit:   1,
	})
	if err != nil {
		return 0, time.Time{}, false, err
	}

	var stored float64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&pk, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("get first message for date: %w", err)
	}
	return pk, fromEpoch(stored), true, nil
}

// GetRecentMUCNicks returns the distinct nicknames that wrote in a room
// during the last 30 days, most recent first.
func (s *Store) GetRecentMUCNicks(ctx context.Context, account, remote jid.JID) ([]string, error) {
	defer s.timeit("get_recent_muc_nicks")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}

	query, args, err := s.compiler.Compile(queryir.Select{
		From:    "message",
		Columns: []string{"resource"},
		Filter: queryir.All(
			conversationFilter(accountPK, remotePK),
			queryir.Equals{Field: "direction", Value: int(model.DirectionIncoming)},
			queryir.NotNull{Field: "resource"},
			queryir.IsNull{Field: "correction_id"},
			queryir.Compare{Field: "timestamp", Op: queryir.OpGreaterEq, Value: s.now().Add(-recentNickWindow)},
		),
		OrderBy: []queryir.Order{queryir.Desc("timestamp")},
	})
	if err != nil {
		return nil, err
	}

	nicks, err := queryAll(ctx, s.db, func(rows *sql.Rows) (string, error) {
		var nick string
		err := rows.Scan(&nick)
		return nick, err
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get recent nicks: %w", err)
	}

	seen := make(map[string]bool, len(nicks))
	out := make([]string, 0, len(nicks))
	for _, nick := range nicks {
		if !seen[nick] {
			seen[nick] = true
			out = append(out, nick)
		}
	}
	return out, nil
}

// GetMAMArchiveState returns the synchronized archive range of a
// conversation, or nil.
func (s *Store) GetMAMArchiveState(ctx context.Context, account, remote jid.JID) (*model.MAMArchiveState, error) {
	defer s.timeit("get_mam_archive_state")()

	accountPK, remotePK, found, err := s.lookupConversation(ctx, s.db, account, remote)
	if err != nil || !found {
		return nil, err
	}

	var fromID, toID sql.NullString
	var fromTS, toTS sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT from_stanza_id, from_stanza_ts, to_stanza_id, to_stanza_ts
		FROM mam_archive_state WHERE fk_account_pk = ? AND fk_remote_pk = ?`,
		accountPK, remotePK).Scan(&fromID, &fromTS, &toID, &toTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mam archive state: %w", err)
	}

	return &model.MAMArchiveState{
		Conversation: model.Conversation{Account: account, Remote: remote},
		FromStanzaID: nullableString(fromID),
		FromStanzaTS: nullableTime(fromTS),
		ToStanzaID:   nullableString(toID),
		ToStanzaTS:   nullableTime(toTS),
	}, nil
}

// ResetMAMArchiveState forgets the synchronized archive range of a
// conversation.
func (s *Store) ResetMAMArchiveState(ctx context.Context, account, remote jid.JID) error {
	defer s.timeit("reset_mam_archive_state")()

	return s.withTx(ctx, "reset mam archive state", func(tx *sql.Tx) error {
		accountPK, remotePK, found, err := s.lookupConversation(ctx, tx, account, remote)
		if err != nil || !found {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"DELETE FROM mam_archive_state WHERE fk_account_pk = ? AND fk_remote_pk = ?", accountPK, remotePK)
		if err != nil {
			return fmt.Errorf("reset mam archive state: %w", err)
		}
		return nil
	})
}

// GetBlockedOccupants returns the account's blocked occupants in every
// room, in insertion order.
func (s *Store) GetBlockedOccupants(ctx context.Context, account jid.JID) ([]*model.Occupant, error) {
	defer s.timeit("get_blocked_occupants")()

	accountPK, found, err := s.lookup(ctx, s.db, roleAccount, account)
	if err != nil || !found {
		return nil, err
	}

	occupants, err := queryAll(ctx, s.db, func(rows *sql.Rows) (*model.Occupant, error) {
		var room string
		o, err := scanOccupantWith(rows, &room)
		if err != nil {
			return nil, err
		}
		remote, err := jid.Parse(room)
		if err != nil {
			return nil, fmt.Errorf("occupant %s: remote: %w", o.ID, err)
		}
		o.Conversation = model.Conversation{Account: account, Remote: remote}
		return o, nil
	}, `SELECT `+occupantColumns+`, r.jid FROM occupant o
		JOIN remote r ON r.pk = o.fk_remote_pk
		LEFT JOIN remote rr ON rr.pk = o.fk_real_remote_pk
		WHERE o.fk_account_pk = ? AND o.blocked = 1
		ORDER BY o.pk`, accountPK)
	if err != nil {
		return nil, fmt.Errorf("get blocked occupants: %w", err)
	}
	return occupants, nil
}

func nullableString(s sql.NullString) model.Optional[string] {
	if !s.Valid {
		return model.Null[string]()
	}
	return model.Some(s.String)
}

func nullableTime(f sql.NullFloat64) model.Optional[time.Time] {
	if !f.Valid {
		return model.Null[time.Time]()
	}
	return model.Some(fromEpoch(f.Float64))
}
