package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

// InsertMessage stores m together with its attachments, reply and file
// transfers, interning the identities and upserting the occupant and
// security label it references. All of it commits or none of it does.
//
// A message whose stanza id is already stored in the conversation is a
// conflict, handled according to policy. Under ConflictSentinel and
// ConflictResolve nothing from the call is kept.
func (s *Store) InsertMessage(ctx context.Context, m model.Message, policy ConflictPolicy) (int64, error) {
	defer s.timeit("insert_message")()

	if err := m.Validate(); err != nil {
		return 0, err
	}

	var pk int64
	err := s.withTx(ctx, "insert message", func(tx *sql.Tx) error {
		var err error
		pk, err = s.insertMessage(ctx, tx, m)
		return err
	})
	return s.applyPolicy(pk, err, policy)
}

func (s *Store) insertMessage(ctx context.Context, q queryer, m model.Message) (int64, error) {
	accountPK, remotePK, err := s.conversationKeys(ctx, q, m.Account, m.Remote)
	if err != nil {
		return 0, err
	}

	var refs messageRefs
	if refs.occupant, err = s.occupantKey(ctx, q, m.Occupant); err != nil {
		return 0, err
	}
	if m.ThreadID != "" {
		if refs.thread, err = resolveKey(ctx, q, threadRecord(accountPK, remotePK, m.ThreadID)); err != nil {
			return 0, err
		}
	}
	if m.Encryption != nil {
		if refs.encryption, err = resolveKey(ctx, q, encryptionRecord(*m.Encryption)); err != nil {
			return 0, err
		}
	}
	if m.SecurityLabel != nil {
		pk, err := upsertRecord(ctx, q, securityLabelUpsert(accountPK, remotePK, *m.SecurityLabel))
		if err != nil {
			return 0, err
		}
		refs.label = sql.NullInt64{Int64: pk, Valid: true}
	}

	pk, err := insertUnique(ctx, q, messageRecord(accountPK, remotePK, m, refs))
	if err != nil {
		return 0, err
	}
	if err := insertOwned(ctx, q, pk, m); err != nil {
		return 0, err
	}
	return pk, nil
}

// InsertRow inserts a single entity. Occupants, security labels and
// archive states are inserted without merging; use Upsert to merge them.
func (s *Store) InsertRow(ctx context.Context, e model.Entity, policy ConflictPolicy) (int64, error) {
	e, err := derefEntity(e)
	if err != nil {
		return 0, err
	}
	if m, ok := e.(model.Message); ok {
		return s.InsertMessage(ctx, m, policy)
	}

	defer s.timeit("insert_" + e.EntityName())()

	if err := e.Validate(); err != nil {
		return 0, err
	}

	var pk int64
	err = s.withTx(ctx, "insert "+e.EntityName(), func(tx *sql.Tx) error {
		r, err := s.entityRecord(ctx, tx, e)
		if err != nil {
			return err
		}
		pk, err = insertUnique(ctx, tx, r)
		return err
	})
	return s.applyPolicy(pk, err, policy)
}

// Upsert inserts an occupant, security label or archive state, or merges
// it into the stored row. Occupants and security labels merge only when
// their UpdatedAt is strictly newer than the stored one; archive states
// always merge. Missing optional fields never overwrite stored values.
func (s *Store) Upsert(ctx context.Context, e model.Entity) (int64, error) {
	e, err := derefEntity(e)
	if err != nil {
		return 0, err
	}

	defer s.timeit("upsert_" + e.EntityName())()

	if err := e.Validate(); err != nil {
		return 0, err
	}

	var pk int64
	err = s.withTx(ctx, "upsert "+e.EntityName(), func(tx *sql.Tx) error {
		u, err := s.entityUpsert(ctx, tx, e)
		if err != nil {
			return err
		}
		pk, err = upsertRecord(ctx, tx, u)
		return err
	})
	if err != nil {
		return 0, err
	}
	return pk, nil
}

// UpsertConditional stores a reaction, replacing the stored emoji set of
// the same sender only when r is strictly newer. applied is false, and pk
// is NoRow, when the stored reaction was kept.
func (s *Store) UpsertConditional(ctx context.Context, r model.Reaction) (pk int64, applied bool, err error) {
	defer s.timeit("upsert_reaction")()

	if err := r.Validate(); err != nil {
		return 0, false, err
	}

	err = s.withTx(ctx, "upsert reaction", func(tx *sql.Tx) error {
		accountPK, remotePK, err := s.conversationKeys(ctx, tx, r.Account, r.Remote)
		if err != nil {
			return err
		}
		occupantPK, err := s.occupantKey(ctx, tx, r.Occupant)
		if err != nil {
			return err
		}

		target := "(id, fk_remote_pk, fk_account_pk, direction) WHERE fk_occupant_pk IS NULL"
		if occupantPK.Valid {
			target = "(id, fk_remote_pk, fk_occupant_pk, fk_account_pk, direction) WHERE fk_occupant_pk IS NOT NULL"
		}
		query := `INSERT INTO reaction (fk_account_pk, fk_remote_pk, fk_occupant_pk, id, direction, emojis, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT ` + target + `
			DO UPDATE SET emojis = excluded.emojis, timestamp = excluded.timestamp
			WHERE excluded.timestamp > reaction.timestamp
			RETURNING pk`

		err = tx.QueryRowContext(ctx, query,
			accountPK, remotePK, nullKey(occupantPK), r.ID, int(r.Direction), r.Emojis, epoch(r.Timestamp),
		).Scan(&pk)
		if errors.Is(err, sql.ErrNoRows) {
			pk = NoRow
			return nil
		}
		if err != nil {
			return fmt.Errorf("upsert reaction: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return pk, applied, nil
}

// UpdatePendingMessage marks the pending outgoing message with the given
// protocol id as acknowledged and records the stanza id the server
// assigned. found is false when no such pending message exists.
func (s *Store) UpdatePendingMessage(ctx context.Context, account, remote jid.JID, messageID, stanzaID string) (pk int64, found bool, err error) {
	defer s.timeit("update_pending_message")()

	err = s.withTx(ctx, "update pending message", func(tx *sql.Tx) error {
		accountPK, remotePK, ok, err := s.lookupConversation(ctx, tx, account, remote)
		if err != nil || !ok {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE message SET state = ?, stanza_id = ?
			WHERE id = ? AND fk_account_pk = ? AND fk_remote_pk = ?
				AND direction = ? AND state = ?
			RETURNING pk`,
			int(model.StateAcknowledged), nullString(stanzaID),
			messageID, accountPK, remotePK,
			int(model.DirectionOutgoing), int(model.StatePending),
		).Scan(&pk)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("update pending message: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return 0, false, err
	}
	return pk, true, nil
}

// SetBlockOccupant sets the blocked flag of the account's occupants. An
// empty remote selects every room; empty ids selects every occupant.
// Returns the number of occupants whose flag changed.
func (s *Store) SetBlockOccupant(ctx context.Context, account, remote jid.JID, ids []string, blocked bool) (int64, error) {
	defer s.timeit("set_block_occupant")()

	var affected int64
	err := s.withTx(ctx, "set block occupant", func(tx *sql.Tx) error {
		accountPK, found, err := s.lookup(ctx, tx, roleAccount, account)
		if err != nil || !found {
			return err
		}

		conds := []string{"fk_account_pk = ?", "blocked != ?"}
		args := []any{blocked, accountPK, blocked}
		if !remote.IsZero() {
			remotePK, found, err := s.lookup(ctx, tx, roleRemote, remote)
			if err != nil || !found {
				return err
			}
			conds = append(conds, "fk_remote_pk = ?")
			args = append(args, remotePK)
		}
		if len(ids) > 0 {
			conds = append(conds, "id IN ("+placeholders(len(ids))+")")
			for _, id := range ids {
				args = append(args, id)
			}
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE occupant SET blocked = ? WHERE "+strings.Join(conds, " AND "), args...)
		if err != nil {
			return fmt.Errorf("set block occupant: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// derefEntity accepts entities passed by value or by pointer.
func derefEntity(e model.Entity) (model.Entity, error) {
	if e == nil {
		return nil, errors.New("nil entity")
	}
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer {
		return e, nil
	}
	if v.IsNil() {
		return nil, fmt.Errorf("nil %T", e)
	}
	return v.Elem().Interface().(model.Entity), nil
}

// entityRecord builds the row for e, interning its conversation.
func (s *Store) entityRecord(ctx context.Context, q queryer, e model.Entity) (record, error) {
	switch v := e.(type) {
	case model.Encryption:
		return encryptionRecord(v), nil
	case model.Occupant, model.SecurityLabel, model.MAMArchiveState:
		u, err := s.entityUpsert(ctx, q, v)
		return u.record, err
	}

	conv, occupant := sideRecordScope(e)
	if conv == nil {
		return record{}, fmt.Errorf("insert not supported for %s", e.EntityName())
	}
	accountPK, remotePK, err := s.conversationKeys(ctx, q, conv.Account, conv.Remote)
	if err != nil {
		return record{}, err
	}
	occupantPK, err := s.occupantKey(ctx, q, occupant)
	if err != nil {
		return record{}, err
	}

	switch v := e.(type) {
	case model.Thread:
		return threadRecord(accountPK, remotePK, v.ID), nil
	case model.MessageError:
		return errorRecord(accountPK, remotePK, v), nil
	case model.Moderation:
		return moderationRecord(accountPK, remotePK, occupantPK, v), nil
	case model.Retraction:
		return retractionRecord(accountPK, remotePK, occupantPK, v), nil
	case model.Reaction:
		return reactionRecord(accountPK, remotePK, occupantPK, v), nil
	case model.DisplayedMarker:
		return markerRecord(accountPK, remotePK, occupantPK, v), nil
	case model.Receipt:
		return receiptRecord(accountPK, remotePK, v), nil
	}
	return record{}, fmt.Errorf("insert not supported for %s", e.EntityName())
}

func sideRecordScope(e model.Entity) (*model.Conversation, *model.Occupant) {
	switch v := e.(type) {
	case model.Thread:
		return &v.Conversation, nil
	case model.MessageError:
		return &v.Conversation, nil
	case model.Moderation:
		return &v.Conversation, v.Occupant
	case model.Retraction:
		return &v.Conversation, v.Occupant
	case model.Reaction:
		return &v.Conversation, v.Occupant
	case model.DisplayedMarker:
		return &v.Conversation, v.Occupant
	case model.Receipt:
		return &v.Conversation, nil
	}
	return nil, nil
}

// entityUpsert builds the merge description for e.
func (s *Store) entityUpsert(ctx context.Context, q queryer, e model.Entity) (upsert, error) {
	switch v := e.(type) {
	case model.Occupant:
		return s.occupantUpsert(ctx, q, v)
	case model.SecurityLabel:
		accountPK, remotePK, err := s.conversationKeys(ctx, q, v.Account, v.Remote)
		if err != nil {
			return upsert{}, err
		}
		return securityLabelUpsert(accountPK, remotePK, v), nil
	case model.MAMArchiveState:
		accountPK, remotePK, err := s.conversationKeys(ctx, q, v.Account, v.Remote)
		if err != nil {
			return upsert{}, err
		}
		return mamStateUpsert(accountPK, remotePK, v), nil
	}
	return upsert{}, fmt.Errorf("upsert not supported for %s", e.EntityName())
}

// occupantKey upserts o and returns its key; nil occupants have none.
func (s *Store) occupantKey(ctx context.Context, q queryer, o *model.Occupant) (sql.NullInt64, error) {
	if o == nil {
		return sql.NullInt64{}, nil
	}
	u, err := s.occupantUpsert(ctx, q, *o)
	if err != nil {
		return sql.NullInt64{}, err
	}
	pk, err := upsertRecord(ctx, q, u)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: pk, Valid: true}, nil
}

func (s *Store) occupantUpsert(ctx context.Context, q queryer, o model.Occupant) (upsert, error) {
	accountPK, remotePK, err := s.conversationKeys(ctx, q, o.Account, o.Remote)
	if err != nil {
		return upsert{}, err
	}

	var realRemotePK any
	if addr, ok := o.RealRemote.Get(); ok {
		pk, err := s.intern(ctx, q, roleRemote, addr)
		if err != nil {
			return upsert{}, err
		}
		realRemotePK = pk
	}

	o.UpdatedAt = micro(o.UpdatedAt)
	u := upsert{
		record: record{
			table: "occupant",
			cols: []column{
				{"fk_account_pk", accountPK},
				{"fk_remote_pk", remotePK},
				{"id", o.ID},
				{"fk_real_remote_pk", realRemotePK},
				{"nickname", nullString(o.Nickname)},
				{"avatar_sha", optional(o.AvatarSHA, asIs[string])},
				{"blocked", o.Blocked.Or(false)},
				{"updated_at", epoch(o.UpdatedAt)},
			},
			key: []string{"id", "fk_remote_pk", "fk_account_pk"},
		},
		set:   []assignment{{name: "updated_at", value: epoch(o.UpdatedAt)}},
		stamp: "updated_at",
		newer: o.NeedsUpdate,
	}
	if o.Nickname != "" {
		u.set = append(u.set, assignment{name: "nickname", value: o.Nickname})
	}
	if realRemotePK != nil {
		u.set = append(u.set, assignment{name: "fk_real_remote_pk", expr: "coalesce(fk_real_remote_pk, ?)", value: realRemotePK})
	}
	if !o.AvatarSHA.IsMissing() {
		u.set = append(u.set, assignment{name: "avatar_sha", value: optional(o.AvatarSHA, asIs[string])})
	}
	if blocked, ok := o.Blocked.Get(); ok {
		u.set = append(u.set, assignment{name: "blocked", value: blocked})
	}
	return u, nil
}

func securityLabelUpsert(accountPK, remotePK int64, l model.SecurityLabel) upsert {
	l.UpdatedAt = micro(l.UpdatedAt)
	return upsert{
		record: record{
			table: "securitylabel",
			cols: []column{
				{"fk_account_pk", accountPK},
				{"fk_remote_pk", remotePK},
				{"label_hash", l.LabelHash},
				{"displaymarking", l.DisplayMarking},
				{"fgcolor", l.FgColor},
				{"bgcolor", l.BgColor},
				{"updated_at", epoch(l.UpdatedAt)},
			},
			key: []string{"label_hash", "fk_remote_pk", "fk_account_pk"},
		},
		set: []assignment{
			{name: "displaymarking", value: l.DisplayMarking},
			{name: "fgcolor", value: l.FgColor},
			{name: "bgcolor", value: l.BgColor},
			{name: "updated_at", value: epoch(l.UpdatedAt)},
		},
		stamp: "updated_at",
		newer: l.NeedsUpdate,
	}
}

func mamStateUpsert(accountPK, remotePK int64, st model.MAMArchiveState) upsert {
	u := upsert{
		record: record{
			table: "mam_archive_state",
			cols: []column{
				{"fk_account_pk", accountPK},
				{"fk_remote_pk", remotePK},
				{"from_stanza_id", optional(st.FromStanzaID, asIs[string])},
				{"from_stanza_ts", optional(st.FromStanzaTS, timeValue)},
				{"to_stanza_id", optional(st.ToStanzaID, asIs[string])},
				{"to_stanza_ts", optional(st.ToStanzaTS, timeValue)},
			},
			key: []string{"fk_remote_pk", "fk_account_pk"},
		},
	}
	if !st.FromStanzaID.IsMissing() {
		u.set = append(u.set, assignment{name: "from_stanza_id", value: optional(st.FromStanzaID, asIs[string])})
	}
	if !st.FromStanzaTS.IsMissing() {
		u.set = append(u.set, assignment{name: "from_stanza_ts", value: optional(st.FromStanzaTS, timeValue)})
	}
	if !st.ToStanzaID.IsMissing() {
		u.set = append(u.set, assignment{name: "to_stanza_id", value: optional(st.ToStanzaID, asIs[string])})
	}
	if !st.ToStanzaTS.IsMissing() {
		u.set = append(u.set, assignment{name: "to_stanza_ts", value: optional(st.ToStanzaTS, timeValue)})
	}
	return u
}

// resolveKey inserts r or returns the key of the row already stored.
func resolveKey(ctx context.Context, q queryer, r record) (sql.NullInt64, error) {
	pk, err := insertUnique(ctx, q, r)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		pk, err = conflict.ExistingPK, nil
	}
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: pk, Valid: true}, nil
}

type messageRefs struct {
	thread     sql.NullInt64
	occupant   sql.NullInt64
	encryption sql.NullInt64
	label      sql.NullInt64
}

func messageRecord(accountPK, remotePK int64, m model.Message, refs messageRefs) record {
	return record{
		table: "message",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"resource", nullString(m.Resource)},
			{"type", int(m.Type)},
			{"direction", int(m.Direction)},
			{"timestamp", epoch(m.Timestamp)},
			{"state", int(m.State)},
			{"id", nullString(m.ID)},
			{"stanza_id", nullString(m.StanzaID)},
			{"text", nullString(m.Text)},
			{"markup_type", nullInt(int64(m.MarkupType))},
			{"markup", nullString(m.Markup)},
			{"user_delay_ts", nullTime(m.UserDelayTS)},
			{"correction_id", nullString(m.CorrectionID)},
			{"fk_thread_pk", nullKey(refs.thread)},
			{"fk_occupant_pk", nullKey(refs.occupant)},
			{"fk_encryption_pk", nullKey(refs.encryption)},
			{"fk_security_label_pk", nullKey(refs.label)},
		},
		key: []string{"stanza_id", "fk_remote_pk", "fk_account_pk"},
	}
}

func threadRecord(accountPK, remotePK int64, id string) record {
	return record{
		table: "thread",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"id", id},
		},
		key: []string{"id", "fk_remote_pk", "fk_account_pk"},
	}
}

func encryptionRecord(e model.Encryption) record {
	return record{
		table: "encryption",
		cols: []column{
			{"protocol", int(e.Protocol)},
			{"key", e.Key},
			{"trust", int(e.Trust)},
		},
		key: []string{"protocol", "key", "trust"},
	}
}

func errorRecord(accountPK, remotePK int64, e model.MessageError) record {
	return record{
		table: "error",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"message_id", e.MessageID},
			{"by_jid", nullString(e.By)},
			{"type", e.Type},
			{"text", nullString(e.Text)},
			{"condition", e.Condition},
			{"condition_text", nullString(e.ConditionText)},
			{"timestamp", epoch(e.Timestamp)},
		},
		key: []string{"message_id", "fk_remote_pk", "fk_account_pk"},
	}
}

func moderationRecord(accountPK, remotePK int64, occupantPK sql.NullInt64, m model.Moderation) record {
	return record{
		table: "moderation",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"fk_occupant_pk", nullKey(occupantPK)},
			{"stanza_id", m.StanzaID},
			{"by_jid", nullString(m.By)},
			{"reason", nullString(m.Reason)},
			{"timestamp", epoch(m.Timestamp)},
		},
		key: []string{"stanza_id", "fk_remote_pk", "fk_account_pk"},
	}
}

func retractionRecord(accountPK, remotePK int64, occupantPK sql.NullInt64, r model.Retraction) record {
	return record{
		table: "retraction",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"fk_occupant_pk", nullKey(occupantPK)},
			{"id", r.ID},
			{"direction", int(r.Direction)},
			{"timestamp", epoch(r.Timestamp)},
		},
		key: []string{"id", "fk_remote_pk", "fk_occupant_pk", "fk_account_pk", "direction"},
	}
}

func reactionRecord(accountPK, remotePK int64, occupantPK sql.NullInt64, r model.Reaction) record {
	return record{
		table: "reaction",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"fk_occupant_pk", nullKey(occupantPK)},
			{"id", r.ID},
			{"direction", int(r.Direction)},
			{"emojis", r.Emojis},
			{"timestamp", epoch(r.Timestamp)},
		},
		key: []string{"id", "fk_remote_pk", "fk_occupant_pk", "fk_account_pk", "direction"},
	}
}

func markerRecord(accountPK, remotePK int64, occupantPK sql.NullInt64, d model.DisplayedMarker) record {
	return record{
		table: "displayed_marker",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"fk_occupant_pk", nullKey(occupantPK)},
			{"id", d.ID},
			{"timestamp", epoch(d.Timestamp)},
		},
		key: []string{"id", "fk_remote_pk", "fk_occupant_pk", "fk_account_pk"},
	}
}

func receiptRecord(accountPK, remotePK int64, r model.Receipt) record {
	return record{
		table: "receipt",
		cols: []column{
			{"fk_account_pk", accountPK},
			{"fk_remote_pk", remotePK},
			{"id", r.ID},
			{"timestamp", epoch(r.Timestamp)},
		},
		key: []string{"id", "fk_remote_pk", "fk_account_pk"},
	}
}

// insertOwned writes the rows owned by a message.
func insertOwned(ctx context.Context, q queryer, messagePK int64, m model.Message) error {
	for _, o := range m.OOB {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO oob (fk_message_pk, url, description) VALUES (?, ?, ?)",
			messagePK, o.URL, nullString(o.Description)); err != nil {
			return fmt.Errorf("insert oob: %w", err)
		}
	}

	if m.Reply != nil {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO reply (fk_message_pk, id, to_jid) VALUES (?, ?, ?)",
			messagePK, m.Reply.ID, nullString(m.Reply.To)); err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
	}

	if m.Call != nil {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO call (fk_message_pk, sid, end_ts, state) VALUES (?, ?, ?, ?)",
			messagePK, m.Call.SID, nullTime(m.Call.EndTS), m.Call.State); err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
	}

	for _, ft := range m.FileTransfers {
		var ftPK int64
		err := q.QueryRowContext(ctx, `
			INSERT INTO filetransfer (fk_message_pk, date, description, hash, hash_algo,
				height, width, length, media_type, name, size, state, path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING pk`,
			messagePK, nullTime(ft.Date), nullString(ft.Desc), nullString(ft.Hash), nullString(ft.HashAlgo),
			nullInt(ft.Height), nullInt(ft.Width), nullInt(ft.Length), nullString(ft.MediaType),
			nullString(ft.Name), ft.Size, ft.State, nullString(ft.Path),
		).Scan(&ftPK)
		if err != nil {
			return fmt.Errorf("insert filetransfer: %w", err)
		}

		for _, src := range ft.Sources {
			if err := insertSource(ctx, q, ftPK, src); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertSource(ctx context.Context, q queryer, ftPK int64, src model.FileTransferSource) error {
	var target, schemeData, sid, sourceID any
	switch v := src.(type) {
	case model.URLData:
		target = v.Target
		if v.SchemeData != nil {
			data, err := json.Marshal(v.SchemeData)
			if err != nil {
				return fmt.Errorf("encode scheme data: %w", err)
			}
			schemeData = string(data)
		}
	case *model.URLData:
		return insertSource(ctx, q, ftPK, *v)
	case model.JingleFT:
		sid = v.SID
	case *model.JingleFT:
		return insertSource(ctx, q, ftPK, *v)
	case model.JinglePub:
		sourceID = v.ID
	case *model.JinglePub:
		return insertSource(ctx, q, ftPK, *v)
	default:
		return fmt.Errorf("unknown file transfer source %T", src)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO ft_source (fk_filetransfer_pk, type, target, scheme_data, sid, source_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ftPK, src.SourceType(), target, schemeData, sid, sourceID)
	if err != nil {
		return fmt.Errorf("insert ft_source: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
