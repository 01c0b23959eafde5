package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
	"github.com/roach88/msgarchive/internal/queryir"
)

// messageColumns are the message_view columns scanMessage reads.
var messageColumns = []string{
	"pk", "fk_account_pk", "fk_remote_pk", "account_jid", "remote_jid",
	"resource", "type", "direction", "timestamp", "state",
	"id", "stanza_id", "text", "markup_type", "markup", "correction_id", "user_delay_ts",
	"fk_thread_pk", "fk_occupant_pk", "fk_encryption_pk", "fk_security_label_pk",
}

// storedMessage is a message row before its relationships are resolved.
type storedMessage struct {
	row       *model.MessageRow
	accountPK int64
	remotePK  int64

	// timestamp is the stored value, used verbatim for keyset paging.
	timestamp float64

	thread     sql.NullInt64
	occupant   sql.NullInt64
	encryption sql.NullInt64
	label      sql.NullInt64
}

func scanMessage(rows *sql.Rows) (*storedMessage, error) {
	var sm storedMessage
	var row model.MessageRow
	var accountJID, remoteJID string
	var resource, id, stanzaID, text, markup, correctionID sql.NullString
	var markupType sql.NullInt64
	var typ, direction, state int
	var userDelay sql.NullFloat64
	err := rows.Scan(
		&row.PK, &sm.accountPK, &sm.remotePK, &accountJID, &remoteJID,
		&resource, &typ, &direction, &sm.timestamp, &state,
		&id, &stanzaID, &text, &markupType, &markup, &correctionID, &userDelay,
		&sm.thread, &sm.occupant, &sm.encryption, &sm.label,
	)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if row.Account, err = jid.Parse(accountJID); err != nil {
		return nil, fmt.Errorf("message %d: account: %w", row.PK, err)
	}
	if row.Remote, err = jid.Parse(remoteJID); err != nil {
		return nil, fmt.Errorf("message %d: remote: %w", row.PK, err)
	}
	row.Resource = resource.String
	row.Type = model.MessageType(typ)
	row.Direction = model.ChatDirection(direction)
	row.Timestamp = fromEpoch(sm.timestamp)
	row.State = model.MessageState(state)
	row.ID = id.String
	row.StanzaID = stanzaID.String
	row.Text = text.String
	row.MarkupType = int(markupType.Int64)
	row.Markup = markup.String
	row.CorrectionID = correctionID.String
	row.UserDelayTS = scanTime(userDelay)

	sm.row = &row
	return &sm, nil
}

// queryAll runs query and scans every row before returning, so the single
// connection is free for the next query.
func queryAll[T any](ctx context.Context, q queryer, scan func(*sql.Rows) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// selectMessages compiles sel against message_view and scans the result.
func (s *Store) selectMessages(ctx context.Context, q queryer, sel queryir.Select) ([]*storedMessage, error) {
	sel.From = "message_view"
	sel.Columns = messageColumns

	query, args, err := s.compiler.Compile(sel)
	if err != nil {
		return nil, err
	}
	msgs, err := queryAll(ctx, q, scanMessage, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return msgs, nil
}

// conversationFilter scopes a message query to one conversation.
func conversationFilter(accountPK, remotePK int64) queryir.Predicate {
	return queryir.All(
		queryir.Equals{Field: "fk_account_pk", Value: accountPK},
		queryir.Equals{Field: "fk_remote_pk", Value: remotePK},
	)
}

// revisionFilter matches messages of the same revision chain as m: same
// conversation and direction, and the same occupant, falling back to the
// resource for group chat messages without one.
func revisionFilter(m *storedMessage, match queryir.Predicate) queryir.Predicate {
	preds := []queryir.Predicate{
		match,
		queryir.Equals{Field: "fk_remote_pk", Value: m.remotePK},
		queryir.Equals{Field: "fk_account_pk", Value: m.accountPK},
		queryir.Equals{Field: "direction", Value: int(m.row.Direction)},
	}
	switch {
	case m.occupant.Valid:
		preds = append(preds, queryir.Equals{Field: "fk_occupant_pk", Value: m.occupant.Int64})
	case m.row.Type == model.MessageTypeGroupchat:
		preds = append(preds, queryir.IsNull{Field: "fk_occupant_pk"})
		if m.row.Resource == "" {
			preds = append(preds, queryir.IsNull{Field: "resource"})
		} else {
			preds = append(preds, queryir.Equals{Field: "resource", Value: m.row.Resource})
		}
	default:
		preds = append(preds, queryir.IsNull{Field: "fk_occupant_pk"})
	}
	return queryir.All(preds...)
}

// refID is the identifier side records use to point at m: the stanza id in
// group chats, the protocol id otherwise.
func refID(m *model.Message) string {
	if m.Type == model.MessageTypeGroupchat {
		return m.StanzaID
	}
	return m.ID
}

// assembler resolves the relationships of stored messages.
type assembler struct {
	s         *Store
	q         queryer
	occupants map[int64]*model.Occupant
}

func (s *Store) newAssembler(q queryer) *assembler {
	return &assembler{s: s, q: q, occupants: make(map[int64]*model.Occupant)}
}

// assemble resolves every message in msgs, including revision chains.
func (a *assembler) assemble(ctx context.Context, msgs []*storedMessage) ([]*model.MessageRow, error) {
	out := make([]*model.MessageRow, 0, len(msgs))
	for _, m := range msgs {
		if err := a.resolve(ctx, m, true); err != nil {
			return nil, err
		}
		out = append(out, m.row)
	}
	return out, nil
}

func (a *assembler) resolve(ctx context.Context, m *storedMessage, withCorrections bool) error {
	row := m.row
	var err error

	if m.thread.Valid {
		err := a.q.QueryRowContext(ctx, "SELECT id FROM thread WHERE pk = ?", m.thread.Int64).Scan(&row.ThreadID)
		if err != nil {
			return fmt.Errorf("load thread: %w", err)
		}
	}
	if row.Occupant, err = a.occupant(ctx, m.occupant, row.Conversation); err != nil {
		return err
	}
	if row.Encryption, err = a.encryption(ctx, m.encryption); err != nil {
		return err
	}
	if row.SecurityLabel, err = a.securityLabel(ctx, m.label, row.Conversation); err != nil {
		return err
	}
	if err := a.owned(ctx, row); err != nil {
		return err
	}
	if err := a.sideRecords(ctx, m); err != nil {
		return err
	}
	if withCorrections {
		if row.Corrections, err = a.corrections(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (a *assembler) occupant(ctx context.Context, pk sql.NullInt64, conv model.Conversation) (*model.Occupant, error) {
	if !pk.Valid {
		return nil, nil
	}
	if o, ok := a.occupants[pk.Int64]; ok {
		return o, nil
	}

	o, err := loadOccupant(ctx, a.q, pk.Int64, conv)
	if err != nil {
		return nil, err
	}
	a.occupants[pk.Int64] = o
	return o, nil
}

const occupantColumns = "o.id, o.nickname, o.avatar_sha, o.blocked, o.updated_at, rr.jid"

func loadOccupant(ctx context.Context, q queryer, pk int64, conv model.Conversation) (*model.Occupant, error) {
	rows, err := queryAll(ctx, q, scanOccupant,
		"SELECT "+occupantColumns+" FROM occupant o LEFT JOIN remote rr ON rr.pk = o.fk_real_remote_pk WHERE o.pk = ?", pk)
	if err != nil {
		return nil, fmt.Errorf("load occupant: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("load occupant: %d not found", pk)
	}
	o := rows[0]
	o.Conversation = conv
	return o, nil
}

func scanOccupant(rows *sql.Rows) (*model.Occupant, error) {
	return scanOccupantWith(rows)
}

// scanOccupantWith scans occupantColumns followed by extra destinations.
func scanOccupantWith(rows *sql.Rows, extra ...any) (*model.Occupant, error) {
	var o model.Occupant
	var nickname, avatar, realJID sql.NullString
	var blocked bool
	var updatedAt float64
	dest := append([]any{&o.ID, &nickname, &avatar, &blocked, &updatedAt, &realJID}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	o.Nickname = nickname.String
	o.AvatarSHA = model.Null[string]()
	if avatar.Valid {
		o.AvatarSHA = model.Some(avatar.String)
	}
	o.Blocked = model.Some(blocked)
	o.UpdatedAt = fromEpoch(updatedAt)
	o.RealRemote = model.Null[jid.JID]()
	if realJID.Valid {
		addr, err := jid.Parse(realJID.String)
		if err != nil {
			return nil, fmt.Errorf("occupant %s: real remote: %w", o.ID, err)
		}
		o.RealRemote = model.Some(addr)
	}
	return &o, nil
}

func (a *assembler) encryption(ctx context.Context, pk sql.NullInt64) (*model.Encryption, error) {
	if !pk.Valid {
		return nil, nil
	}
	var e model.Encryption
	err := a.q.QueryRowContext(ctx, "SELECT protocol, key, trust FROM encryption WHERE pk = ?", pk.Int64).
		Scan(&e.Protocol, &e.Key, &e.Trust)
	if err != nil {
		return nil, fmt.Errorf("load encryption: %w", err)
	}
	return &e, nil
}

func (a *assembler) securityLabel(ctx context.Context, pk sql.NullInt64, conv model.Conversation) (*model.SecurityLabel, error) {
	if !pk.Valid {
		return nil, nil
	}
	l := model.SecurityLabel{Conversation: conv}
	var updatedAt float64
	err := a.q.QueryRowContext(ctx,
		"SELECT label_hash, displaymarking, fgcolor, bgcolor, updated_at FROM securitylabel WHERE pk = ?", pk.Int64).
		Scan(&l.LabelHash, &l.DisplayMarking, &l.FgColor, &l.BgColor, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("load security label: %w", err)
	}
	l.UpdatedAt = fromEpoch(updatedAt)
	return &l, nil
}

// owned loads attachments, the reply, the call and file transfers.
func (a *assembler) owned(ctx context.Context, row *model.MessageRow) error {
	oobs, err := queryAll(ctx, a.q, func(rows *sql.Rows) (model.OOB, error) {
		var o model.OOB
		var desc sql.NullString
		err := rows.Scan(&o.URL, &desc)
		o.Description = desc.String
		return o, err
	}, "SELECT url, description FROM oob WHERE fk_message_pk = ? ORDER BY pk", row.PK)
	if err != nil {
		return fmt.Errorf("load oob: %w", err)
	}
	row.OOB = oobs

	var reply model.Reply
	var to sql.NullString
	err = a.q.QueryRowContext(ctx, "SELECT id, to_jid FROM reply WHERE fk_message_pk = ?", row.PK).Scan(&reply.ID, &to)
	switch {
	case err == nil:
		reply.To = to.String
		row.Reply = &reply
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load reply: %w", err)
	}

	var call model.Call
	var endTS sql.NullFloat64
	err = a.q.QueryRowContext(ctx, "SELECT sid, end_ts, state FROM call WHERE fk_message_pk = ?", row.PK).
		Scan(&call.SID, &endTS, &call.State)
	switch {
	case err == nil:
		call.EndTS = scanTime(endTS)
		row.Call = &call
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load call: %w", err)
	}

	type storedTransfer struct {
		pk int64
		ft model.FileTransfer
	}
	transfers, err := queryAll(ctx, a.q, func(rows *sql.Rows) (storedTransfer, error) {
		var st storedTransfer
		var date sql.NullFloat64
		var desc, hash, hashAlgo, mediaType, name, path sql.NullString
		var height, width, length sql.NullInt64
		err := rows.Scan(&st.pk, &date, &desc, &hash, &hashAlgo, &height, &width, &length,
			&mediaType, &name, &st.ft.Size, &st.ft.State, &path)
		st.ft.Date = scanTime(date)
		st.ft.Desc = desc.String
		st.ft.Hash = hash.String
		st.ft.HashAlgo = hashAlgo.String
		st.ft.Height = height.Int64
		st.ft.Width = width.Int64
		st.ft.Length = length.Int64
		st.ft.MediaType = mediaType.String
		st.ft.Name = name.String
		st.ft.Path = path.String
		return st, err
	}, `SELECT pk, date, description, hash, hash_algo, height, width, length,
			media_type, name, size, state, path
		FROM filetransfer WHERE fk_message_pk = ? ORDER BY pk`, row.PK)
	if err != nil {
		return fmt.Errorf("load filetransfer: %w", err)
	}

	row.FileTransfers = nil
	for _, st := range transfers {
		sources, err := queryAll(ctx, a.q, scanSource,
			"SELECT type, target, scheme_data, sid, source_id FROM ft_source WHERE fk_filetransfer_pk = ? ORDER BY pk", st.pk)
		if err != nil {
			return fmt.Errorf("load ft_source: %w", err)
		}
		st.ft.Sources = sources
		row.FileTransfers = append(row.FileTransfers, st.ft)
	}
	return nil
}

func scanSource(rows *sql.Rows) (model.FileTransferSource, error) {
	var typ string
	var target, schemeData, sid, sourceID sql.NullString
	if err := rows.Scan(&typ, &target, &schemeData, &sid, &sourceID); err != nil {
		return nil, err
	}

	switch typ {
	case model.SourceURLData:
		src := model.URLData{Target: target.String}
		if schemeData.Valid {
			if err := json.Unmarshal([]byte(schemeData.String), &src.SchemeData); err != nil {
				return nil, fmt.Errorf("decode scheme data: %w", err)
			}
		}
		return src, nil
	case model.SourceJingleFT:
		return model.JingleFT{SID: sid.String}, nil
	case model.SourceJinglePub:
		return model.JinglePub{ID: sourceID.String}, nil
	}
	return nil, fmt.Errorf("unknown file transfer source type %q", typ)
}

// sideRecords attaches reactions, retraction, moderation, error, receipt
// and displayed markers to m.
func (a *assembler) sideRecords(ctx context.Context, m *storedMessage) error {
	row := m.row
	conv := row.Conversation
	scope := []any{m.remotePK, m.accountPK}

	// A record carrying an occupant only attaches to messages of the same
	// occupant or to messages without one.
	occupantScope := ""
	if m.occupant.Valid {
		occupantScope = " AND (fk_occupant_pk IS NULL OR fk_occupant_pk = ?)"
	}
	withOccupant := func(args ...any) []any {
		if m.occupant.Valid {
			return append(args, m.occupant.Int64)
		}
		return args
	}

	if ref := refID(&row.Message); ref != "" {
		type sideRow struct {
			occupant  sql.NullInt64
			id        string
			direction int
			emojis    string
			timestamp float64
		}

		reactions, err := queryAll(ctx, a.q, func(rows *sql.Rows) (sideRow, error) {
			var r sideRow
			err := rows.Scan(&r.occupant, &r.id, &r.direction, &r.emojis, &r.timestamp)
			return r, err
		}, "SELECT fk_occupant_pk, id, direction, emojis, timestamp FROM reaction"+
			" WHERE id = ? AND fk_remote_pk = ? AND fk_account_pk = ?"+occupantScope+
			" ORDER BY timestamp, pk", withOccupant(append([]any{ref}, scope...)...)...)
		if err != nil {
			return fmt.Errorf("load reactions: %w", err)
		}
		for _, r := range reactions {
			occ, err := a.occupant(ctx, r.occupant, conv)
			if err != nil {
				return err
			}
			row.Reactions = append(row.Reactions, model.Reaction{
				Conversation: conv,
				Occupant:     occ,
				ID:           r.id,
				Direction:    model.ChatDirection(r.direction),
				Emojis:       r.emojis,
				Timestamp:    fromEpoch(r.timestamp),
			})
		}

		retractions, err := queryAll(ctx, a.q, func(rows *sql.Rows) (sideRow, error) {
			var r sideRow
			err := rows.Scan(&r.occupant, &r.id, &r.direction, &r.timestamp)
			return r, err
		}, "SELECT fk_occupant_pk, id, direction, timestamp FROM retraction"+
			" WHERE id = ? AND fk_remote_pk = ? AND fk_account_pk = ? AND direction = ?"+occupantScope+
			" ORDER BY timestamp, pk LIMIT 1",
			withOccupant(append(append([]any{ref}, scope...), int(row.Direction))...)...)
		if err != nil {
			return fmt.Errorf("load retraction: %w", err)
		}
		if len(retractions) > 0 {
			r := retractions[0]
			occ, err := a.occupant(ctx, r.occupant, conv)
			if err != nil {
				return err
			}
			row.Retraction = &model.Retraction{
				Conversation: conv,
				Occupant:     occ,
				ID:           r.id,
				Direction:    model.ChatDirection(r.direction),
				Timestamp:    fromEpoch(r.timestamp),
			}
		}

		markers, err := queryAll(ctx, a.q, func(rows *sql.Rows) (sideRow, error) {
			var r sideRow
			err := rows.Scan(&r.occupant, &r.id, &r.timestamp)
			return r, err
		}, "SELECT fk_occupant_pk, id, timestamp FROM displayed_marker"+
			" WHERE id = ? AND fk_remote_pk = ? AND fk_account_pk = ? ORDER BY timestamp, pk",
			append([]any{ref}, scope...)...)
		if err != nil {
			return fmt.Errorf("load displayed markers: %w", err)
		}
		for _, r := range markers {
			occ, err := a.occupant(ctx, r.occupant, conv)
			if err != nil {
				return err
			}
			row.Markers = append(row.Markers, model.DisplayedMarker{
				Conversation: conv,
				Occupant:     occ,
				ID:           r.id,
				Timestamp:    fromEpoch(r.timestamp),
			})
		}
	}

	if row.StanzaID != "" {
		if err := a.moderation(ctx, m, scope); err != nil {
			return err
		}
	}

	if row.ID != "" {
		var e model.MessageError
		var by, text, conditionText sql.NullString
		var ts float64
		err := a.q.QueryRowContext(ctx, `
			SELECT message_id, by_jid, type, text, condition, condition_text, timestamp
			FROM error WHERE message_id = ? AND fk_remote_pk = ? AND fk_account_pk = ?`,
			append([]any{row.ID}, scope...)...).
			Scan(&e.MessageID, &by, &e.Type, &text, &e.Condition, &conditionText, &ts)
		switch {
		case err == nil:
			e.Conversation = conv
			e.By, e.Text, e.ConditionText = by.String, text.String, conditionText.String
			e.Timestamp = fromEpoch(ts)
			row.Error = &e
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("load error: %w", err)
		}

		var r model.Receipt
		err = a.q.QueryRowContext(ctx,
			"SELECT id, timestamp FROM receipt WHERE id = ? AND fk_remote_pk = ? AND fk_account_pk = ?",
			append([]any{row.ID}, scope...)...).Scan(&r.ID, &ts)
		switch {
		case err == nil:
			r.Conversation = conv
			r.Timestamp = fromEpoch(ts)
			row.Receipt = &r
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("load receipt: %w", err)
		}
	}
	return nil
}

func (a *assembler) moderation(ctx context.Context, m *storedMessage, scope []any) error {
	row := m.row
	var (
		mod        model.Moderation
		occupantPK sql.NullInt64
		by, reason sql.NullString
		ts         float64
	)
	err := a.q.QueryRowContext(ctx, `
		SELECT fk_occupant_pk, stanza_id, by_jid, reason, timestamp
		FROM moderation WHERE stanza_id = ? AND fk_remote_pk = ? AND fk_account_pk = ?`,
		append([]any{row.StanzaID}, scope...)...).
		Scan(&occupantPK, &mod.StanzaID, &by, &reason, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load moderation: %w", err)
	}

	mod.Conversation = row.Conversation
	mod.By, mod.Reason = by.String, reason.String
	mod.Timestamp = fromEpoch(ts)
	if mod.Occupant, err = a.occupant(ctx, occupantPK, row.Conversation); err != nil {
		return err
	}
	row.Moderation = &mod
	return nil
}

// corrections returns every revision of root, following edits of edits,
// ordered by timestamp.
func (a *assembler) corrections(ctx context.Context, root *storedMessage) ([]*model.MessageRow, error) {
	chain, err := a.s.revisionChain(ctx, a.q, root)
	if err != nil {
		return nil, err
	}

	out := make([]*model.MessageRow, 0, len(chain))
	for _, m := range chain {
		if err := a.resolve(ctx, m, false); err != nil {
			return nil, err
		}
		out = append(out, m.row)
	}
	return out, nil
}

// revisionChain returns the stored corrections of root and, transitively,
// of its corrections, ordered by (timestamp, pk).
func (s *Store) revisionChain(ctx context.Context, q queryer, root *storedMessage) ([]*storedMessage, error) {
	if root.row.ID == "" {
		return nil, nil
	}

	seen := map[int64]bool{root.row.PK: true}
	queue := []string{root.row.ID}
	var found []*storedMessage
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		msgs, err := s.selectMessages(ctx, q, queryir.Select{
			Filter:  revisionFilter(root, queryir.Equals{Field: "correction_id", Value: id}),
			OrderBy: []queryir.Order{queryir.Asc("timestamp")},
		})
		if err != nil {
			return nil, fmt.Errorf("load corrections: %w", err)
		}
		for _, m := range msgs {
			if seen[m.row.PK] {
				continue
			}
			seen[m.row.PK] = true
			found = append(found, m)
			if m.row.ID != "" {
				queue = append(queue, m.row.ID)
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].timestamp == found[j].timestamp {
			return found[i].row.PK < found[j].row.PK
		}
		return found[i].timestamp < found[j].timestamp
	})
	return found, nil
}
