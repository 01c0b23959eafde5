package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roach88/msgarchive/internal/jid"
	"github.com/roach88/msgarchive/internal/model"
)

// legacyBatch is the number of legacy rows read per query and the
// interval at which migration progress is reported.
const legacyBatch = 1000

const stanzasNS = "urn:ietf:params:xml:ns:xmpp-stanzas"

// legacyKinds maps the legacy row kinds that carry messages. Status and
// info rows are not migrated.
var legacyKinds = map[int]struct {
	typ       model.MessageType
	direction model.ChatDirection
}{
	2: {model.MessageTypeGroupchat, model.DirectionIncoming},
	4: {model.MessageTypeChat, model.DirectionIncoming},
	6: {model.MessageTypeChat, model.DirectionOutgoing},
}

type legacyRow struct {
	id             int64
	account        sql.NullString
	remote         sql.NullString
	contactName    sql.NullString
	time           sql.NullFloat64
	kind           int
	message        sql.NullString
	errorXML       sql.NullString
	additionalData sql.NullString
	stanzaID       sql.NullString
	messageID      sql.NullString
}

// legacyData is the JSON side channel stored with each legacy row.
type legacyData struct {
	UserTimestamp *float64 `json:"user_timestamp"`
	Encrypted     *struct {
		Name        string          `json:"name"`
		Fingerprint *string         `json:"fingerprint"`
		Trust       json.RawMessage `json:"trust"`
	} `json:"encrypted"`
	Corrected *struct {
		OriginalText string `json:"original_text"`
	} `json:"corrected"`
	Gajim *struct {
		OOBURL  *string `json:"oob_url"`
		OOBDesc *string `json:"oob_desc"`
	} `json:"gajim"`
}

type legacyMigrator struct {
	s           *Store
	tx          *sql.Tx
	encryptions map[model.Encryption]sql.NullInt64
}

// migrateLegacyLogs rewrites the flat logs table into the normalized
// schema and drops the legacy tables. Rows that cannot be attributed to a
// conversation are skipped with a warning; an unreadable side channel
// aborts the migration.
func (s *Store) migrateLegacyLogs(ctx context.Context, tx *sql.Tx) error {
	if err := applySchema(ctx, tx); err != nil {
		return err
	}

	m := &legacyMigrator{s: s, tx: tx, encryptions: make(map[model.Encryption]sql.NullInt64)}

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT count(*) FROM logs WHERE kind IN (2, 4, 6)").Scan(&total); err != nil {
		return fmt.Errorf("count legacy rows: %w", err)
	}
	s.log.Info("migrating legacy messages", "count", total)

	var processed int
	var last int64 = -1
	for {
		rows, err := queryAll(ctx, tx, scanLegacyRow, `
			SELECT l.log_line_id, a.jid, r.jid, l.contact_name, l.time, l.kind,
				l.message, l.error, l.additional_data, l.stanza_id, l.message_id
			FROM logs l
			LEFT JOIN jids a ON a.jid_id = l.account_id
			LEFT JOIN jids r ON r.jid_id = l.jid_id
			WHERE l.kind IN (2, 4, 6) AND l.log_line_id > ?
			ORDER BY l.log_line_id
			LIMIT ?`, last, legacyBatch)
		if err != nil {
			return fmt.Errorf("read legacy rows: %w", err)
		}

		for _, row := range rows {
			if err := m.migrateRow(ctx, row); err != nil {
				return fmt.Errorf("legacy row %d: %w", row.id, err)
			}
			if processed%legacyBatch == 0 {
				s.reportProgress(processed, total)
			}
			processed++
		}
		if len(rows) < legacyBatch {
			break
		}
		last = rows[len(rows)-1].id
	}
	s.reportProgress(total, total)

	exists, err := tableExists(ctx, tx, "last_archive_message")
	if err != nil {
		return err
	}
	if exists {
		if err := m.migrateArchiveStates(ctx); err != nil {
			return err
		}
	}

	for _, table := range []string{"last_archive_message", "logs", "jids", "unread_messages"} {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) reportProgress(processed, total int) {
	if s.progress != nil {
		s.progress(processed, total)
	}
}

func scanLegacyRow(rows *sql.Rows) (legacyRow, error) {
	var r legacyRow
	err := rows.Scan(&r.id, &r.account, &r.remote, &r.contactName, &r.time, &r.kind,
		&r.message, &r.errorXML, &r.additionalData, &r.stanzaID, &r.messageID)
	return r, err
}

func (m *legacyMigrator) migrateRow(ctx context.Context, row legacyRow) error {
	log := m.s.log.With("log_line_id", row.id)
	kind := legacyKinds[row.kind]

	if !row.time.Valid {
		log.Warn("unable to migrate message, timestamp is empty")
		return nil
	}
	if !row.account.Valid {
		log.Warn("unable to migrate message, account not found")
		return nil
	}
	if !row.remote.Valid {
		log.Warn("unable to migrate message, remote not found")
		return nil
	}
	account, err := jid.Parse(row.account.String)
	if err != nil {
		log.Warn("unable to migrate message, invalid account address", "jid", row.account.String, "error", err)
		return nil
	}
	remote, err := jid.Parse(row.remote.String)
	if err != nil {
		log.Warn("unable to migrate message, invalid remote address", "jid", row.remote.String, "error", err)
		return nil
	}

	var data legacyData
	if row.additionalData.Valid && row.additionalData.String != "" {
		if err := json.Unmarshal([]byte(row.additionalData.String), &data); err != nil {
			return fmt.Errorf("failed to parse additional_data %q: %w", row.additionalData.String, err)
		}
	}

	msg := model.Message{
		Conversation: model.Conversation{Account: account.Bare(), Remote: remote.Bare()},
		Resource:     row.contactName.String,
		Type:         kind.typ,
		Direction:    kind.direction,
		Timestamp:    fromEpoch(row.time.Float64),
		State:        model.StateAcknowledged,
		ID:           row.messageID.String,
		StanzaID:     row.stanzaID.String,
		Text:         row.message.String,
	}
	// Private messages were logged against the occupant's full address.
	if !remote.IsBare() && kind.typ == model.MessageTypeChat {
		msg.Type = model.MessageTypePrivate
		msg.Resource = remote.Resource()
	}
	if data.UserTimestamp != nil {
		msg.UserDelayTS = fromEpoch(*data.UserTimestamp)
	}
	if data.Corrected != nil && data.Corrected.OriginalText != "" {
		msg.Text = data.Corrected.OriginalText
	}
	if data.Gajim != nil && data.Gajim.OOBURL != nil {
		o := model.OOB{URL: *data.Gajim.OOBURL}
		if data.Gajim.OOBDesc != nil {
			o.Description = *data.Gajim.OOBDesc
		}
		msg.OOB = append(msg.OOB, o)
	}
	if err := msg.Validate(); err != nil {
		log.Warn("unable to migrate message", "error", err)
		return nil
	}

	accountPK, remotePK, err := m.s.conversationKeys(ctx, m.tx, msg.Account, msg.Remote)
	if err != nil {
		return err
	}
	var refs messageRefs
	if refs.encryption, err = m.encryption(ctx, data); err != nil {
		return err
	}

	pk, err := insertUnique(ctx, m.tx, messageRecord(accountPK, remotePK, msg, refs))
	if errors.Is(err, ErrConflict) {
		log.Warn("duplicate stanza id, assigning a new one", "stanza_id", msg.StanzaID)
		msg.StanzaID = uuid.NewString()
		pk, err = insertUnique(ctx, m.tx, messageRecord(accountPK, remotePK, msg, refs))
	}
	if err != nil {
		return err
	}
	if err := insertOwned(ctx, m.tx, pk, msg); err != nil {
		return err
	}

	return m.migrateError(ctx, accountPK, remotePK, row, msg.Timestamp)
}

func (m *legacyMigrator) encryption(ctx context.Context, data legacyData) (sql.NullInt64, error) {
	enc := data.Encrypted
	if enc == nil {
		return sql.NullInt64{}, nil
	}
	protocol, ok := model.ParseEncryptionProtocol(enc.Name)
	if !ok {
		return sql.NullInt64{}, nil
	}

	e := model.Encryption{Protocol: protocol, Key: "Unknown", Trust: legacyTrust(enc.Trust)}
	if enc.Fingerprint != nil && *enc.Fingerprint != "" {
		e.Key = *enc.Fingerprint
	}
	if pk, ok := m.encryptions[e]; ok {
		return pk, nil
	}
	pk, err := resolveKey(ctx, m.tx, encryptionRecord(e))
	if err != nil {
		return sql.NullInt64{}, err
	}
	m.encryptions[e] = pk
	return pk, nil
}

// legacyTrust reads a stored trust level. Absent levels predate trust
// tracking and count as verified; unknown ones as untrusted.
func legacyTrust(raw json.RawMessage) model.Trust {
	if len(raw) == 0 || string(raw) == "null" {
		return model.TrustVerified
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || !model.Trust(n).Valid() {
		return model.TrustUntrusted
	}
	return model.Trust(n)
}

// migrateError stores the delivery error serialized with a legacy row.
// Unparseable errors are dropped.
func (m *legacyMigrator) migrateError(ctx context.Context, accountPK, remotePK int64, row legacyRow, ts time.Time) error {
	if !row.errorXML.Valid || row.errorXML.String == "" || row.messageID.String == "" {
		return nil
	}
	e, ok := parseStanzaError(row.errorXML.String)
	if !ok {
		m.s.log.Debug("dropping unparseable legacy error", "log_line_id", row.id)
		return nil
	}
	e.MessageID = row.messageID.String
	e.Timestamp = ts.Add(time.Second)

	_, err := insertUnique(ctx, m.tx, errorRecord(accountPK, remotePK, e))
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func (n xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// parseStanzaError reads an <error/> element, either at the root or as a
// child of the stanza that carried it.
func parseStanzaError(s string) (model.MessageError, bool) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(s), &root); err != nil {
		return model.MessageError{}, false
	}

	el := root
	if el.XMLName.Local != "error" {
		found := false
		for _, c := range root.Children {
			if c.XMLName.Local == "error" {
				el, found = c, true
				break
			}
		}
		if !found {
			return model.MessageError{}, false
		}
	}

	e := model.MessageError{Type: el.attr("type"), By: el.attr("by")}
	for _, c := range el.Children {
		if c.XMLName.Space != stanzasNS {
			continue
		}
		if c.XMLName.Local == "text" {
			e.Text = strings.TrimSpace(c.Content)
			continue
		}
		if e.Condition == "" {
			e.Condition = c.XMLName.Local
			e.ConditionText = strings.TrimSpace(c.Content)
		}
	}
	if e.Type == "" || e.Condition == "" {
		return model.MessageError{}, false
	}
	return e, true
}

// migrateArchiveStates copies the legacy archive sync positions to every
// configured account.
func (m *legacyMigrator) migrateArchiveStates(ctx context.Context) error {
	type archiveRow struct {
		jidID  int64
		remote sql.NullString
		lastID sql.NullString
		oldest sql.NullString
		lastTS sql.NullString
	}
	rows, err := queryAll(ctx, m.tx, func(rows *sql.Rows) (archiveRow, error) {
		var r archiveRow
		err := rows.Scan(&r.jidID, &r.remote, &r.lastID, &r.oldest, &r.lastTS)
		return r, err
	}, `
		SELECT la.jid_id, j.jid, la.last_mam_id, la.oldest_mam_timestamp, la.last_muc_timestamp
		FROM last_archive_message la
		LEFT JOIN jids j ON j.jid_id = la.jid_id
		ORDER BY la.jid_id`)
	if err != nil {
		return fmt.Errorf("read legacy archive states: %w", err)
	}

	var accountPKs []int64
	if m.s.accounts != nil {
		for _, acc := range m.s.accounts.Accounts() {
			pk, err := m.s.intern(ctx, m.tx, roleAccount, acc.Address.Bare())
			if err != nil {
				return err
			}
			accountPKs = append(accountPKs, pk)
		}
	}
	if len(accountPKs) == 0 {
		return nil
	}

	for _, row := range rows {
		if !row.remote.Valid {
			m.s.log.Warn("unable to migrate archive state, remote not found", "jid_id", row.jidID)
			continue
		}
		remote, err := jid.Parse(row.remote.String)
		if err != nil {
			m.s.log.Warn("unable to migrate archive state, invalid remote address", "jid", row.remote.String, "error", err)
			continue
		}

		st := model.MAMArchiveState{
			FromStanzaID: model.Null[string](),
			FromStanzaTS: legacyTimestamp(row.oldest),
			ToStanzaID:   model.Null[string](),
			ToStanzaTS:   model.Null[time.Time](),
		}
		if row.lastID.Valid && row.lastTS.Valid {
			st.ToStanzaID = model.Some(row.lastID.String)
			st.ToStanzaTS = legacyTimestamp(row.lastTS)
		}
		if !st.FromStanzaTS.IsSet() && !st.ToStanzaID.IsSet() && !st.ToStanzaTS.IsSet() {
			continue
		}

		remotePK, err := m.s.intern(ctx, m.tx, roleRemote, remote.Bare())
		if err != nil {
			return err
		}
		for _, accountPK := range accountPKs {
			_, err := insertUnique(ctx, m.tx, mamStateUpsert(accountPK, remotePK, st).record)
			if errors.Is(err, ErrConflict) {
				m.s.log.Warn("archive state already migrated", "remote", remote.String())
				break
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// legacyTimestamp parses a legacy epoch timestamp stored as text.
func legacyTimestamp(s sql.NullString) model.Optional[time.Time] {
	if !s.Valid {
		return model.Null[time.Time]()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s.String), 64)
	if err != nil {
		return model.Null[time.Time]()
	}
	return model.Some(fromEpoch(f))
}
