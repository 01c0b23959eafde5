// Package model defines the archive's entity values.
//
// Entities reference accounts and remotes by bare address, never by
// surrogate key; the store resolves keys on write. Each entity validates its
// own invariants before it is written.
package model

import (
	"time"

	"github.com/roach88/msgarchive/internal/jid"
)

// Entity is implemented by every value the store can write.
// The interface is sealed to this package.
type Entity interface {
	Validate() error
	EntityName() string
	entity()
}

// Conversation scopes an entity to one (account, remote) pair. Both
// addresses must be bare.
type Conversation struct {
	Account jid.JID
	Remote  jid.JID
}

func (c Conversation) validate(entity string) error {
	if c.Account.IsZero() {
		return invalid(entity, "account", "required")
	}
	if !c.Account.IsBare() {
		return invalid(entity, "account", "must be a bare address")
	}
	if c.Remote.IsZero() {
		return invalid(entity, "remote", "required")
	}
	if !c.Remote.IsBare() {
		return invalid(entity, "remote", "must be a bare address")
	}
	return nil
}

// Thread is a conversation thread identifier.
type Thread struct {
	Conversation
	ID string
}

func (Thread) entity() {}
func (Thread) EntityName() string { return "thread" }

func (t Thread) Validate() error {
	if err := t.Conversation.validate("thread"); err != nil {
		return err
	}
	if t.ID == "" {
		return invalid("thread", "id", "required")
	}
	return nil
}

// Occupant is a room-scoped participant identity.
//
// Nickname "" and a missing AvatarSHA, RealRemote or Blocked leave the
// stored value untouched on merge.
type Occupant struct {
	Conversation
	ID         string
	RealRemote Optional[jid.JID]
	Nickname   string
	AvatarSHA  Optional[string]
	Blocked    Optional[bool]
	UpdatedAt  time.Time
}

func (Occupant) entity() {}
func (Occupant) EntityName() string { return "occupant" }

func (o Occupant) Validate() error {
	if err := o.Conversation.validate("occupant"); err != nil {
		return err
	}
	if o.ID == "" {
		return invalid("occupant", "id", "required")
	}
	if o.UpdatedAt.IsZero() {
		return invalid("occupant", "updated_at", "required")
	}
	if addr, ok := o.RealRemote.Get(); ok && (addr.IsZero() || !addr.IsBare()) {
		return invalid("occupant", "real_remote", "must be a bare address")
	}
	return nil
}

// NeedsUpdate reports whether o is newer than the stored revision.
// Equal timestamps never update.
func (o Occupant) NeedsUpdate(existing time.Time) bool {
	return o.UpdatedAt.After(existing)
}

// Encryption is the metadata of an end-to-end encrypted message.
type Encryption struct {
	Protocol EncryptionProtocol
	Key      string
	Trust    Trust
}

func (Encryption) entity() {}
func (Encryption) EntityName() string { return "encryption" }

func (e Encryption) Validate() error {
	if !e.Protocol.Valid() {
		return invalid("encryption", "protocol", "unknown protocol")
	}
	if e.Key == "" {
		return invalid("encryption", "key", "required")
	}
	if !e.Trust.Valid() {
		return invalid("encryption", "trust", "unknown trust level")
	}
	return nil
}

// SecurityLabel is a security marking attached to messages in a
// conversation.
type SecurityLabel struct {
	Conversation
	LabelHash      string
	DisplayMarking string
	FgColor        string
	BgColor        string
	UpdatedAt      time.Time
}

func (SecurityLabel) entity() {}
func (SecurityLabel) EntityName() string { return "securitylabel" }

func (l SecurityLabel) Validate() error {
	if err := l.Conversation.validate("securitylabel"); err != nil {
		return err
	}
	if l.LabelHash == "" {
		return invalid("securitylabel", "label_hash", "required")
	}
	if l.UpdatedAt.IsZero() {
		return invalid("securitylabel", "updated_at", "required")
	}
	return nil
}

// NeedsUpdate reports whether l is newer than the stored revision.
func (l SecurityLabel) NeedsUpdate(existing time.Time) bool {
	return l.UpdatedAt.After(existing)
}

// MessageError is a delivery error reported for a sent message.
type MessageError struct {
	Conversation
	MessageID     string
	By            string
	Type          string
	Text          string
	Condition     string
	ConditionText string
	Timestamp     time.Time
}

func (MessageError) entity() {}
func (MessageError) EntityName() string { return "error" }

func (e MessageError) Validate() error {
	if err := e.Conversation.validate("error"); err != nil {
		return err
	}
	if e.MessageID == "" {
		return invalid("error", "message_id", "required")
	}
	if e.Type == "" {
		return invalid("error", "type", "required")
	}
	if e.Condition == "" {
		return invalid("error", "condition", "required")
	}
	if e.Timestamp.IsZero() {
		return invalid("error", "timestamp", "required")
	}
	return nil
}

// Moderation hides a group chat message, referenced by stanza id.
type Moderation struct {
	Conversation
	Occupant  *Occupant
	StanzaID  string
	By        string
	Reason    string
	Timestamp time.Time
}

func (Moderation) entity() {}
func (Moderation) EntityName() string { return "moderation" }

func (m Moderation) Validate() error {
	if err := m.Conversation.validate("moderation"); err != nil {
		return err
	}
	if m.StanzaID == "" {
		return invalid("moderation", "stanza_id", "required")
	}
	if m.Timestamp.IsZero() {
		return invalid("moderation", "timestamp", "required")
	}
	return validateNestedOccupant("moderation", m.Conversation, m.Occupant)
}

// Retraction withdraws a message. ID is the protocol id in 1:1
// conversations and the stanza id in group chats.
type Retraction struct {
	Conversation
	Occupant  *Occupant
	ID        string
	Direction ChatDirection
	Timestamp time.Time
}

func (Retraction) entity() {}
func (Retraction) EntityName() string { return "retraction" }

func (r Retraction) Validate() error {
	if err := r.Conversation.validate("retraction"); err != nil {
		return err
	}
	if r.ID == "" {
		return invalid("retraction", "id", "required")
	}
	if !r.Direction.Valid() {
		return invalid("retraction", "direction", "unknown direction")
	}
	if r.Timestamp.IsZero() {
		return invalid("retraction", "timestamp", "required")
	}
	return validateNestedOccupant("retraction", r.Conversation, r.Occupant)
}

// Reaction is the current emoji set one sender attached to a message.
// Emojis are separated by ';'.
type Reaction struct {
	Conversation
	Occupant  *Occupant
	ID        string
	Direction ChatDirection
	Emojis    string
	Timestamp time.Time
}

func (Reaction) entity() {}
func (Reaction) EntityName() string { return "reaction" }

func (r Reaction) Validate() error {
	if err := r.Conversation.validate("reaction"); err != nil {
		return err
	}
	if r.ID == "" {
		return invalid("reaction", "id", "required")
	}
	if !r.Direction.Valid() {
		return invalid("reaction", "direction", "unknown direction")
	}
	if r.Timestamp.IsZero() {
		return invalid("reaction", "timestamp", "required")
	}
	return validateNestedOccupant("reaction", r.Conversation, r.Occupant)
}

// DisplayedMarker records that a message was displayed.
type DisplayedMarker struct {
	Conversation
	Occupant  *Occupant
	ID        string
	Timestamp time.Time
}

func (DisplayedMarker) entity() {}
func (DisplayedMarker) EntityName() string { return "displayed_marker" }

func (d DisplayedMarker) Validate() error {
	if err := d.Conversation.validate("displayed_marker"); err != nil {
		return err
	}
	if d.ID == "" {
		return invalid("displayed_marker", "id", "required")
	}
	if d.Timestamp.IsZero() {
		return invalid("displayed_marker", "timestamp", "required")
	}
	return validateNestedOccupant("displayed_marker", d.Conversation, d.Occupant)
}

// Receipt records delivery of a message to the remote.
type Receipt struct {
	Conversation
	ID        string
	Timestamp time.Time
}

func (Receipt) entity() {}
func (Receipt) EntityName() string { return "receipt" }

func (r Receipt) Validate() error {
	if err := r.Conversation.validate("receipt"); err != nil {
		return err
	}
	if r.ID == "" {
		return invalid("receipt", "id", "required")
	}
	if r.Timestamp.IsZero() {
		return invalid("receipt", "timestamp", "required")
	}
	return nil
}

// MAMArchiveState is the synchronized range of a remote server archive.
// Every update replaces the stored range; missing fields are left as is.
type MAMArchiveState struct {
	Conversation
	FromStanzaID Optional[string]
	FromStanzaTS Optional[time.Time]
	ToStanzaID   Optional[string]
	ToStanzaTS   Optional[time.Time]
}

func (MAMArchiveState) entity() {}
func (MAMArchiveState) EntityName() string { return "mam_archive_state" }

func (s MAMArchiveState) Validate() error {
	return s.Conversation.validate("mam_archive_state")
}

func validateNestedOccupant(entity string, c Conversation, o *Occupant) error {
	if o == nil {
		return nil
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if o.Conversation != c {
		return invalid(entity, "occupant", "must belong to the same conversation")
	}
	return nil
}
