package model

import (
	"time"
)

// Message is a single stored message or correction. Empty strings are stored
// as NULL.
//
// A stored message is immutable except for State and StanzaID, which are set
// once when a pending outgoing message is acknowledged.
type Message struct {
	Conversation
	Resource     string
	Type         MessageType
	Direction    ChatDirection
	Timestamp    time.Time
	State        MessageState
	ID           string
	StanzaID     string
	Text         string
	MarkupType   int
	Markup       string
	CorrectionID string
	UserDelayTS  time.Time
	ThreadID     string

	Occupant      *Occupant
	Encryption    *Encryption
	SecurityLabel *SecurityLabel

	OOB           []OOB
	Reply         *Reply
	Call          *Call
	FileTransfers []FileTransfer
}

func (Message) entity() {}
func (Message) EntityName() string { return "message" }

func (m Message) Validate() error {
	if err := m.Conversation.validate("message"); err != nil {
		return err
	}
	if !m.Type.Valid() {
		return invalid("message", "type", "unknown message type")
	}
	if !m.Direction.Valid() {
		return invalid("message", "direction", "unknown direction")
	}
	if !m.State.Valid() {
		return invalid("message", "state", "unknown state")
	}
	if m.Timestamp.IsZero() {
		return invalid("message", "timestamp", "required")
	}
	if m.CorrectionID != "" && m.CorrectionID == m.ID {
		return invalid("message", "correction_id", "a message cannot correct itself")
	}
	if m.Occupant != nil && m.Type == MessageTypeChat {
		return invalid("message", "occupant", "not allowed in 1:1 chats")
	}
	if err := validateNestedOccupant("message", m.Conversation, m.Occupant); err != nil {
		return err
	}
	if m.Encryption != nil {
		if err := m.Encryption.Validate(); err != nil {
			return err
		}
	}
	if m.SecurityLabel != nil {
		if err := m.SecurityLabel.Validate(); err != nil {
			return err
		}
		if m.SecurityLabel.Conversation != m.Conversation {
			return invalid("message", "security_label", "must belong to the same conversation")
		}
	}
	for _, o := range m.OOB {
		if o.URL == "" {
			return invalid("oob", "url", "required")
		}
	}
	if m.Reply != nil && m.Reply.ID == "" {
		return invalid("reply", "id", "required")
	}
	if m.Call != nil && m.Call.SID == "" {
		return invalid("call", "sid", "required")
	}
	if m.Markup != "" && m.MarkupType == 0 {
		return invalid("message", "markup_type", "required with markup")
	}
	for _, ft := range m.FileTransfers {
		if err := ft.validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsCorrection reports whether m revises another message.
func (m Message) IsCorrection() bool {
	return m.CorrectionID != ""
}

// OOB is an out-of-band attachment link.
type OOB struct {
	URL         string
	Description string
}

// Reply references the message this one answers.
type Reply struct {
	ID string
	To string
}

// Call records a call session started by a message. EndTS is zero while
// the call has not ended.
type Call struct {
	SID   string
	EndTS time.Time
	State int
}

// FileTransfer describes a file attached to a message. Zero values are
// stored as NULL.
type FileTransfer struct {
	Date      time.Time
	Desc      string
	Hash      string
	HashAlgo  string
	Height    int64
	Width     int64
	Length    int64
	MediaType string
	Name      string
	Size      int64
	State     int
	Path      string
	Sources   []FileTransferSource
}

func (ft FileTransfer) validate() error {
	for _, src := range ft.Sources {
		if src == nil {
			return invalid("filetransfer", "sources", "nil source")
		}
		if err := src.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Source type discriminators as stored in ft_source.type.
const (
	SourceURLData   = "urldata"
	SourceJingleFT  = "jingleft"
	SourceJinglePub = "jinglepub"
)

// FileTransferSource is where a file transfer can be fetched from.
// The set of variants is closed: URLData, JingleFT and JinglePub.
type FileTransferSource interface {
	SourceType() string
	validate() error
}

// URLData is a source fetched over a URL.
type URLData struct {
	Target     string
	SchemeData map[string]any
}

func (URLData) SourceType() string { return SourceURLData }

func (u URLData) validate() error {
	if u.Target == "" {
		return invalid("ft_source", "target", "required")
	}
	return nil
}

// JingleFT is a source negotiated with a Jingle session.
type JingleFT struct {
	SID string
}

func (JingleFT) SourceType() string { return SourceJingleFT }

func (j JingleFT) validate() error {
	if j.SID == "" {
		return invalid("ft_source", "sid", "required")
	}
	return nil
}

// JinglePub is a published Jingle source.
type JinglePub struct {
	ID string
}

func (JinglePub) SourceType() string { return SourceJinglePub }

func (j JinglePub) validate() error {
	if j.ID == "" {
		return invalid("ft_source", "id", "required")
	}
	return nil
}
