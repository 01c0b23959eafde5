package model

import "fmt"

// MessageType classifies the conversation a message belongs to.
type MessageType int

const (
	MessageTypeChat      MessageType = 1
	MessageTypeGroupchat MessageType = 2
	MessageTypePrivate   MessageType = 3
)

func (t MessageType) Valid() bool {
	return t >= MessageTypeChat && t <= MessageTypePrivate
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeChat:
		return "chat"
	case MessageTypeGroupchat:
		return "groupchat"
	case MessageTypePrivate:
		return "pm"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// ChatDirection is the direction of a message relative to the local account.
type ChatDirection int

const (
	DirectionIncoming ChatDirection = 1
	DirectionOutgoing ChatDirection = 2
)

func (d ChatDirection) Valid() bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}

func (d ChatDirection) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	}
	return fmt.Sprintf("ChatDirection(%d)", int(d))
}

// MessageState is the delivery state of a message.
type MessageState int

const (
	StatePending      MessageState = 0
	StateAcknowledged MessageState = 1
)

func (s MessageState) Valid() bool {
	return s == StatePending || s == StateAcknowledged
}

func (s MessageState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAcknowledged:
		return "acknowledged"
	}
	return fmt.Sprintf("MessageState(%d)", int(s))
}

// Trust is the trust level of an encryption key.
type Trust int

const (
	TrustUntrusted Trust = 0
	TrustUndecided Trust = 1
	TrustBlind     Trust = 2
	TrustVerified  Trust = 3
)

func (t Trust) Valid() bool {
	return t >= TrustUntrusted && t <= TrustVerified
}

// EncryptionProtocol identifies the end-to-end encryption scheme.
type EncryptionProtocol int

const (
	ProtocolPGP     EncryptionProtocol = 1
	ProtocolOpenPGP EncryptionProtocol = 2
	ProtocolOMEMO   EncryptionProtocol = 3
)

func (p EncryptionProtocol) Valid() bool {
	return p >= ProtocolPGP && p <= ProtocolOMEMO
}

func (p EncryptionProtocol) String() string {
	switch p {
	case ProtocolPGP:
		return "PGP"
	case ProtocolOpenPGP:
		return "OpenPGP"
	case ProtocolOMEMO:
		return "OMEMO"
	}
	return fmt.Sprintf("EncryptionProtocol(%d)", int(p))
}

// ParseEncryptionProtocol maps a protocol name to its value.
func ParseEncryptionProtocol(name string) (EncryptionProtocol, bool) {
	switch name {
	case "PGP":
		return ProtocolPGP, true
	case "OpenPGP":
		return ProtocolOpenPGP, true
	case "OMEMO":
		return ProtocolOMEMO, true
	}
	return 0, false
}
