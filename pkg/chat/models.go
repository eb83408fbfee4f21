package chat

import (
	"crypto/rsa"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Direction tells who wrote a message.
type Direction string

const (
	Local  Direction = "local"
	Remote Direction = "remote"
)

// Status is the delivery state of a log entry.
type Status string

const (
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusReceived Status = "received"
)

// Message is one entry of a session's log. Entries are never modified after
// they are appended.
type Message struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
}

// RemotePeer is a resolved chat partner.
type RemotePeer struct {
	ID     peer.ID
	PubKey ic.PubKey
	// Key is the portable string the peer was resolved from. The peer ID
	// alone cannot be turned back into a public key for RSA identities.
	Key string

	encKey *rsa.PublicKey
}

// Phase is the state of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDialing
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDialing:
		return "dialing"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

// EventKind identifies what changed in a Session.
type EventKind int

const (
	EventMessage EventKind = iota
	EventTyping
	EventPhase
)

// Event is delivered to Session subscribers.
type Event struct {
	Kind       EventKind
	Generation uint64

	// Set for EventMessage.
	Message Message
	// Set for EventTyping.
	Typing bool
	// Set for EventPhase. Err explains why a session went back to idle.
	Phase Phase
	Err   error
}

// Snapshot is a consistent copy of Session state.
type Snapshot struct {
	Phase        Phase
	Generation   uint64
	Remote       *RemotePeer
	Messages     []Message
	RemoteTyping bool
}

// ShortID trims a peer ID for logs and the terminal.
func ShortID(id peer.ID) string {
	s := id.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
