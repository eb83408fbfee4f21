package chat

import "errors"

var (
	// ErrMalformedKey means a portable key string could not be parsed.
	ErrMalformedKey = errors.New("malformed public key")
	// ErrUnreachable means the peer did not answer a ping before the deadline.
	ErrUnreachable = errors.New("peer unreachable")
	// ErrSendUnreachable means a stream to the peer could not be opened or written.
	ErrSendUnreachable = errors.New("send failed: peer unreachable")
	// ErrDecode marks an inbound frame that was dropped.
	ErrDecode = errors.New("undecodable frame")
)

// Session errors. ErrConnectionLost, ErrHangup and ErrRemoteHangup are only
// reported as the Err of the idle phase event that ends a conversation.
var (
	ErrDialInProgress = errors.New("dial already in progress")
	ErrSessionActive  = errors.New("session already active")
	ErrSessionClosed  = errors.New("session closed")
	ErrNotActive      = errors.New("no active session")
	ErrConnectionLost = errors.New("connection lost")
	ErrHangup         = errors.New("session closed locally")
	ErrRemoteHangup   = errors.New("peer hung up")
	ErrEmptyMessage   = errors.New("empty message")
	ErrInvalidText    = errors.New("message is not valid UTF-8")
	ErrSelfDial       = errors.New("cannot dial own key")
)
