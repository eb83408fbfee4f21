package chat

import (
	"context"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolID is the stream protocol carrying encrypted chat frames.
const ProtocolID = protocol.ID("/encryptedChat/1.0")

// StreamHandler receives one inbound stream. The overlay closes the stream
// when the handler returns nil and resets it when the handler rejects the
// frame with an error.
type StreamHandler func(from peer.ID, r io.Reader) error

// Pinger answers whether a remote peer is reachable right now.
type Pinger interface {
	Ping(ctx context.Context, p peer.ID) error
}

// Overlay is what the chat protocol needs from the peer-to-peer node.
type Overlay interface {
	Pinger
	ID() peer.ID
	// NewStream opens a one-way stream to p. Closing the writer ends the frame.
	NewStream(ctx context.Context, p peer.ID, pid protocol.ID) (io.WriteCloser, error)
	SetStreamHandler(pid protocol.ID, handler StreamHandler)
	RemoveStreamHandler(pid protocol.ID)
}
