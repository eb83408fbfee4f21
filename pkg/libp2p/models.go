package libp2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerInfo stores metadata about a discovered peer.
type PeerInfo struct {
	ID       peer.ID
	LastSeen time.Time
	Source   string // "mdns", "dht", "manual" or "bootstrap"
}

// Announcement is published on the lobby topic so that other users can
// pick a chat partner without exchanging keys out of band.
type Announcement struct {
	Type      string    `json:"type"` // "announce" or "leave"
	PeerID    string    `json:"peer_id"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	AnnounceOnline = "announce"
	AnnounceLeave  = "leave"
)

// LobbyEntry is a verified lobby member.
type LobbyEntry struct {
	PeerID   peer.ID
	Key      string
	LastSeen time.Time
}
