package libp2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/baderanaas/hushchat/pkg/chat"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

var ErrBadAnnouncement = errors.New("bad lobby announcement")

// Lobby is an opt-in gossip topic on which nodes publish their portable key.
// An announcement is only accepted when the key hashes to the peer that
// signed the gossip message.
type Lobby struct {
	node  *Node
	self  peer.ID
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	announceEvery time.Duration
	ttl           time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[peer.ID]LobbyEntry
}

// JoinLobby subscribes to the lobby topic and starts announcing this node.
func (n *Node) JoinLobby() (*Lobby, error) {
	topic, err := n.pubsub.Join(n.cfg.Lobby.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to join lobby topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, fmt.Errorf("failed to subscribe to lobby: %w", err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	l := &Lobby{
		node:          n,
		self:          n.ID(),
		topic:         topic,
		sub:           sub,
		announceEvery: time.Duration(n.cfg.Lobby.AnnounceSec) * time.Second,
		ttl:           time.Duration(n.cfg.Lobby.TTLSec) * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		entries:       make(map[peer.ID]LobbyEntry),
	}

	go l.readLoop()
	go l.announceLoop()
	return l, nil
}

func (l *Lobby) announceLoop() {
	ticker := time.NewTicker(l.announceEvery)
	defer ticker.Stop()

	l.publish(AnnounceOnline)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.publish(AnnounceOnline)
		}
	}
}

func (l *Lobby) publish(typ string) {
	msg := Announcement{
		Type:      typ,
		PeerID:    l.self.String(),
		Key:       l.node.identity.PortableKey(),
		Timestamp: time.Now(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := l.topic.Publish(l.ctx, b); err != nil && l.ctx.Err() == nil {
		logrus.WithError(err).Debug("Failed to publish lobby announcement")
	}
}

func (l *Lobby) readLoop() {
	for {
		m, err := l.sub.Next(l.ctx)
		if err != nil {
			return
		}
		if err := l.handle(m.GetFrom(), m.Data); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"peer":     chat.ShortID(m.GetFrom()),
				"error":    err.Error(),
			}).Warn("Ignored lobby message")
		}
	}
}

// handle applies one announcement signed by from.
func (l *Lobby) handle(from peer.ID, data []byte) error {
	if from == l.self {
		return nil
	}

	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrBadAnnouncement, err)
	}
	if a.PeerID != from.String() {
		return fmt.Errorf("%w: peer_id %q does not match sender", ErrBadAnnouncement, a.PeerID)
	}

	switch a.Type {
	case AnnounceLeave:
		l.mu.Lock()
		delete(l.entries, from)
		l.mu.Unlock()
		return nil
	case AnnounceOnline:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadAnnouncement, a.Type)
	}

	remote, err := chat.Resolve(a.Key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAnnouncement, err)
	}
	if remote.ID != from {
		return fmt.Errorf("%w: key belongs to %s", ErrBadAnnouncement, chat.ShortID(remote.ID))
	}

	l.mu.Lock()
	l.entries[from] = LobbyEntry{PeerID: from, Key: remote.Key, LastSeen: time.Now()}
	l.mu.Unlock()
	return nil
}

// Peers returns lobby members seen within the TTL, most recent first.
func (l *Lobby) Peers() []LobbyEntry {
	cutoff := time.Now().Add(-l.ttl)

	l.mu.Lock()
	out := make([]LobbyEntry, 0, len(l.entries))
	for id, e := range l.entries {
		if e.LastSeen.Before(cutoff) {
			delete(l.entries, id)
			continue
		}
		out = append(out, e)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// Close announces departure and leaves the topic.
func (l *Lobby) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if b, err := json.Marshal(Announcement{
		Type:      AnnounceLeave,
		PeerID:    l.self.String(),
		Timestamp: time.Now(),
	}); err == nil {
		_ = l.topic.Publish(ctx, b)
	}

	l.cancel()
	l.sub.Cancel()
	return l.topic.Close()
}
