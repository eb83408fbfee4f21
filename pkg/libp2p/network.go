package libp2p

import (
	"context"
	"sort"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// PeerStatus is a known peer together with its current connectedness.
type PeerStatus struct {
	PeerInfo
	Connected bool
}

// maintainNetwork runs background tasks to keep the network healthy.
func (n *Node) maintainNetwork() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.cleanupStaleConnections()
			n.ensureConnectivity()
		}
	}
}

// cleanupStaleConnections removes peers that haven't been seen in a while.
func (n *Node) cleanupStaleConnections() {
	n.peersMux.Lock()
	defer n.peersMux.Unlock()
	staleThreshold := time.Now().Add(-60 * time.Minute)
	for id, peerInfo := range n.peers {
		if peerInfo.LastSeen.Before(staleThreshold) && n.host.Network().Connectedness(id) == network.NotConnected {
			delete(n.peers, id)
		}
	}
}

// ensureConnectivity re-advertises when the node is isolated.
func (n *Node) ensureConnectivity() {
	connected := len(n.host.Network().Peers())
	if connected < 3 {
		logrus.WithField("peers", connected).Info("Low connectivity, boosting discovery")
		n.announcePresence()
	}
}

// announcePresence advertises this node in the rendezvous namespace.
func (n *Node) announcePresence() {
	if n.dht == nil {
		return
	}
	routingDiscovery := discovery.NewRoutingDiscovery(n.dht)
	go util.Advertise(n.ctx, routingDiscovery, n.cfg.DHT.Namespace)
}

// Connect connects to a peer given its full /p2p multiaddress.
func (n *Node) Connect(ctx context.Context, addrStr string) (peer.ID, error) {
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		return "", err
	}
	peerInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *peerInfo); err != nil {
		return "", err
	}

	n.trackPeer(peerInfo.ID, "manual")
	return peerInfo.ID, nil
}

// DisconnectFromPeer closes the connection to a specific peer.
func (n *Node) DisconnectFromPeer(peerID peer.ID) error {
	return n.host.Network().ClosePeer(peerID)
}

// DisconnectFromAllPeers closes all active connections.
func (n *Node) DisconnectFromAllPeers() {
	for _, p := range n.host.Network().Peers() {
		_ = n.host.Network().ClosePeer(p)
	}
}

// IsConnected reports whether the node has a live connection to p.
func (n *Node) IsConnected(p peer.ID) bool {
	return n.host.Network().Connectedness(p) == network.Connected
}

func (n *Node) trackPeer(id peer.ID, source string) {
	if id == n.host.ID() {
		return
	}
	n.peersMux.Lock()
	defer n.peersMux.Unlock()
	if info, exists := n.peers[id]; exists {
		info.LastSeen = time.Now()
		return
	}
	n.peers[id] = &PeerInfo{ID: id, LastSeen: time.Now(), Source: source}
}

// ListPeers returns known peers, connected ones first.
func (n *Node) ListPeers() []PeerStatus {
	n.peersMux.RLock()
	out := make([]PeerStatus, 0, len(n.peers))
	for id, info := range n.peers {
		out = append(out, PeerStatus{PeerInfo: *info, Connected: n.IsConnected(id)})
	}
	n.peersMux.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Connected != out[j].Connected {
			return out[i].Connected
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// ConnectedCount is the number of peers with an open connection.
func (n *Node) ConnectedCount() int {
	return len(n.host.Network().Peers())
}
