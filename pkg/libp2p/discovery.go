package libp2p

import (
	"context"
	"time"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/libp2p/go-libp2p/core/peer"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/sirupsen/logrus"
)

// mdnsNotifee connects to peers found on the local network.
type mdnsNotifee struct {
	node *Node
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.node.host.ID() {
		return
	}
	m.node.trackPeer(pi.ID, "mdns")

	ctx, cancel := context.WithTimeout(m.node.ctx, 15*time.Second)
	defer cancel()
	if err := m.node.host.Connect(ctx, pi); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HandlePeerFound",
			"peer":     chat.ShortID(pi.ID),
			"error":    err.Error(),
		}).Debug("Failed to connect to LAN peer")
		return
	}
	logrus.WithField("peer", chat.ShortID(pi.ID)).Info("Connected to LAN peer")
}

// startGlobalDiscovery periodically finds new peers in the rendezvous
// namespace.
func (n *Node) startGlobalDiscovery() {
	routingDiscovery := discovery.NewRoutingDiscovery(n.dht)
	util.Advertise(n.ctx, routingDiscovery, n.cfg.DHT.Namespace)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peerChan, err := routingDiscovery.FindPeers(n.ctx, n.cfg.DHT.Namespace)
			if err != nil {
				continue
			}
			n.processPeerDiscovery(peerChan, "dht")
		}
	}
}

// processPeerDiscovery handles peers found via discovery.
func (n *Node) processPeerDiscovery(peerChan <-chan peer.AddrInfo, source string) {
	for p := range peerChan {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 {
			continue
		}

		n.peersMux.RLock()
		_, known := n.peers[p.ID]
		n.peersMux.RUnlock()
		n.trackPeer(p.ID, source)
		if known {
			continue
		}

		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err == nil {
				logrus.WithFields(logrus.Fields{
					"peer":   chat.ShortID(pi.ID),
					"source": source,
				}).Info("Connected to peer")
			}
		}(p)
	}
}
