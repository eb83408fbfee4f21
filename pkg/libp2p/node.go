package libp2p

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/baderanaas/hushchat/pkg/crypto"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// streamReadTimeout bounds how long an inbound chat stream may stay open.
const streamReadTimeout = 30 * time.Second

func init() {
	// Dial failures and backoff errors go to stderr by default and pollute
	// the chat prompt.
	quietSubsystems()
}

func quietSubsystems() {
	_ = logging.SetLogLevel("swarm2", "error")
	_ = logging.SetLogLevel("relay", "info")
	_ = logging.SetLogLevel("autorelay", "info")
	_ = logging.SetLogLevel("autonat", "warn")
	_ = logging.SetLogLevel("mdns", "error")
}

// Node is the overlay a chat Session runs on. It owns the libp2p host and
// the optional DHT, mDNS and gossip services around it.
type Node struct {
	host     host.Host
	ctx      context.Context
	cancel   context.CancelFunc
	dht      *dht.IpfsDHT
	pubsub   *pubsub.PubSub
	mdns     mdns.Service
	identity *crypto.Identity
	cfg      Config

	// Peer management
	peers    map[peer.ID]*PeerInfo
	peersMux sync.RWMutex

	closeOnce sync.Once
}

var _ chat.Overlay = (*Node)(nil)

// NewNode starts a host with the given identity. Discovery does not begin
// until Bootstrap is called.
func NewNode(cfg Config, identity *crypto.Identity) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cm, err := connmgr.NewConnManager(cfg.P2P.ConnLow, cfg.P2P.ConnHigh,
		connmgr.WithGracePeriod(time.Duration(cfg.P2P.ConnGraceSec)*time.Second))
	if err != nil {
		cancel()
		return nil, err
	}

	listen := []string{fmt.Sprintf("/ip4/%s/tcp/%d", cfg.P2P.ListenHost, cfg.P2P.ListenPort)}
	if cfg.P2P.QUIC {
		quicPort := 0
		if cfg.P2P.ListenPort != 0 {
			quicPort = cfg.P2P.ListenPort + 1
		}
		listen = append(listen, fmt.Sprintf("/ip4/%s/udp/%d/quic-v1", cfg.P2P.ListenHost, quicPort))
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listen...),
		libp2p.Identity(identity.PrivKey()),
		libp2p.ConnectionManager(cm),
	}

	if cfg.P2P.Relay {
		opts = append(opts,
			libp2p.EnableAutoRelayWithStaticRelays(bootstrapPeers(cfg)),
			libp2p.EnableHolePunching(),
			libp2p.NATPortMap(),
		)
	}

	var idht *dht.IpfsDHT
	if cfg.DHT.Enabled {
		opts = append(opts, libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			idht, err = dht.New(ctx, h, dht.Mode(dht.ModeAutoServer), dht.BootstrapPeers(bootstrapPeers(cfg)...))
			return idht, err
		}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	node := &Node{
		host:     h,
		ctx:      ctx,
		cancel:   cancel,
		dht:      idht,
		pubsub:   ps,
		identity: identity,
		cfg:      cfg,
		peers:    make(map[peer.ID]*PeerInfo),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewNode",
		"peer":     h.ID().String(),
		"addrs":    len(h.Addrs()),
		"dht":      cfg.DHT.Enabled,
	}).Info("Node started")

	return node, nil
}

// bootstrapPeers parses the configured bootstrap list, falling back to the
// public libp2p nodes.
func bootstrapPeers(cfg Config) []peer.AddrInfo {
	var addrs []multiaddr.Multiaddr
	if len(cfg.DHT.Bootstrap) == 0 {
		addrs = dht.DefaultBootstrapPeers
	} else {
		for _, s := range cfg.DHT.Bootstrap {
			addr, err := multiaddr.NewMultiaddr(s)
			if err != nil {
				logrus.WithField("addr", s).Warn("Failed to parse bootstrap peer")
				continue
			}
			addrs = append(addrs, addr)
		}
	}

	var infos []peer.AddrInfo
	for _, addr := range addrs {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logrus.WithField("addr", addr.String()).Warn("Failed to parse bootstrap peer")
			continue
		}
		infos = append(infos, *pi)
	}
	return infos
}

// Bootstrap joins the wider network: LAN discovery over mDNS and, when the
// DHT is enabled, the public bootstrap nodes and rendezvous discovery.
func (n *Node) Bootstrap() error {
	if n.cfg.P2P.MdnsEnabled {
		n.mdns = mdns.NewMdnsService(n.host, n.cfg.P2P.MdnsTag, &mdnsNotifee{node: n})
		if err := n.mdns.Start(); err != nil {
			return fmt.Errorf("failed to start mDNS discovery: %w", err)
		}
	}

	if n.dht == nil {
		return nil
	}

	connected := false
	for _, pi := range bootstrapPeers(n.cfg) {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		err := n.host.Connect(ctx, pi)
		cancel()
		if err == nil {
			connected = true
			n.trackPeer(pi.ID, "bootstrap")
			// One connection is enough to start bootstrapping.
			break
		}
	}

	if err := n.dht.Bootstrap(n.ctx); err != nil {
		logrus.WithError(err).Warn("DHT bootstrap warning")
	}

	go n.startGlobalDiscovery()
	go n.maintainNetwork()

	if !connected {
		logrus.Warn("No initial DHT connection, will discover peers organically")
	}
	return nil
}

func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Identity returns the keypair the host was started with.
func (n *Node) Identity() *crypto.Identity {
	return n.identity
}

// Addrs returns the full /p2p addresses other nodes can connect to.
func (n *Node) Addrs() []string {
	info := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// NewStream opens an outbound stream. The returned writer is the stream
// itself; closing it ends the frame.
func (n *Node) NewStream(ctx context.Context, p peer.ID, pid protocol.ID) (io.WriteCloser, error) {
	s, err := n.host.NewStream(ctx, p, pid)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetStreamHandler routes inbound streams of pid to handler along with the
// authenticated remote peer. A stream the handler rejects is reset so the
// sender sees the frame was refused.
func (n *Node) SetStreamHandler(pid protocol.ID, handler chat.StreamHandler) {
	n.host.SetStreamHandler(pid, func(s network.Stream) {
		if err := s.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			logrus.WithError(err).Debug("Failed to set read deadline")
		}
		if err := handler(s.Conn().RemotePeer(), s); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SetStreamHandler",
				"peer":     chat.ShortID(s.Conn().RemotePeer()),
				"protocol": pid,
				"error":    err.Error(),
			}).Debug("Resetting rejected stream")
			_ = s.Reset()
			return
		}
		_ = s.Close()
	})
}

func (n *Node) RemoveStreamHandler(pid protocol.ID) {
	n.host.RemoveStreamHandler(pid)
}

// Ping sends one libp2p ping to p, dialing it if needed.
func (n *Node) Ping(ctx context.Context, p peer.ID) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case res, ok := <-ping.Ping(ctx, n.host, p):
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("ping %s: no result", chat.ShortID(p))
		}
		if res.Error != nil {
			return res.Error
		}
		logrus.WithFields(logrus.Fields{
			"function": "Ping",
			"peer":     chat.ShortID(p),
			"rtt":      res.RTT.String(),
		}).Trace("Pong")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the node.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.cancel()
		if n.mdns != nil {
			_ = n.mdns.Close()
		}
		if n.dht != nil {
			_ = n.dht.Close()
		}
		err = n.host.Close()
	})
	return err
}
