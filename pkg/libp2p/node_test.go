package libp2p

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/baderanaas/hushchat/pkg/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/require"
)

// testConfig returns a loopback-only configuration with every outward
// facing service disabled.
func testConfig(t *testing.T) Config {
	cfg := Default()
	cfg.DataDir = newTestDir(t)
	cfg.LogLevel = "warn"
	cfg.P2P.ListenHost = "127.0.0.1"
	cfg.P2P.QUIC = false
	cfg.P2P.MdnsEnabled = false
	cfg.P2P.Relay = false
	cfg.DHT.Enabled = false
	return cfg
}

func newTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	node, err := NewNode(cfg, id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

// connectNodes connects a to b and waits until both sides see the link.
func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	addrs := b.Addrs()
	require.NotEmpty(t, addrs)
	id, err := a.Connect(context.Background(), addrs[0])
	require.NoError(t, err)
	require.Equal(t, b.ID(), id)
	require.Eventually(t, func() bool {
		return a.IsConnected(b.ID()) && b.IsConnected(a.ID())
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNewNode(t *testing.T) {
	cfg := testConfig(t)
	node := newTestNode(t, cfg)

	require.NotNil(t, node.host)
	require.NotNil(t, node.pubsub)
	require.Nil(t, node.dht)
	require.NotNil(t, node.ctx)
	require.Equal(t, node.Identity().ID(), node.ID())
	require.NotEmpty(t, node.Addrs())
	require.NoError(t, node.Bootstrap())
}

func TestNodeToNodeConnection(t *testing.T) {
	cfg := testConfig(t)
	node1 := newTestNode(t, cfg)
	node2 := newTestNode(t, cfg)

	connectNodes(t, node1, node2)

	peers := node1.ListPeers()
	require.Len(t, peers, 1)
	require.Equal(t, node2.ID(), peers[0].ID)
	require.True(t, peers[0].Connected)
	require.Equal(t, "manual", peers[0].Source)

	require.NoError(t, node1.DisconnectFromPeer(node2.ID()))
	require.Eventually(t, func() bool { return !node1.IsConnected(node2.ID()) }, 5*time.Second, 50*time.Millisecond)
}

func TestConnectInvalidAddress(t *testing.T) {
	node := newTestNode(t, testConfig(t))

	_, err := node.Connect(context.Background(), "not-a-multiaddr")
	require.Error(t, err)

	// Valid multiaddr without a /p2p component.
	_, err = node.Connect(context.Background(), "/ip4/127.0.0.1/tcp/1")
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	cfg := testConfig(t)
	node1 := newTestNode(t, cfg)
	node2 := newTestNode(t, cfg)
	connectNodes(t, node1, node2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, node1.Ping(ctx, node2.ID()))

	require.NoError(t, node2.Close())
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.Error(t, node1.Ping(ctx2, node2.ID()))
}

func TestStreamHandlerSeesRemotePeer(t *testing.T) {
	cfg := testConfig(t)
	node1 := newTestNode(t, cfg)
	node2 := newTestNode(t, cfg)
	connectNodes(t, node1, node2)

	const pid = protocol.ID("/hushchat/test/1.0.0")
	type delivery struct {
		from peer.ID
		body string
	}
	got := make(chan delivery, 1)
	node2.SetStreamHandler(pid, func(from peer.ID, r io.Reader) error {
		b, _ := io.ReadAll(r)
		got <- delivery{from: from, body: string(b)}
		return nil
	})

	w, err := node1.NewStream(context.Background(), node2.ID(), pid)
	require.NoError(t, err)
	_, err = io.WriteString(w, "deadbeef")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case d := <-got:
		require.Equal(t, node1.ID(), d.from)
		require.Equal(t, "deadbeef", d.body)
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not delivered")
	}
}

func TestRejectedStreamIsReset(t *testing.T) {
	cfg := testConfig(t)
	node1 := newTestNode(t, cfg)
	node2 := newTestNode(t, cfg)
	connectNodes(t, node1, node2)

	const pid = protocol.ID("/hushchat/test/1.0.0")
	node2.SetStreamHandler(pid, func(_ peer.ID, r io.Reader) error {
		b, _ := io.ReadAll(r)
		if string(b) == "bad" {
			return chat.ErrDecode
		}
		return nil
	})

	// readReply writes body, half-closes and reports how the far side ended
	// the stream.
	readReply := func(body string) error {
		s, err := node1.host.NewStream(context.Background(), node2.ID(), pid)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, err = io.WriteString(s, body)
		require.NoError(t, err)
		require.NoError(t, s.CloseWrite())
		_, err = io.ReadAll(s)
		return err
	}

	require.NoError(t, readReply("good"))
	require.ErrorIs(t, readReply("bad"), network.ErrReset)
}

func fastChatConfig() chat.Config {
	return chat.Config{
		ProbeDeadline:    3 * time.Second,
		ProbeInterval:    200 * time.Millisecond,
		LivenessInterval: 200 * time.Millisecond,
		PingTimeout:      time.Second,
	}
}

func TestEncryptedChatOverLibp2p(t *testing.T) {
	cfg := testConfig(t)
	nodeA := newTestNode(t, cfg)
	nodeB := newTestNode(t, cfg)
	connectNodes(t, nodeA, nodeB)

	alice := chat.NewSession(nodeA, nodeA.Identity(), fastChatConfig())
	bob := chat.NewSession(nodeB, nodeB.Identity(), fastChatConfig())
	t.Cleanup(func() {
		_ = alice.Close()
		_ = bob.Close()
	})

	ctx := context.Background()
	remote, err := alice.Dial(ctx, nodeB.Identity().PortableKey())
	require.NoError(t, err)
	require.Equal(t, nodeB.ID(), remote.ID)
	_, err = bob.Dial(ctx, nodeA.Identity().PortableKey())
	require.NoError(t, err)

	require.NoError(t, alice.InputChanged(ctx, "h"))
	require.Eventually(t, bob.RemoteTyping, 5*time.Second, 20*time.Millisecond)

	msg, err := alice.Send(ctx, "hello bob")
	require.NoError(t, err)
	require.Equal(t, chat.StatusSent, msg.Status)

	require.Eventually(t, func() bool { return len(bob.Messages()) == 1 }, 5*time.Second, 20*time.Millisecond)
	got := bob.Messages()[0]
	require.Equal(t, chat.Remote, got.Direction)
	require.Equal(t, "hello bob", got.Text)
	require.False(t, bob.RemoteTyping())

	_, err = bob.Send(ctx, "hi alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(alice.Messages()) == 2 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "hi alice", alice.Messages()[1].Text)
	require.Zero(t, alice.Dropped())
	require.Zero(t, bob.Dropped())
}

func TestSessionResetsWhenPeerGoesAway(t *testing.T) {
	cfg := testConfig(t)
	nodeA := newTestNode(t, cfg)
	nodeB := newTestNode(t, cfg)
	connectNodes(t, nodeA, nodeB)

	alice := chat.NewSession(nodeA, nodeA.Identity(), fastChatConfig())
	t.Cleanup(func() { _ = alice.Close() })

	_, err := alice.Dial(context.Background(), nodeB.Identity().PortableKey())
	require.NoError(t, err)
	gen := alice.Generation()

	require.NoError(t, nodeB.Close())

	require.Eventually(t, func() bool { return alice.Phase() == chat.PhaseIdle }, 10*time.Second, 50*time.Millisecond)
	require.Nil(t, alice.Remote())
	require.Empty(t, alice.Messages())
	require.Greater(t, alice.Generation(), gen)
}

func TestDialUnreachableOverLibp2p(t *testing.T) {
	cfg := testConfig(t)
	nodeA := newTestNode(t, cfg)

	stranger, err := crypto.NewIdentity()
	require.NoError(t, err)

	session := chat.NewSession(nodeA, nodeA.Identity(), chat.Config{
		ProbeDeadline: 500 * time.Millisecond,
		ProbeInterval: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = session.Close() })

	start := time.Now()
	_, err = session.Dial(context.Background(), stranger.PortableKey())
	require.ErrorIs(t, err, chat.ErrUnreachable)
	require.Less(t, time.Since(start), 3*time.Second)
	require.Equal(t, chat.PhaseIdle, session.Phase())
}
