package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baderanaas/hushchat/pkg/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/require"
)

var (
	identOnce sync.Once
	idents    []*crypto.Identity
	identErr  error
)

// testIdentities returns three RSA identities shared by all tests; key
// generation is the slow part of every test here.
func testIdentities(t *testing.T) (*crypto.Identity, *crypto.Identity, *crypto.Identity) {
	t.Helper()
	identOnce.Do(func() {
		for i := 0; i < 3; i++ {
			id, err := crypto.NewIdentity()
			if err != nil {
				identErr = err
				return
			}
			idents = append(idents, id)
		}
	})
	require.NoError(t, identErr)
	return idents[0], idents[1], idents[2]
}

// fakeNet connects fakeOverlays in memory. A stream is delivered to the
// remote handler synchronously when the writer closes it.
type fakeNet struct {
	mu      sync.Mutex
	nodes   map[peer.ID]*fakeOverlay
	offline map[peer.ID]bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		nodes:   make(map[peer.ID]*fakeOverlay),
		offline: make(map[peer.ID]bool),
	}
}

func (n *fakeNet) add(id *crypto.Identity) *fakeOverlay {
	n.mu.Lock()
	defer n.mu.Unlock()
	o := &fakeOverlay{net: n, id: id.ID(), handlers: make(map[protocol.ID]StreamHandler)}
	n.nodes[id.ID()] = o
	return o
}

func (n *fakeNet) setOnline(id peer.ID, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[id] = !online
}

func (n *fakeNet) reachable(id peer.ID) (*fakeOverlay, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	o, ok := n.nodes[id]
	if !ok || n.offline[id] {
		return nil, false
	}
	return o, true
}

type fakeOverlay struct {
	net *fakeNet
	id  peer.ID

	mu       sync.Mutex
	handlers map[protocol.ID]StreamHandler

	pings   atomic.Int32
	streams atomic.Int32
	resets  atomic.Int32
}

func (o *fakeOverlay) ID() peer.ID { return o.id }

func (o *fakeOverlay) Ping(ctx context.Context, p peer.ID) error {
	o.pings.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := o.net.reachable(p); !ok {
		return errors.New("no route to peer")
	}
	return nil
}

func (o *fakeOverlay) NewStream(ctx context.Context, p peer.ID, pid protocol.ID) (io.WriteCloser, error) {
	target, ok := o.net.reachable(p)
	if !ok {
		return nil, errors.New("no route to peer")
	}
	h := target.handler(pid)
	if h == nil {
		return nil, errors.New("protocols not supported")
	}
	o.streams.Add(1)
	return &fakeStream{from: o.id, target: target, handler: h}, nil
}

func (o *fakeOverlay) SetStreamHandler(pid protocol.ID, handler StreamHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[pid] = handler
}

func (o *fakeOverlay) RemoveStreamHandler(pid protocol.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.handlers, pid)
}

func (o *fakeOverlay) handler(pid protocol.ID) StreamHandler {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handlers[pid]
}

// deliverRaw hands text to o's chat handler as if sent by from and returns
// the handler's verdict.
func (o *fakeOverlay) deliverRaw(t *testing.T, from peer.ID, text string) error {
	t.Helper()
	h := o.handler(ProtocolID)
	require.NotNil(t, h, "no chat handler registered")
	return o.serve(h, from, bytes.NewBufferString(text))
}

// serve runs h the way the libp2p node does, counting rejected streams as
// resets.
func (o *fakeOverlay) serve(h StreamHandler, from peer.ID, r io.Reader) error {
	err := h(from, r)
	if err != nil {
		o.resets.Add(1)
	}
	return err
}

func reader(s string) io.Reader {
	return strings.NewReader(s)
}

type fakeStream struct {
	buf     bytes.Buffer
	from    peer.ID
	target  *fakeOverlay
	handler StreamHandler
	closed  bool
}

func (s *fakeStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("stream closed")
	}
	return s.buf.Write(p)
}

func (s *fakeStream) Close() error {
	if s.closed {
		return errors.New("stream closed")
	}
	s.closed = true
	// The writer has already half-closed; a reset on the far side is not
	// reported back through Close.
	_ = s.target.serve(s.handler, s.from, bytes.NewReader(s.buf.Bytes()))
	return nil
}

// testConfig keeps dials fast and the liveness loop out of the way unless a
// test asks for it.
func testConfig() Config {
	return Config{
		ProbeDeadline:    300 * time.Millisecond,
		ProbeInterval:    50 * time.Millisecond,
		LivenessInterval: time.Hour,
		PingTimeout:      100 * time.Millisecond,
	}
}

type testPair struct {
	net    *fakeNet
	a, b   *Session
	oa, ob *fakeOverlay
}

// newActivePair returns two sessions that have dialed each other.
func newActivePair(t *testing.T, cfg Config) *testPair {
	t.Helper()
	alice, bob, _ := testIdentities(t)
	net := newFakeNet()
	oa, ob := net.add(alice), net.add(bob)
	a := NewSession(oa, alice, cfg)
	b := NewSession(ob, bob, cfg)
	t.Cleanup(func() {
		require.NoError(t, a.Close())
		require.NoError(t, b.Close())
	})

	ctx := context.Background()
	_, err := a.Dial(ctx, bob.PortableKey())
	require.NoError(t, err)
	_, err = b.Dial(ctx, alice.PortableKey())
	require.NoError(t, err)
	return &testPair{net: net, a: a, b: b, oa: oa, ob: ob}
}
