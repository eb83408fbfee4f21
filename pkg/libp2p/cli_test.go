package libp2p

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/stretchr/testify/require"
)

type cliHarness struct {
	cli      *CLI
	node     *Node
	session  *chat.Session
	contacts *ContactManager
	out      *bytes.Buffer
}

func newCLIHarness(t *testing.T, cfg Config) *cliHarness {
	t.Helper()
	node := newTestNode(t, cfg)
	session := chat.NewSession(node, node.Identity(), fastChatConfig())
	t.Cleanup(func() { _ = session.Close() })
	contacts, err := NewContactManager(filepath.Join(cfg.DataDir, contactsFileName))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &cliHarness{
		cli:      NewCLI(node, session, contacts, nil, out),
		node:     node,
		session:  session,
		contacts: contacts,
		out:      out,
	}
}

// run executes one line and returns what it printed.
func (h *cliHarness) run(line string) string {
	h.out.Reset()
	h.cli.Handle(context.Background(), line)
	return h.out.String()
}

func TestCLIIdentityAndContacts(t *testing.T) {
	h := newCLIHarness(t, testConfig(t))

	out := h.run("/id")
	require.Contains(t, out, h.node.ID().String())
	require.Contains(t, out, h.node.Identity().PortableKey())

	require.Contains(t, h.run("/contacts"), "No contacts found")
	require.Contains(t, h.run("/add-contact bob"), "Usage")
	require.Contains(t, h.run("/add-contact bob not-a-key"), "Invalid contact")

	other := newTestNode(t, testConfig(t))
	out = h.run("/add-contact bob " + other.Identity().PortableKey())
	require.Contains(t, out, "Contact 'bob' added")
	require.Contains(t, h.run("/contacts"), "bob: "+other.ID().String())

	reloaded, err := NewContactManager(h.contacts.filePath)
	require.NoError(t, err)
	_, ok := reloaded.GetContact("bob")
	require.True(t, ok)
}

func TestCLIWithoutSession(t *testing.T) {
	h := newCLIHarness(t, testConfig(t))

	require.Contains(t, h.run("hello"), chat.ErrNotActive.Error())
	require.Contains(t, h.run("/hangup"), chat.ErrNotActive.Error())
	require.Contains(t, h.run("/typing maybe"), "Usage")
	require.Contains(t, h.run("/history"), "No active conversation")
	require.Contains(t, h.run("/status"), "Session: idle")
	require.Contains(t, h.run("/lobby"), "lobby is disabled")
	require.Contains(t, h.run("/nope"), "Unknown command")
	require.Contains(t, h.run("/disconnect nope"), "Disconnect failed")
	require.Contains(t, h.run("/disconnect"), "Disconnected from all peers")
	require.Contains(t, h.run("/dial garbage"), "Dial failed")
	require.True(t, h.cli.Handle(context.Background(), "/quit"))
	require.False(t, h.cli.Handle(context.Background(), "   "))
}

func TestCLIDialContactAndChat(t *testing.T) {
	cfg := testConfig(t)
	h := newCLIHarness(t, cfg)
	peerNode := newTestNode(t, testConfig(t))
	connectNodes(t, h.node, peerNode)

	peerSession := chat.NewSession(peerNode, peerNode.Identity(), fastChatConfig())
	t.Cleanup(func() { _ = peerSession.Close() })
	_, err := peerSession.Dial(context.Background(), h.node.Identity().PortableKey())
	require.NoError(t, err)

	h.run("/add-contact carol " + peerNode.Identity().PortableKey())
	out := h.run("/dial carol")
	require.Contains(t, out, "Connected to carol")
	require.Equal(t, chat.PhaseActive, h.session.Phase())

	h.run("hi carol")
	require.Eventually(t, func() bool { return len(peerSession.Messages()) == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "hi carol", peerSession.Messages()[0].Text)

	out = h.run("/history")
	require.Contains(t, out, "✓ you: hi carol")

	out = h.run("/status")
	require.Contains(t, out, "Session: active")
	require.Contains(t, out, "Peer: carol")

	require.Contains(t, h.run("/dial carol"), chat.ErrSessionActive.Error())

	require.Empty(t, strings.TrimSpace(h.run("/hangup")))
	require.Equal(t, chat.PhaseIdle, h.session.Phase())
}

func TestCLIRunStopsOnQuit(t *testing.T) {
	h := newCLIHarness(t, testConfig(t))

	err := h.cli.Run(context.Background(), strings.NewReader("/id\n/quit\n/id\n"))
	require.NoError(t, err)
	out := h.out.String()
	require.Contains(t, out, "Commands:")
	require.Equal(t, 1, strings.Count(out, h.node.Identity().PortableKey()), "input after /quit is ignored")

	// Run released its subscription, so closing the session is clean.
	require.NoError(t, h.session.Close())
}
