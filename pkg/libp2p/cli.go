package libp2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/libp2p/go-libp2p/core/peer"
)

// CLI is the interactive front end driving one chat Session.
type CLI struct {
	node     *Node
	session  *chat.Session
	contacts *ContactManager
	lobby    *Lobby

	outMu sync.Mutex
	out   io.Writer
}

// NewCLI wires the front end. lobby may be nil when the lobby is disabled.
func NewCLI(node *Node, session *chat.Session, contacts *ContactManager, lobby *Lobby, out io.Writer) *CLI {
	return &CLI{node: node, session: session, contacts: contacts, lobby: lobby, out: out}
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) printHelp() {
	c.printf("\n✅ Encrypted P2P Chat Started!\n")
	c.printf("Commands:\n")
	c.printf("  /id                          - Show your portable key and peer ID\n")
	c.printf("  /dial <key|name>             - Start a conversation with a peer or contact\n")
	c.printf("  /hangup                      - End the current conversation for both sides\n")
	c.printf("  /typing on|off               - Tell the peer you are (not) typing\n")
	c.printf("  /status                      - Show session and network status\n")
	c.printf("  /history                     - Show the current conversation\n")
	c.printf("  /connect <addr>              - Connect to a specific peer\n")
	c.printf("  /disconnect [peer]           - Drop one or all network connections\n")
	c.printf("  /peers                       - List network peers\n")
	c.printf("  /contacts                    - List all contacts\n")
	c.printf("  /add-contact <name> <key>    - Add a new contact\n")
	c.printf("  /lobby                       - List peers announcing in the lobby\n")
	c.printf("  /quit                        - Exit\n")
	c.printf("  <message>                    - Send to the current peer\n")
}

// Run reads commands from in until /quit, end of input or ctx is done.
func (c *CLI) Run(ctx context.Context, in io.Reader) error {
	events := c.session.Subscribe()
	defer c.session.Unsubscribe(events)
	go c.printEvents(events)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printHelp()
	c.printf("> ")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.Handle(ctx, line) {
				return nil
			}
			c.printf("> ")
		}
	}
}

// Handle executes one line of input and reports whether the user asked to
// quit.
func (c *CLI) Handle(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	switch {
	case input == "/quit":
		c.printf("🔌 Shutting down...\n")
		return true

	case input == "/help":
		c.printHelp()

	case input == "/id":
		id := c.node.Identity()
		c.printf("🆔 Peer ID: %s\n", id.ID())
		c.printf("🔑 Key: %s\n", id.PortableKey())
		for _, addr := range c.node.Addrs() {
			c.printf("   %s\n", addr)
		}

	case strings.HasPrefix(input, "/dial "):
		c.dial(ctx, strings.TrimSpace(input[6:]))

	case input == "/hangup":
		if err := c.session.Hangup(); err != nil {
			c.printf("❌ %v\n", err)
		}

	case strings.HasPrefix(input, "/typing "):
		draft := ""
		switch strings.TrimSpace(input[8:]) {
		case "on":
			draft = "..."
		case "off":
		default:
			c.printf("Usage: /typing on|off\n")
			return false
		}
		if err := c.session.InputChanged(ctx, draft); err != nil {
			c.printf("❌ %v\n", err)
		}

	case input == "/status":
		c.printStatus()

	case input == "/history":
		snap := c.session.Snapshot()
		if snap.Remote == nil {
			c.printf("No active conversation.\n")
			return false
		}
		c.printf("--- Conversation with %s ---\n", chat.ShortID(snap.Remote.ID))
		for _, msg := range snap.Messages {
			c.printMessage(snap.Remote.ID, msg)
		}
		c.printf("--- End of conversation ---\n")

	case strings.HasPrefix(input, "/connect "):
		id, err := c.node.Connect(ctx, strings.TrimSpace(input[9:]))
		if err != nil {
			c.printf("❌ Connection failed: %v\n", err)
		} else {
			c.printf("✅ Connected to %s\n", chat.ShortID(id))
		}

	case input == "/disconnect":
		c.node.DisconnectFromAllPeers()
		c.printf("Disconnected from all peers\n")

	case strings.HasPrefix(input, "/disconnect "):
		id, err := peer.Decode(strings.TrimSpace(input[12:]))
		if err == nil {
			err = c.node.DisconnectFromPeer(id)
		}
		if err != nil {
			c.printf("❌ Disconnect failed: %v\n", err)
		} else {
			c.printf("Disconnected from %s\n", chat.ShortID(id))
		}

	case input == "/peers":
		peers := c.node.ListPeers()
		c.printf("📊 Network Status: %d connected, %d known peers\n", c.node.ConnectedCount(), len(peers))
		for _, p := range peers {
			status := "disconnected"
			if p.Connected {
				status = "connected"
			}
			c.printf("  - %s (%s, via %s)\n", p.ID, status, p.Source)
		}

	case input == "/contacts":
		contacts := c.contacts.ListContacts()
		if len(contacts) == 0 {
			c.printf("No contacts found. Use /add-contact <name> <key> to add one.\n")
			return false
		}
		c.printf("Contacts:\n")
		for _, contact := range contacts {
			c.printf("  - %s: %s\n", contact.Name, contact.PeerID)
		}

	case strings.HasPrefix(input, "/add-contact "):
		parts := strings.SplitN(strings.TrimSpace(input[13:]), " ", 2)
		if len(parts) < 2 {
			c.printf("Usage: /add-contact <name> <key>\n")
			return false
		}
		contact, err := c.contacts.AddContact(parts[0], parts[1])
		if err != nil {
			c.printf("❌ Invalid contact: %v\n", err)
			return false
		}
		if err := c.contacts.SaveContacts(); err != nil {
			c.printf("❌ Failed to save contacts: %v\n", err)
			return false
		}
		c.printf("✅ Contact '%s' added (%s).\n", contact.Name, contact.PeerID)

	case input == "/lobby":
		if c.lobby == nil {
			c.printf("The lobby is disabled. Start with --lobby to join it.\n")
			return false
		}
		entries := c.lobby.Peers()
		if len(entries) == 0 {
			c.printf("Nobody is announcing in the lobby yet.\n")
			return false
		}
		c.printf("Lobby:\n")
		for _, e := range entries {
			name := ""
			if contact, ok := c.contacts.GetContactByPeerID(e.PeerID.String()); ok {
				name = " (" + contact.Name + ")"
			}
			c.printf("  - %s%s\n    %s\n", e.PeerID, name, e.Key)
		}

	case strings.HasPrefix(input, "/"):
		c.printf("Unknown command. Type /help for the list.\n")

	default:
		if _, err := c.session.Send(ctx, input); err != nil && !errors.Is(err, chat.ErrSendUnreachable) {
			// Unreachable sends are reported through the failed entry event.
			c.printf("❌ %v\n", err)
		}
	}
	return false
}

func (c *CLI) dial(ctx context.Context, target string) {
	if target == "" {
		c.printf("Usage: /dial <key|name>\n")
		return
	}
	c.printf("⏳ Dialing...\n")
	remote, err := c.session.Dial(ctx, c.contacts.ResolveKey(target))
	switch {
	case errors.Is(err, chat.ErrUnreachable):
		c.printf("❌ Peer is not reachable right now.\n")
	case err != nil:
		c.printf("❌ Dial failed: %v\n", err)
	default:
		c.printf("✅ Connected to %s. Say hello!\n", c.displayName(remote.ID))
	}
}

func (c *CLI) displayName(id peer.ID) string {
	if contact, ok := c.contacts.GetContactByPeerID(id.String()); ok {
		return contact.Name
	}
	return chat.ShortID(id)
}

func (c *CLI) printStatus() {
	snap := c.session.Snapshot()
	c.printf("📊 Session: %s (generation %d)\n", snap.Phase, snap.Generation)
	if snap.Remote != nil {
		c.printf("   Peer: %s\n", c.displayName(snap.Remote.ID))
		c.printf("   Messages: %d\n", len(snap.Messages))
		if snap.RemoteTyping {
			c.printf("   Peer is typing\n")
		}
	}
	c.printf("   Dropped frames: %d\n", c.session.Dropped())
	c.printf("   Connected peers: %d\n", c.node.ConnectedCount())
}

func (c *CLI) printMessage(remote peer.ID, msg chat.Message) {
	switch {
	case msg.Direction == chat.Remote:
		c.printf("💬 %s: %s\n", c.displayName(remote), msg.Text)
	case msg.Status == chat.StatusFailed:
		c.printf("❌ you (not delivered): %s\n", msg.Text)
	default:
		c.printf("✓ you: %s\n", msg.Text)
	}
}

func (c *CLI) printEvents(events <-chan chat.Event) {
	for ev := range events {
		switch ev.Kind {
		case chat.EventMessage:
			remote := c.session.Remote()
			if remote == nil {
				continue
			}
			c.printMessage(remote.ID, ev.Message)
		case chat.EventTyping:
			if ev.Typing {
				c.printf("✏️  peer is typing...\n")
			}
		case chat.EventPhase:
			switch {
			case ev.Phase != chat.PhaseIdle:
			case errors.Is(ev.Err, chat.ErrConnectionLost):
				c.printf("🔌 Peer disconnected. Conversation cleared.\n")
			case errors.Is(ev.Err, chat.ErrRemoteHangup):
				c.printf("👋 Peer hung up. Conversation cleared.\n")
			}
		}
	}
}

// Start is the main entry point of the interactive client.
func Start(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	identity, err := IdentityFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to load or generate identity: %w", err)
	}
	dataDir, err := getHushDir(cfg.DataDir)
	if err != nil {
		return err
	}

	node, err := NewNode(cfg, identity)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer node.Close()

	if err := node.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}

	contacts, err := NewContactManager(filepath.Join(dataDir, contactsFileName))
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	var lobby *Lobby
	if cfg.Lobby.Enabled {
		lobby, err = node.JoinLobby()
		if err != nil {
			return err
		}
		defer lobby.Close()
	}

	session := chat.NewSession(node, identity, cfg.ChatConfig())
	defer session.Close()

	cli := NewCLI(node, session, contacts, lobby, out)
	cli.Handle(ctx, "/id")
	return cli.Run(ctx, in)
}
