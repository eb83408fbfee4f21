package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/baderanaas/hushchat/pkg/crypto"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// Session is the state machine of one conversation. It moves
// idle -> dialing -> active and back to idle when the peer stops answering
// pings or either side hangs up. Leaving active clears the peer, the message
// log and the typing flag in one step and bumps the generation, which makes
// every background loop and handler of the old conversation a no-op.
type Session struct {
	overlay  Overlay
	identity *crypto.Identity
	cfg      Config
	channel  *Channel
	prober   *Prober

	mu           sync.Mutex
	phase        Phase
	generation   uint64
	remote       *RemotePeer
	messages     []Message
	seq          uint64
	remoteTyping bool
	stillTyping  bool
	stopMonitor  context.CancelFunc
	closed       bool

	dropped atomic.Uint64

	listenersMu sync.RWMutex
	listeners   []chan Event
}

// NewSession builds an idle session on top of an overlay node. The overlay
// is owned by the caller and must outlive the session.
func NewSession(o Overlay, id *crypto.Identity, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		overlay:  o,
		identity: id,
		cfg:      cfg,
		channel:  NewChannel(o, id, cfg.MaxMessageBytes),
		prober:   NewProber(o, cfg.ProbeDeadline, cfg.ProbeInterval),
		phase:    PhaseIdle,
	}
}

// Dial resolves key, waits for the peer to answer a ping and activates the
// session. Only an idle session can dial; a concurrent attempt gets
// ErrDialInProgress.
func (s *Session) Dial(ctx context.Context, key string) (*RemotePeer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	switch s.phase {
	case PhaseDialing:
		s.mu.Unlock()
		return nil, ErrDialInProgress
	case PhaseActive:
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	s.phase = PhaseDialing
	gen := s.generation
	s.mu.Unlock()
	s.emit(Event{Kind: EventPhase, Phase: PhaseDialing, Generation: gen})

	remote, err := s.resolveAndProbe(ctx, key)
	if err == nil {
		err = s.activate(remote)
	}
	if err != nil {
		s.mu.Lock()
		s.phase = PhaseIdle
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Dial",
			"error":    err.Error(),
		}).Info("Dial failed")
		s.emit(Event{Kind: EventPhase, Phase: PhaseIdle, Err: err, Generation: gen})
		return nil, err
	}
	return remote, nil
}

func (s *Session) resolveAndProbe(ctx context.Context, key string) (*RemotePeer, error) {
	remote, err := Resolve(key)
	if err != nil {
		return nil, err
	}
	if remote.ID == s.overlay.ID() {
		return nil, ErrSelfDial
	}
	if err := s.prober.Probe(ctx, remote.ID); err != nil {
		return nil, err
	}
	return remote, nil
}

// activate moves a dialing session to active. A session closed while its
// dial was probing stays down.
func (s *Session) activate(remote *RemotePeer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	mctx, cancel := context.WithCancel(context.Background())
	gen := s.generation
	s.phase = PhaseActive
	s.remote = remote
	s.messages = nil
	s.remoteTyping = false
	s.stillTyping = false
	s.stopMonitor = cancel
	s.overlay.SetStreamHandler(ProtocolID, s.inboundHandler(gen))
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "activate",
		"peer":       ShortID(remote.ID),
		"generation": gen,
	}).Info("Session active")
	s.emit(Event{Kind: EventPhase, Phase: PhaseActive, Generation: gen})

	go s.monitor(mctx, gen, remote.ID)
	return nil
}

// teardown resets an active session of generation gen. It returns false if
// that generation is no longer current.
func (s *Session) teardown(gen uint64, reason error) bool {
	s.mu.Lock()
	if s.phase != PhaseActive || s.generation != gen {
		s.mu.Unlock()
		return false
	}
	remote := s.remote
	s.generation++
	next := s.generation
	s.phase = PhaseIdle
	s.remote = nil
	s.messages = nil
	s.remoteTyping = false
	s.stillTyping = false
	stop := s.stopMonitor
	s.stopMonitor = nil
	s.overlay.RemoveStreamHandler(ProtocolID)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	logrus.WithFields(logrus.Fields{
		"function":   "teardown",
		"peer":       ShortID(remote.ID),
		"generation": next,
		"reason":     reason.Error(),
	}).Info("Session reset")
	s.emit(Event{Kind: EventPhase, Phase: PhaseIdle, Err: reason, Generation: next})
	return true
}

// Hangup ends the active session and tells the peer with a leave frame, so
// both sides return to idle. The leave frame is best effort: a peer that
// misses it resets once its liveness pings fail.
func (s *Session) Hangup() error {
	s.mu.Lock()
	active := s.phase == PhaseActive
	gen := s.generation
	remote := s.remote
	s.mu.Unlock()

	if !active || !s.teardown(gen, ErrHangup) {
		return ErrNotActive
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PingTimeout)
	defer cancel()
	if err := s.channel.Send(ctx, Leave(), remote); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Hangup",
			"peer":     ShortID(remote.ID),
			"error":    err.Error(),
		}).Debug("Leave frame not delivered")
	}
	return nil
}

// Send delivers text to the active peer and appends it to the log. The entry
// is appended after the send attempt; a failed delivery is kept with
// StatusFailed and the error is returned. A frame that was delivered just as
// the session reset is reported as sent but is not logged.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	if !utf8.ValidString(text) {
		return Message{}, ErrInvalidText
	}

	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return Message{}, ErrNotActive
	}
	remote := s.remote
	gen := s.generation
	s.mu.Unlock()

	sendErr := s.channel.Send(ctx, Content(text), remote)
	if errors.Is(sendErr, crypto.ErrMessageTooLarge) {
		return Message{}, sendErr
	}
	status := StatusSent
	if sendErr != nil {
		status = StatusFailed
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"peer":     ShortID(remote.ID),
			"error":    sendErr.Error(),
		}).Warn("Message not delivered")
	}

	s.mu.Lock()
	if s.phase != PhaseActive || s.generation != gen {
		s.mu.Unlock()
		if sendErr != nil {
			return Message{}, sendErr
		}
		return Message{ID: uuid.NewString(), Direction: Local, Text: text, Status: StatusSent}, nil
	}
	msg := s.appendLocked(Local, text, status)
	s.stillTyping = false
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, Message: msg, Generation: gen})
	return msg, sendErr
}

// InputChanged reports the local draft. The first character of a draft sends
// TypingStarted and clearing the draft without sending sends TypingStopped;
// keystrokes in between send nothing.
func (s *Session) InputChanged(ctx context.Context, draft string) error {
	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	var env Envelope
	switch {
	case draft != "" && !s.stillTyping:
		s.stillTyping = true
		env = TypingStarted()
	case draft == "" && s.stillTyping:
		s.stillTyping = false
		env = TypingStopped()
	default:
		s.mu.Unlock()
		return nil
	}
	remote := s.remote
	gen := s.generation
	s.mu.Unlock()

	if err := s.channel.Send(ctx, env, remote); err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.stillTyping = env.Kind != KindTypingStarted
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) inboundHandler(gen uint64) StreamHandler {
	return func(from peer.ID, r io.Reader) error {
		env, err := s.channel.Receive(r)
		if err != nil {
			s.drop(from, err)
			return err
		}
		return s.deliver(gen, from, env)
	}
}

// deliver applies an inbound envelope to generation gen. Frames from anyone
// but the active peer are dropped with an error.
func (s *Session) deliver(gen uint64, from peer.ID, env Envelope) error {
	var events []Event

	s.mu.Lock()
	if s.phase != PhaseActive || s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	if from != s.remote.ID {
		expected := s.remote.ID
		s.mu.Unlock()
		err := fmt.Errorf("%w: sender is not %s", ErrDecode, ShortID(expected))
		s.drop(from, err)
		return err
	}
	if env.Kind == KindLeave {
		s.mu.Unlock()
		s.teardown(gen, ErrRemoteHangup)
		return nil
	}

	wasTyping := s.remoteTyping
	switch env.Kind {
	case KindTypingStarted:
		s.remoteTyping = true
	case KindTypingStopped:
		s.remoteTyping = false
	case KindContent:
		s.remoteTyping = false
		msg := s.appendLocked(Remote, env.Text, StatusReceived)
		events = append(events, Event{Kind: EventMessage, Message: msg, Generation: gen})
	}
	if wasTyping != s.remoteTyping {
		events = append(events, Event{Kind: EventTyping, Typing: s.remoteTyping, Generation: gen})
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
	return nil
}

func (s *Session) drop(from peer.ID, err error) {
	s.dropped.Add(1)
	logrus.WithFields(logrus.Fields{
		"function": "drop",
		"peer":     ShortID(from),
		"error":    err.Error(),
	}).Warn("Dropped inbound frame")
}

// appendLocked adds an entry to the log. The caller holds s.mu.
func (s *Session) appendLocked(dir Direction, text string, status Status) Message {
	s.seq++
	msg := Message{
		ID:        uuid.NewString(),
		Seq:       s.seq,
		Direction: dir,
		Text:      text,
		Status:    status,
	}
	s.messages = append(s.messages, msg)
	return msg
}

// current reports whether gen is still the active generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseActive && s.generation == gen
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) Remote() *RemotePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *Session) RemoteTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTyping
}

// Messages returns a copy of the log in arrival order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:        s.phase,
		Generation:   s.generation,
		Remote:       s.remote,
		Messages:     append([]Message(nil), s.messages...),
		RemoteTyping: s.remoteTyping,
	}
}

// Dropped counts inbound frames discarded since the session was created.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Identity returns the local identity the session decrypts with.
func (s *Session) Identity() *crypto.Identity {
	return s.identity
}

// Subscribe returns a channel receiving session events. Events are dropped
// for a subscriber whose buffer is full.
func (s *Session) Subscribe() <-chan Event {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	ch := make(chan Event, s.cfg.EventBuffer)
	s.listeners = append(s.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (s *Session) Unsubscribe(ch <-chan Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	for i, listener := range s.listeners {
		if listener == ch {
			close(listener)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Session) emit(ev Event) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()

	for _, listener := range s.listeners {
		select {
		case listener <- ev:
		default:
		}
	}
}

// Close hangs up any active conversation and closes all subscriber channels.
// A closed session cannot dial again, and a dial still probing when Close is
// called fails with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.Hangup()

	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for _, listener := range s.listeners {
		close(listener)
	}
	s.listeners = nil
	return nil
}
