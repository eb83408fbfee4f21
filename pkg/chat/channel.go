package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/baderanaas/hushchat/pkg/crypto"
	"github.com/sirupsen/logrus"
)

// Channel frames, encrypts and transmits envelopes, and reverses that for
// inbound streams. Each frame travels on its own stream; stream closure is
// the only delimiter.
type Channel struct {
	overlay    Overlay
	identity   *crypto.Identity
	maxMessage int
}

func NewChannel(o Overlay, id *crypto.Identity, maxMessageBytes int) *Channel {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	return &Channel{overlay: o, identity: id, maxMessage: maxMessageBytes}
}

// EncodeFrame returns the wire form of env for recipient: lowercase hex of
// the RSA ciphertext of the JSON envelope.
func (c *Channel) EncodeFrame(env Envelope, to *RemotePeer) (string, error) {
	plaintext, err := env.marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if len(plaintext) > c.maxMessage {
		return "", fmt.Errorf("%w: %d bytes, limit %d", crypto.ErrMessageTooLarge, len(plaintext), c.maxMessage)
	}
	ciphertext, err := crypto.Encrypt(plaintext, to.encKey)
	if err != nil {
		return "", err
	}
	return crypto.EncodeHex(ciphertext), nil
}

// Send encrypts env for the recipient and writes it as the full payload of a
// freshly opened stream.
func (c *Channel) Send(ctx context.Context, env Envelope, to *RemotePeer) error {
	frame, err := c.EncodeFrame(env, to)
	if err != nil {
		return err
	}

	s, err := c.overlay.NewStream(ctx, to.ID, ProtocolID)
	if err != nil {
		return fmt.Errorf("%w: open stream to %s: %v", ErrSendUnreachable, ShortID(to.ID), err)
	}
	if _, err := io.WriteString(s, frame); err != nil {
		_ = s.Close()
		return fmt.Errorf("%w: write to %s: %v", ErrSendUnreachable, ShortID(to.ID), err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("%w: close stream to %s: %v", ErrSendUnreachable, ShortID(to.ID), err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"peer":     ShortID(to.ID),
		"kind":     env.Kind,
		"bytes":    len(frame),
	}).Debug("Frame sent")
	return nil
}

// maxFrameLen is the longest hex payload a conforming peer can produce.
func (c *Channel) maxFrameLen() int {
	return 2 * crypto.CiphertextLen(c.maxMessage, c.identity.KeySize())
}

// Receive reads r to the end and decodes the accumulated text. Every
// failure wraps ErrDecode.
func (c *Channel) Receive(r io.Reader) (Envelope, error) {
	limit := c.maxFrameLen()
	// Allow a little slack for trailing whitespace.
	raw, err := io.ReadAll(io.LimitReader(r, int64(limit)+64))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: read: %v", ErrDecode, err)
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > limit {
		return Envelope{}, fmt.Errorf("%w: frame exceeds %d characters", ErrDecode, limit)
	}
	return c.DecodeFrame(text)
}

// DecodeFrame parses hex, decrypts with the local private key and checks the
// plaintext is UTF-8 before unpacking the envelope.
func (c *Channel) DecodeFrame(text string) (Envelope, error) {
	if text == "" {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	ciphertext, err := crypto.DecodeHex(text)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	plaintext, err := c.identity.Decrypt(ciphertext)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !utf8.Valid(plaintext) {
		return Envelope{}, fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecode)
	}
	env, err := unmarshalEnvelope(plaintext)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return env, nil
}
