package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags what an envelope carries.
type Kind string

const (
	KindContent       Kind = "content"
	KindTypingStarted Kind = "typing_started"
	KindTypingStopped Kind = "typing_stopped"
	// KindLeave tells the peer the sender hung up.
	KindLeave Kind = "leave"
)

// Envelope is the plaintext of every frame. Presence markers are their own
// kinds, so no user text can be mistaken for one.
type Envelope struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`
}

func Content(text string) Envelope { return Envelope{Kind: KindContent, Text: text} }
func TypingStarted() Envelope      { return Envelope{Kind: KindTypingStarted} }
func TypingStopped() Envelope      { return Envelope{Kind: KindTypingStopped} }
func Leave() Envelope              { return Envelope{Kind: KindLeave} }

func (e Envelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	switch e.Kind {
	case KindContent:
	case KindTypingStarted, KindTypingStopped, KindLeave:
		if e.Text != "" {
			return Envelope{}, errors.New("control envelope carries text")
		}
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	return e, nil
}
