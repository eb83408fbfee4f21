package chat

import "time"

const (
	DefaultProbeDeadline    = 5 * time.Second
	DefaultProbeInterval    = 2 * time.Second
	DefaultLivenessInterval = 5 * time.Second
	DefaultPingTimeout      = 5 * time.Second
	DefaultMaxMessageBytes  = 4096
	DefaultEventBuffer      = 32
)

// Config holds the retry and size policy of a Session.
type Config struct {
	// ProbeDeadline bounds how long Dial waits for the first successful ping.
	ProbeDeadline time.Duration
	// ProbeInterval is the pause between failed dial pings.
	ProbeInterval time.Duration
	// LivenessInterval is the pause between pings while a session is active.
	LivenessInterval time.Duration
	// PingTimeout bounds a single liveness ping.
	PingTimeout time.Duration
	// MaxMessageBytes caps the encoded plaintext of one frame.
	MaxMessageBytes int
	// EventBuffer is the channel capacity handed to each subscriber.
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		ProbeDeadline:    DefaultProbeDeadline,
		ProbeInterval:    DefaultProbeInterval,
		LivenessInterval: DefaultLivenessInterval,
		PingTimeout:      DefaultPingTimeout,
		MaxMessageBytes:  DefaultMaxMessageBytes,
		EventBuffer:      DefaultEventBuffer,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProbeDeadline <= 0 {
		c.ProbeDeadline = d.ProbeDeadline
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = d.LivenessInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
