package libp2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DataDir  string      `json:"data_dir"`
	LogLevel string      `json:"log_level"`
	Identity Identity    `json:"identity"`
	P2P      P2P         `json:"p2p"`
	DHT      DHT         `json:"dht"`
	Lobby    LobbyConfig `json:"lobby"`
	Chat     Chat        `json:"chat"`
}

type Identity struct {
	// Relative paths are resolved against the data directory.
	KeyFile string `json:"key_file"`

	// If true, a fresh key is generated and never written to disk.
	Ephemeral bool `json:"ephemeral"`
}

type P2P struct {
	ListenHost   string `json:"listen_host"`
	ListenPort   int    `json:"listen_port"`
	QUIC         bool   `json:"quic"`
	MdnsEnabled  bool   `json:"mdns_enabled"`
	MdnsTag      string `json:"mdns_tag"`
	Relay        bool   `json:"relay"`
	ConnLow      int    `json:"conn_low"`
	ConnHigh     int    `json:"conn_high"`
	ConnGraceSec int    `json:"conn_grace_seconds"`
}

type DHT struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`

	// Empty means the public libp2p bootstrap nodes.
	Bootstrap []string `json:"bootstrap"`
}

type LobbyConfig struct {
	Enabled     bool   `json:"enabled"`
	Topic       string `json:"topic"`
	AnnounceSec int    `json:"announce_seconds"`
	TTLSec      int    `json:"ttl_seconds"`
}

type Chat struct {
	ProbeDeadlineMs    int `json:"probe_deadline_ms"`
	ProbeIntervalMs    int `json:"probe_interval_ms"`
	LivenessIntervalMs int `json:"liveness_interval_ms"`
	PingTimeoutMs      int `json:"ping_timeout_ms"`
	MaxMessageBytes    int `json:"max_message_bytes"`
}

func Default() Config {
	return Config{
		DataDir:  "",
		LogLevel: "info",
		Identity: Identity{
			KeyFile: identityFileName,
		},
		P2P: P2P{
			ListenHost:   "0.0.0.0",
			ListenPort:   0,
			QUIC:         true,
			MdnsEnabled:  true,
			MdnsTag:      MdnsServiceTag,
			Relay:        true,
			ConnLow:      50,
			ConnHigh:     200,
			ConnGraceSec: 60,
		},
		DHT: DHT{
			Enabled:   true,
			Namespace: GlobalNamespace,
		},
		Lobby: LobbyConfig{
			Enabled:     false,
			Topic:       LobbyTopic,
			AnnounceSec: 30,
			TTLSec:      120,
		},
		Chat: Chat{
			ProbeDeadlineMs:    int(chat.DefaultProbeDeadline / time.Millisecond),
			ProbeIntervalMs:    int(chat.DefaultProbeInterval / time.Millisecond),
			LivenessIntervalMs: int(chat.DefaultLivenessInterval / time.Millisecond),
			PingTimeoutMs:      int(chat.DefaultPingTimeout / time.Millisecond),
			MaxMessageBytes:    chat.DefaultMaxMessageBytes,
		},
	}
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	// Identity
	if !c.Identity.Ephemeral && strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required unless identity.ephemeral is set")
	}

	// P2P
	if net.ParseIP(c.P2P.ListenHost) == nil {
		return errors.New("p2p.listen_host must be a valid IP address")
	}
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if c.P2P.MdnsEnabled && strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required when mdns is enabled")
	}
	if c.P2P.ConnLow < 0 || c.P2P.ConnHigh < c.P2P.ConnLow {
		return errors.New("p2p.conn_low must be >= 0 and <= p2p.conn_high")
	}
	if c.P2P.ConnGraceSec < 0 {
		return errors.New("p2p.conn_grace_seconds must be >= 0")
	}

	// DHT
	if c.DHT.Enabled && strings.TrimSpace(c.DHT.Namespace) == "" {
		return errors.New("dht.namespace is required when the dht is enabled")
	}
	for _, addr := range c.DHT.Bootstrap {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("dht.bootstrap: %q: %w", addr, err)
		}
	}

	// Lobby
	if c.Lobby.Enabled {
		if strings.TrimSpace(c.Lobby.Topic) == "" {
			return errors.New("lobby.topic is required when the lobby is enabled")
		}
		if c.Lobby.AnnounceSec <= 0 {
			return errors.New("lobby.announce_seconds must be > 0")
		}
		if c.Lobby.TTLSec <= c.Lobby.AnnounceSec {
			return errors.New("lobby.ttl_seconds must be > lobby.announce_seconds")
		}
	}

	// Chat
	if c.Chat.ProbeDeadlineMs <= 0 {
		return errors.New("chat.probe_deadline_ms must be > 0")
	}
	if c.Chat.ProbeIntervalMs <= 0 {
		return errors.New("chat.probe_interval_ms must be > 0")
	}
	if c.Chat.LivenessIntervalMs <= 0 {
		return errors.New("chat.liveness_interval_ms must be > 0")
	}
	if c.Chat.PingTimeoutMs <= 0 {
		return errors.New("chat.ping_timeout_ms must be > 0")
	}
	if c.Chat.MaxMessageBytes <= 0 {
		return errors.New("chat.max_message_bytes must be > 0")
	}

	return nil
}

// ChatConfig converts the chat section into the session policy.
func (c *Config) ChatConfig() chat.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return chat.Config{
		ProbeDeadline:    ms(c.Chat.ProbeDeadlineMs),
		ProbeInterval:    ms(c.Chat.ProbeIntervalMs),
		LivenessInterval: ms(c.Chat.LivenessIntervalMs),
		PingTimeout:      ms(c.Chat.PingTimeoutMs),
		MaxMessageBytes:  c.Chat.MaxMessageBytes,
	}
}

// KeyPath returns the identity key location inside dataDir.
func (c *Config) KeyPath(dataDir string) string {
	if filepath.IsAbs(c.Identity.KeyFile) {
		return c.Identity.KeyFile
	}
	return filepath.Join(dataDir, c.Identity.KeyFile)
}

// ErrConfigExists is returned by InitConfig when it would overwrite a file.
var ErrConfigExists = errors.New("config file already exists")

// ConfigPath returns where the config file lives when no explicit path is
// given: config.json inside the data directory.
func ConfigPath(dataDir string) (string, error) {
	dir, err := getHushDir(dataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// InitConfig writes cfg to path, refusing to replace an existing file unless
// force is set.
func InitConfig(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return Save(path, cfg)
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0600)
}
