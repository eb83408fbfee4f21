package libp2p

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/baderanaas/hushchat/pkg/chat"
	"github.com/baderanaas/hushchat/pkg/crypto"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/sirupsen/logrus"
)

const (
	identityFileName = "identity.key"
	contactsFileName = "contacts.json"
	configFileName   = "config.json"
)

// getHushDir returns the path to the application's data directory.
// If baseDir is provided, it's used instead of the default user home directory.
func getHushDir(baseDir string) (string, error) {
	if baseDir != "" {
		return baseDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hushchat"), nil
}

// SaveIdentity writes the private key in libp2p's marshalled form, readable
// only by the owner.
func SaveIdentity(id *crypto.Identity, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return err
	}

	keyBytes, err := ic.MarshalPrivateKey(id.PrivKey())
	if err != nil {
		return err
	}

	return os.WriteFile(keyPath, keyBytes, 0600)
}

// LoadIdentity loads the private key at keyPath. If the key doesn't exist,
// it generates a new RSA identity and saves it. A key that exists but cannot
// be used is an error: silently replacing it would change the peer ID.
func LoadIdentity(keyPath string) (*crypto.Identity, bool, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}
		id, err := crypto.NewIdentity()
		if err != nil {
			return nil, false, err
		}
		if err := SaveIdentity(id, keyPath); err != nil {
			return nil, false, fmt.Errorf("save identity: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "LoadIdentity",
			"path":     keyPath,
			"peer":     chat.ShortID(id.ID()),
		}).Info("Generated new identity key")
		return id, true, nil
	}

	priv, err := ic.UnmarshalPrivateKey(keyBytes)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", crypto.ErrIdentity, keyPath, err)
	}
	id, err := crypto.IdentityFromKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", keyPath, err)
	}
	return id, false, nil
}

// OpenIdentity returns the identity the node should run with: a throwaway
// one when the config asks for it, the persisted one otherwise.
func OpenIdentity(cfg Config, dataDir string) (*crypto.Identity, error) {
	if cfg.Identity.Ephemeral {
		return crypto.NewIdentity()
	}
	id, _, err := LoadIdentity(cfg.KeyPath(dataDir))
	return id, err
}

// IdentityFromConfig opens the identity in the configured data directory,
// creating the directory on first use.
func IdentityFromConfig(cfg Config) (*crypto.Identity, error) {
	dataDir, err := getHushDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	return OpenIdentity(cfg, dataDir)
}
