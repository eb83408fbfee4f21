package libp2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/baderanaas/hushchat/pkg/chat"
)

// Contact is a named portable key. PeerID is derived from Key and stored
// only for display and lookup.
type Contact struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	PeerID string `json:"peerId"`
}

// ContactManager manages the contacts.
type ContactManager struct {
	contacts []Contact
	lock     sync.RWMutex
	filePath string
}

// NewContactManager creates a new ContactManager.
func NewContactManager(filePath string) (*ContactManager, error) {
	cm := &ContactManager{
		filePath: filePath,
	}
	if err := cm.LoadContacts(); err != nil {
		return nil, err
	}
	return cm, nil
}

// LoadContacts loads contacts from the JSON file.
func (cm *ContactManager) LoadContacts() error {
	cm.lock.Lock()
	defer cm.lock.Unlock()

	file, err := os.ReadFile(cm.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cm.contacts = []Contact{}
			return nil
		}
		return err
	}

	var contacts []Contact
	if err := json.Unmarshal(file, &contacts); err != nil {
		return fmt.Errorf("parse %s: %w", cm.filePath, err)
	}
	cm.contacts = contacts
	return nil
}

// SaveContacts saves contacts to the JSON file.
func (cm *ContactManager) SaveContacts() error {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	file, err := json.MarshalIndent(cm.contacts, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cm.filePath, file, 0600)
}

// AddContact stores key under name, replacing an existing contact of the
// same name. The key must resolve to a peer.
func (cm *ContactManager) AddContact(name, key string) (Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return Contact{}, fmt.Errorf("invalid contact name %q", name)
	}
	remote, err := chat.Resolve(key)
	if err != nil {
		return Contact{}, err
	}
	contact := Contact{Name: name, Key: remote.Key, PeerID: remote.ID.String()}

	cm.lock.Lock()
	defer cm.lock.Unlock()

	for i, c := range cm.contacts {
		if c.Name == name {
			cm.contacts[i] = contact
			return contact, nil
		}
	}
	cm.contacts = append(cm.contacts, contact)
	return contact, nil
}

// RemoveContact deletes a contact by name and reports whether it existed.
func (cm *ContactManager) RemoveContact(name string) bool {
	cm.lock.Lock()
	defer cm.lock.Unlock()

	for i, c := range cm.contacts {
		if c.Name == name {
			cm.contacts = append(cm.contacts[:i], cm.contacts[i+1:]...)
			return true
		}
	}
	return false
}

// GetContact returns a contact by name.
func (cm *ContactManager) GetContact(name string) (Contact, bool) {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	for _, contact := range cm.contacts {
		if contact.Name == name {
			return contact, true
		}
	}
	return Contact{}, false
}

// GetContactByPeerID returns a contact by peer ID.
func (cm *ContactManager) GetContactByPeerID(peerID string) (Contact, bool) {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	for _, contact := range cm.contacts {
		if contact.PeerID == peerID {
			return contact, true
		}
	}
	return Contact{}, false
}

// ListContacts returns all contacts sorted by name.
func (cm *ContactManager) ListContacts() []Contact {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	out := append([]Contact(nil), cm.contacts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveKey returns the portable key for a contact name, or input itself
// when no contact of that name exists.
func (cm *ContactManager) ResolveKey(input string) string {
	if c, ok := cm.GetContact(strings.TrimSpace(input)); ok {
		return c.Key
	}
	return input
}
