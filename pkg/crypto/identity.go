package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyBits is the RSA modulus size for new identities. go-libp2p refuses
// RSA keys below 2048 bits.
const KeyBits = 2048

var (
	ErrIdentity   = errors.New("identity error")
	ErrInvalidKey = errors.New("invalid public key")
)

// Identity is the local keypair and the peer ID derived from it.
// It is immutable once created.
type Identity struct {
	priv ic.PrivKey
	pub  ic.PubKey
	id   peer.ID
	std  *rsa.PrivateKey
	key  string
}

// NewIdentity generates a fresh RSA identity.
func NewIdentity() (*Identity, error) {
	priv, _, err := ic.GenerateRSAKeyPair(KeyBits, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrIdentity, err)
	}
	return IdentityFromKey(priv)
}

// IdentityFromKey wraps an existing libp2p private key. Only RSA keys can
// decrypt chat payloads.
func IdentityFromKey(priv ic.PrivKey) (*Identity, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil key", ErrIdentity)
	}
	std, err := ic.PrivKeyToStdKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentity, err)
	}
	rsaKey, ok := std.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T cannot decrypt", ErrIdentity, std)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: derive peer id: %v", ErrIdentity, err)
	}
	key, err := ExportPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("%w: export public key: %v", ErrIdentity, err)
	}
	return &Identity{
		priv: priv,
		pub:  priv.GetPublic(),
		id:   id,
		std:  rsaKey,
		key:  key,
	}, nil
}

func (i *Identity) ID() peer.ID         { return i.id }
func (i *Identity) PrivKey() ic.PrivKey { return i.priv }
func (i *Identity) PubKey() ic.PubKey   { return i.pub }

// PortableKey returns the text form of the public key handed to peers out
// of band (QR code, clipboard).
func (i *Identity) PortableKey() string {
	return i.key
}

// KeySize is the RSA modulus length in bytes, which is also the size of
// one ciphertext block.
func (i *Identity) KeySize() int {
	return i.std.PublicKey.Size()
}

// Decrypt opens a payload sealed for this identity.
func (i *Identity) Decrypt(ciphertext []byte) ([]byte, error) {
	return Decrypt(ciphertext, i.std)
}

// ExportPublicKey encodes a public key as base64 of its libp2p protobuf form.
func ExportPublicKey(pub ic.PubKey) (string, error) {
	raw, err := ic.MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ic.ConfigEncodeKey(raw), nil
}

// ImportPublicKey parses a portable key string. Surrounding whitespace, as
// left behind by copy and paste, is ignored.
func ImportPublicKey(s string) (ic.PubKey, *rsa.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	raw, err := ic.ConfigDecodeKey(s)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, err := ic.UnmarshalPublicKey(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	std, err := ic.PubKeyToStdKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	rsaPub, ok := std.(*rsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: key type %T cannot encrypt", ErrInvalidKey, std)
	}
	return pub, rsaPub, nil
}
