package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrEncryption      = errors.New("encryption failed")
	ErrDecryption      = errors.New("decryption failed")
	ErrMessageTooLarge = errors.New("message too large")
)

// maxBlockPlaintext is the OAEP-SHA256 payload limit for a key.
func maxBlockPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

func blockCount(n, limit int) int {
	if n == 0 {
		return 1
	}
	return (n + limit - 1) / limit
}

// CiphertextLen is the length Encrypt produces for n plaintext bytes under
// a key of keySize bytes.
func CiphertextLen(n, keySize int) int {
	limit := keySize - 2*sha256.Size - 2
	if limit <= 0 {
		return 0
	}
	return blockCount(n, limit) * keySize
}

// Encrypt seals plaintext for the holder of pub using RSA-OAEP (SHA-256).
// Plaintext longer than one block is split; the result is the concatenation
// of pub.Size()-byte ciphertext blocks.
func Encrypt(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrEncryption)
	}
	limit := maxBlockPlaintext(pub)
	if limit <= 0 {
		return nil, fmt.Errorf("%w: key too small", ErrEncryption)
	}

	blocks := blockCount(len(plaintext), limit)

	out := make([]byte, 0, blocks*pub.Size())
	for i := 0; i < blocks; i++ {
		start := i * limit
		end := min(start+limit, len(plaintext))
		ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext[start:end], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		out = append(out, ct...)
	}
	return out, nil
}

// Decrypt reverses Encrypt with the matching private key.
func Decrypt(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrDecryption)
	}
	size := priv.PublicKey.Size()
	if len(ciphertext) == 0 || len(ciphertext)%size != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrDecryption, len(ciphertext), size)
	}

	var out []byte
	for off := 0; off < len(ciphertext); off += size {
		pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext[off:off+size], nil)
		if err != nil {
			return nil, ErrDecryption
		}
		out = append(out, pt...)
	}
	return out, nil
}

// EncodeHex renders b as lowercase hex, two characters per byte.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex parses pairs of hex digits. Odd length or a non-hex digit fails.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}
