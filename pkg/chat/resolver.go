package chat

import (
	"fmt"
	"strings"

	"github.com/baderanaas/hushchat/pkg/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Resolve turns a portable public-key string into a RemotePeer. It does no
// network I/O. Every parse failure is reported as ErrMalformedKey.
func Resolve(key string) (*RemotePeer, error) {
	pub, encKey, err := crypto.ImportPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: derive peer id: %v", ErrMalformedKey, err)
	}
	return &RemotePeer{
		ID:     id,
		PubKey: pub,
		Key:    strings.TrimSpace(key),
		encKey: encKey,
	}, nil
}
