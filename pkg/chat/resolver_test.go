package chat

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	alice, _, _ := testIdentities(t)

	remote, err := Resolve(alice.PortableKey())
	require.NoError(t, err)
	require.Equal(t, alice.ID(), remote.ID)
	require.True(t, remote.PubKey.Equals(alice.PubKey()))
	require.Equal(t, alice.PortableKey(), remote.Key)

	remote, err = Resolve("\n" + alice.PortableKey() + "  ")
	require.NoError(t, err)
	require.Equal(t, alice.PortableKey(), remote.Key, "stored key is trimmed")
}

func TestResolveMalformed(t *testing.T) {
	alice, _, _ := testIdentities(t)
	key := alice.PortableKey()

	inputs := []string{
		"",
		"hello",
		"QmSoLnSGccFuZQJzRadHn95W2CrSFmMCKRYExzCGETCF9V",
		key[:len(key)/2],
		key[:len(key)-4] + "!!!!",
		"====",
	}
	for _, in := range inputs {
		require.NotPanics(t, func() {
			_, err := Resolve(in)
			require.ErrorIs(t, err, ErrMalformedKey, "input %q", in)
		})
	}
}

func TestShortID(t *testing.T) {
	id, err := peer.Decode("QmSoLPppuBtQSGwKDZT2M73ULpjvfd3aZ6ha4oFGL1KrGM")
	require.NoError(t, err)
	require.Equal(t, "QmSoLPppuBtQ", ShortID(id))

	require.Equal(t, "", ShortID(peer.ID("")))
}
