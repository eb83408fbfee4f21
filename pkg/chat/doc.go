// Package chat implements the encrypted direct-messaging protocol spoken
// over "/encryptedChat/1.0".
//
// A Session dials a remote peer from its portable public key, confirms the
// peer answers pings, then exchanges RSA-encrypted frames with it, one
// stream per frame. Typing presence travels on the same channel inside a
// tagged envelope, as does the leave notice sent on hangup. A background
// liveness loop pings the peer and resets the Session when it stops
// answering.
//
// The package never talks to a concrete network stack. Everything it needs
// from the peer-to-peer node is expressed by the Overlay interface, which
// pkg/libp2p implements.
package chat
