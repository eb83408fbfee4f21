package libp2p

const (
	// DHT rendezvous namespace every hushchat node advertises under.
	GlobalNamespace = "hushchat-global"

	// Gossip topic of the opt-in lobby.
	LobbyTopic = "hushchat.lobby.v1"

	// mDNS service tag for LAN discovery.
	MdnsServiceTag = "hushchat-mdns"
)
