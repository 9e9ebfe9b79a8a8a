package herald

// Directory is the part of the peer directory a transport consumes.
type Directory interface {
	// LocalPeer returns the peer this process represents.
	LocalPeer() *Peer

	// Peer returns a known remote or local peer, or ErrUnknownPeer.
	Peer(uid string) (*Peer, error)

	// UnsetAccess removes an access from a peer and notifies the
	// transport directories.
	UnsetAccess(peer *Peer, accessID string) error
}

// TransportDirectory is the hook a transport registers with the directory
// to follow the accesses of its own type.
type TransportDirectory interface {
	// AccessID names the access type handled.
	AccessID() string

	// LoadAccess rebuilds an access from its dump.
	LoadAccess(data any) (Access, error)

	// PeerAccessSet is called after peer gained or replaced an access of
	// this type.
	PeerAccessSet(peer *Peer, access Access)

	// PeerAccessUnset is called after peer lost an access of this type.
	PeerAccessUnset(peer *Peer, access Access)
}

// Core consumes inbound messages.
type Core interface {
	HandleMessage(msg *MessageReceived)
}

// CoreFunc adapts a function to Core.
type CoreFunc func(msg *MessageReceived)

// HandleMessage implements Core.
func (f CoreFunc) HandleMessage(msg *MessageReceived) {
	f(msg)
}
