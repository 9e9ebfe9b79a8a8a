package transport

import (
	"github.com/nerrad567/herald-mqtt/internal/herald"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt"
)

// ResolveOptions are the inputs of Resolve.
type ResolveOptions struct {
	// Peer is the target; may be nil when Extra carries everything.
	Peer *herald.Peer

	// Extra overrides the persisted access field by field.
	Extra *Extra

	// AccessID selects the persisted access. Empty means AccessID.
	AccessID string

	// Known looks up the last address recorded for a peer UID. It is
	// consulted only when Peer carries no usable access, e.g. an instance
	// that was replaced in the peer directory. Nil disables the lookup.
	Known func(peerUID string) (PeerAddress, bool)

	// NewClientID generates a client ID when neither source has one.
	// Nil uses herald.NewUID.
	NewClientID func() string
}

// Address is a resolved MQTT destination.
type Address struct {
	Host     string
	Port     int // 0 means no port
	ClientID string
	Topic    string

	// ClientIDGenerated is set when ClientID was generated.
	ClientIDGenerated bool
}

// BrokerURL returns the broker URL of the address; the port is omitted
// when unset.
func (a Address) BrokerURL(useTLS bool) string {
	return mqtt.BrokerURL(a.Host, a.Port, useTLS)
}

// Resolve picks the destination of a send.
//
// Each field is resolved on its own: the value from Extra wins when
// non-empty, then the peer's persisted access (or the Known address when
// the peer has none). A missing client ID is
// generated; a missing host or topic fails with an
// *herald.InvalidPeerAccessError naming the peer.
func Resolve(opts ResolveOptions) (Address, error) {
	accessID := opts.AccessID
	if accessID == "" {
		accessID = AccessID
	}

	var extra Extra
	if opts.Extra != nil {
		extra = *opts.Extra
	}
	persisted, ok := persistedAddress(opts.Peer, accessID)
	if !ok && opts.Peer != nil && opts.Known != nil {
		persisted, _ = opts.Known(opts.Peer.UID())
	}

	addr := Address{
		Host:     firstNonEmpty(extra.Host, persisted.Host),
		Port:     firstPositive(extra.Port, persisted.Port),
		ClientID: firstNonEmpty(extra.ClientID, persisted.ClientID),
		Topic:    firstNonEmpty(extra.Topic, persisted.Topic),
	}

	target := herald.PeerTarget(opts.Peer)
	if addr.Host == "" {
		return Address{}, &herald.InvalidPeerAccessError{Target: target, AccessID: accessID, Reason: "no broker host"}
	}
	if addr.Topic == "" {
		return Address{}, &herald.InvalidPeerAccessError{Target: target, AccessID: accessID, Reason: "no topic"}
	}

	if addr.ClientID == "" {
		newClientID := opts.NewClientID
		if newClientID == nil {
			newClientID = herald.NewUID
		}
		addr.ClientID = newClientID()
		addr.ClientIDGenerated = true
	}

	return addr, nil
}

// persistedAddress reads the peer's access for accessID. Accesses loaded
// before this transport registered are kept raw and decoded here.
func persistedAddress(peer *herald.Peer, accessID string) (PeerAddress, bool) {
	if peer == nil {
		return PeerAddress{}, false
	}

	access, ok := peer.Access(accessID)
	if !ok {
		return PeerAddress{}, false
	}

	switch a := access.(type) {
	case PeerAddress:
		return a, true
	case *PeerAddress:
		if a == nil {
			return PeerAddress{}, false
		}
		return *a, true
	default:
		addr, err := LoadPeerAddress(a.Dump())
		return addr, err == nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
