package transport

import (
	"sync"

	"github.com/nerrad567/herald-mqtt/internal/herald"
)

// Directory follows the MQTT accesses of remote peers. It is registered
// with the peer directory, which calls it whenever an mqtt access is set
// or unset. The local peer is never tracked.
//
// Fire falls back to these addresses when it is handed a peer instance
// without an mqtt access of its own.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Directory struct {
	localUID string

	mu        sync.RWMutex
	addresses map[string]PeerAddress
}

var _ herald.TransportDirectory = (*Directory)(nil)

// NewDirectory creates an empty directory for the process whose peer UID
// is localUID.
func NewDirectory(localUID string) *Directory {
	return &Directory{
		localUID:  localUID,
		addresses: make(map[string]PeerAddress),
	}
}

// AccessID implements herald.TransportDirectory.
func (d *Directory) AccessID() string {
	return AccessID
}

// LoadAccess implements herald.TransportDirectory.
func (d *Directory) LoadAccess(data any) (herald.Access, error) {
	addr, err := LoadPeerAddress(data)
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// PeerAccessSet implements herald.TransportDirectory.
func (d *Directory) PeerAccessSet(peer *herald.Peer, access herald.Access) {
	if peer == nil || peer.UID() == d.localUID {
		return
	}

	addr, ok := toPeerAddress(access)
	if !ok {
		return
	}

	d.mu.Lock()
	d.addresses[peer.UID()] = addr
	d.mu.Unlock()
}

// PeerAccessUnset implements herald.TransportDirectory.
func (d *Directory) PeerAccessUnset(peer *herald.Peer, _ herald.Access) {
	if peer == nil {
		return
	}
	d.Forget(peer.UID())
}

// Address returns the known address of peerUID.
func (d *Directory) Address(peerUID string) (PeerAddress, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.addresses[peerUID]
	return addr, ok
}

// Forget drops peerUID.
func (d *Directory) Forget(peerUID string) {
	d.mu.Lock()
	delete(d.addresses, peerUID)
	d.mu.Unlock()
}

// Clear drops every address.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.addresses = make(map[string]PeerAddress)
	d.mu.Unlock()
}

// Len returns the number of tracked peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.addresses)
}

func toPeerAddress(access herald.Access) (PeerAddress, bool) {
	if access == nil || access.AccessID() != AccessID {
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
