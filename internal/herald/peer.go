package herald

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Access describes how to reach a peer over one transport.
type Access interface {
	// AccessID names the transport, e.g. "mqtt".
	AccessID() string

	// Dump returns the JSON-friendly form exchanged in peer descriptions.
	Dump() any
}

// RawAccess keeps the dump of an access whose transport is not loaded in
// this process, so descriptions can be relayed without loss.
type RawAccess struct {
	ID   string
	Data any
}

// AccessID implements Access.
func (a RawAccess) AccessID() string { return a.ID }

// Dump implements Access.
func (a RawAccess) Dump() any { return a.Data }

// Peer is an addressable participant of the bus.
//
// Identity fields are immutable; accesses change as descriptions are
// learnt and liveness events arrive.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Peer struct {
	uid    string
	name   string
	appID  string
	groups []string

	mu       sync.RWMutex
	accesses map[string]Access
}

// NewPeer creates a peer with no accesses. Duplicate groups are removed.
func NewPeer(uid, name, appID string, groups ...string) *Peer {
	unique := make([]string, 0, len(groups))
	for _, g := range groups {
		if g != "" && !slices.Contains(unique, g) {
			unique = append(unique, g)
		}
	}

	return &Peer{
		uid:      uid,
		name:     name,
		appID:    appID,
		groups:   unique,
		accesses: make(map[string]Access),
	}
}

// NewUID returns a fresh identifier in the upper-case hex form used for
// peers and messages.
func NewUID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (p *Peer) UID() string   { return p.uid }
func (p *Peer) Name() string  { return p.name }
func (p *Peer) AppID() string { return p.appID }

// Groups returns a copy of the peer's group names.
func (p *Peer) Groups() []string {
	return slices.Clone(p.groups)
}

// InGroup reports whether the peer belongs to group.
func (p *Peer) InGroup(group string) bool {
	return slices.Contains(p.groups, group)
}

// Access returns the peer's access for accessID.
func (p *Peer) Access(accessID string) (Access, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.accesses[accessID]
	return a, ok
}

// HasAccess reports whether the peer has an access for accessID.
func (p *Peer) HasAccess(accessID string) bool {
	_, ok := p.Access(accessID)
	return ok
}

// SetAccess stores access under its ID, replacing any previous one.
func (p *Peer) SetAccess(access Access) {
	p.mu.Lock()
	p.accesses[access.AccessID()] = access
	p.mu.Unlock()
}

// UnsetAccess removes and returns the access for accessID.
func (p *Peer) UnsetAccess(accessID string) (Access, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accesses[accessID]
	delete(p.accesses, accessID)
	return a, ok
}

// AccessIDs returns the IDs of the peer's accesses in lexical order.
func (p *Peer) AccessIDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.accesses))
	for id := range p.accesses {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Description returns the peer as exchanged between peers.
func (p *Peer) Description() Description {
	p.mu.RLock()
	defer p.mu.RUnlock()

	accesses := make(map[string]any, len(p.accesses))
	for id, a := range p.accesses {
		accesses[id] = a.Dump()
	}

	return Description{
		UID:      p.uid,
		Name:     p.name,
		AppID:    p.appID,
		Groups:   slices.Clone(p.groups),
		Accesses: accesses,
	}
}

// Description is the wire form of a peer, exchanged during the directory
// handshake. Accesses maps access IDs to access dumps.
type Description struct {
	UID      string         `json:"uid"`
	Name     string         `json:"name"`
	AppID    string         `json:"app_id"`
	Groups   []string       `json:"groups"`
	Accesses map[string]any `json:"accesses"`
}
