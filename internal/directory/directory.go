package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/herald-mqtt/internal/herald"
)

// persistTimeout bounds repository writes made by methods without a context.
const persistTimeout = 5 * time.Second

// Logger defines the logging interface used by the Directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Directory holds the local peer and the remote peers of its application,
// with their accesses. Access changes are forwarded to the registered
// transport directories. When a Repository is given, every change is
// persisted and Load restores the remote peers after a restart.
//
// The in-memory state is updated even when persisting fails; the
// repository error is returned.
//
// All public methods are thread-safe.
type Directory struct {
	local *herald.Peer
	repo  Repository

	mu         sync.RWMutex
	peers      map[string]*herald.Peer
	transports map[string]herald.TransportDirectory

	logger   Logger
	loggerMu sync.RWMutex
}

var _ herald.Directory = (*Directory)(nil)

// New creates a directory for local. repo may be nil for a directory that
// lives in memory only.
func New(local *herald.Peer, repo Repository) *Directory {
	return &Directory{
		local:      local,
		repo:       repo,
		peers:      make(map[string]*herald.Peer),
		transports: make(map[string]herald.TransportDirectory),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the directory. It may be called at any
// time, also while messages are being handled.
func (d *Directory) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Directory) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// accessNotice is a transport directory callback to run once the lock is
// released.
type accessNotice struct {
	peer   *herald.Peer
	access herald.Access
	set    bool
}

func (d *Directory) notify(notices []accessNotice) {
	for _, n := range notices {
		d.mu.RLock()
		td := d.transports[n.access.AccessID()]
		d.mu.RUnlock()
		if td == nil {
			continue
		}
		if n.set {
			td.PeerAccessSet(n.peer, n.access)
		} else {
			td.PeerAccessUnset(n.peer, n.access)
		}
	}
}

// Load restores the remote peers of the local application from the
// repository and records the local peer. Records of a previous local
// identity are removed. Transports should be registered first so their
// accesses are decoded; later registrations convert them as well.
func (d *Directory) Load(ctx context.Context) error {
	if d.repo == nil {
		return nil
	}

	records, err := d.repo.ListPeers(ctx)
	if err != nil {
		return fmt.Errorf("loading peers: %w", err)
	}

	var notices []accessNotice
	d.mu.Lock()
	for _, rec := range records {
		switch {
		case rec.UID == d.local.UID():
			continue
		case rec.Local:
			if err := d.repo.DeletePeer(ctx, rec.UID); err != nil {
				d.getLogger().Warn("removing stale local peer failed", "peer_uid", rec.UID, "error", err)
			}
			continue
		case rec.AppID != d.local.AppID():
			continue
		}

		peer := herald.NewPeer(rec.UID, rec.Name, rec.AppID, rec.Groups...)
		for accessID, raw := range rec.Accesses {
			var data any
			if err := json.Unmarshal(raw, &data); err != nil {
				d.getLogger().Warn("skipping undecodable access", "peer_uid", rec.UID, "access_id", accessID, "error", err)
				continue
			}
			access := d.loadAccessLocked(accessID, data)
			peer.SetAccess(access)
			notices = append(notices, accessNotice{peer: peer, access: access, set: true})
		}
		d.peers[peer.UID()] = peer
	}
	count := len(d.peers)
	d.mu.Unlock()

	d.notify(notices)
	d.getLogger().Info("peer directory loaded", "peers", count)

	return d.persist(ctx, d.local)
}

// loadAccessLocked decodes an access dump with the transport directory of
// its type, falling back to a RawAccess. d.mu must be held.
func (d *Directory) loadAccessLocked(accessID string, data any) herald.Access {
	if td, ok := d.transports[accessID]; ok {
		access, err := td.LoadAccess(data)
		if err == nil {
			return access
		}
		d.getLogger().Warn("invalid access dump", "access_id", accessID, "error", err)
	}
	return herald.RawAccess{ID: accessID, Data: data}
}

// RegisterTransport attaches a transport directory. Accesses of its type
// already known are converted with its LoadAccess and replayed to it.
func (d *Directory) RegisterTransport(td herald.TransportDirectory) {
	accessID := td.AccessID()

	var notices []accessNotice
	d.mu.Lock()
	d.transports[accessID] = td
	for _, peer := range d.peers {
		current, ok := peer.Access(accessID)
		if !ok {
			continue
		}
		if raw, isRaw := current.(herald.RawAccess); isRaw {
			current = d.loadAccessLocked(accessID, raw.Dump())
			peer.SetAccess(current)
		}
		notices = append(notices, accessNotice{peer: peer, access: current, set: true})
	}
	d.mu.Unlock()

	d.notify(notices)
}

// LocalPeer implements herald.Directory.
func (d *Directory) LocalPeer() *herald.Peer {
	return d.local
}

// Peer implements herald.Directory.
func (d *Directory) Peer(uid string) (*herald.Peer, error) {
	if uid == d.local.UID() {
		return d.local, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if peer, ok := d.peers[uid]; ok {
		return peer, nil
	}
	return nil, fmt.Errorf("%w: %s", herald.ErrUnknownPeer, uid)
}

// Peers returns the remote peers ordered by UID.
func (d *Directory) Peers() []*herald.Peer {
	d.mu.RLock()
	peers := make([]*herald.Peer, 0, len(d.peers))
	for _, peer := range d.peers {
		peers = append(peers, peer)
	}
	d.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].UID() < peers[j].UID() })
	return peers
}

// Len returns the number of remote peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// known reports whether peer is the local peer or the registered instance
// of a remote one.
func (d *Directory) known(peer *herald.Peer) bool {
	if peer == d.local {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers[peer.UID()] == peer
}

// SetAccess adds or replaces an access of a known peer.
func (d *Directory) SetAccess(peer *herald.Peer, access herald.Access) error {
	if peer == nil || access == nil {
		return fmt.Errorf("%w: nil peer or access", herald.ErrUnknownPeer)
	}
	if !d.known(peer) {
		return fmt.Errorf("%w: %s", herald.ErrUnknownPeer, peer.UID())
	}

	peer.SetAccess(access)
	d.notify([]accessNotice{{peer: peer, access: access, set: true}})

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return d.persist(ctx, peer)
}

// UnsetAccess implements herald.Directory. Removing an access the peer
// does not have is a no-op.
func (d *Directory) UnsetAccess(peer *herald.Peer, accessID string) error {
	if peer == nil {
		return fmt.Errorf("%w: nil peer", herald.ErrUnknownPeer)
	}

	removed, ok := peer.UnsetAccess(accessID)
	if !ok {
		return nil
	}
	d.notify([]accessNotice{{peer: peer, access: removed}})

	if !d.known(peer) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return d.persist(ctx, peer)
}

// Register adds or updates a remote peer from its description.
//
// A peer whose name and groups are unchanged keeps its instance and only
// has its accesses updated; otherwise a new instance replaces it. Accesses
// missing from desc are removed.
func (d *Directory) Register(ctx context.Context, desc herald.Description) (*herald.Peer, error) {
	switch {
	case desc.UID == "" || desc.AppID == "":
		return nil, ErrInvalidDescription
	case desc.UID == d.local.UID():
		return nil, ErrLocalPeer
	case desc.AppID != d.local.AppID():
		return nil, fmt.Errorf("%w: %s", ErrForeignApplication, desc.AppID)
	}

	candidate := herald.NewPeer(desc.UID, desc.Name, desc.AppID, desc.Groups...)

	var notices []accessNotice
	d.mu.Lock()
	old := d.peers[desc.UID]
	peer := candidate
	if old != nil && old.Name() == candidate.Name() && slices.Equal(old.Groups(), candidate.Groups()) {
		peer = old
	}

	if old != nil {
		for _, accessID := range old.AccessIDs() {
			_, kept := desc.Accesses[accessID]
			if peer == old && kept {
				continue
			}
			if removed, ok := old.UnsetAccess(accessID); ok {
				notices = append(notices, accessNotice{peer: old, access: removed})
			}
		}
	}

	for accessID, data := range desc.Accesses {
		access := d.loadAccessLocked(accessID, data)
		peer.SetAccess(access)
		notices = append(notices, accessNotice{peer: peer, access: access, set: true})
	}
	d.peers[peer.UID()] = peer
	d.mu.Unlock()

	d.notify(notices)

	if old == nil {
		d.getLogger().Info("peer registered", "peer_uid", peer.UID(), "name", peer.Name(), "accesses", peer.AccessIDs())
	} else {
		d.getLogger().Debug("peer updated", "peer_uid", peer.UID(), "accesses", peer.AccessIDs())
	}

	return peer, d.persist(ctx, peer)
}

// Forget removes a remote peer and all its accesses.
func (d *Directory) Forget(ctx context.Context, uid string) (*herald.Peer, error) {
	if uid == d.local.UID() {
		return nil, ErrLocalPeer
	}

	d.mu.Lock()
	peer, ok := d.peers[uid]
	delete(d.peers, uid)
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", herald.ErrUnknownPeer, uid)
	}

	var notices []accessNotice
	for _, accessID := range peer.AccessIDs() {
		if removed, ok := peer.UnsetAccess(accessID); ok {
			notices = append(notices, accessNotice{peer: peer, access: removed})
		}
	}
	d.notify(notices)

	d.getLogger().Info("peer forgotten", "peer_uid", uid, "name", peer.Name())

	if d.repo == nil {
		return peer, nil
	}
	if err := d.repo.DeletePeer(ctx, uid); err != nil {
		return peer, err
	}
	return peer, nil
}

// Description returns the local peer's description.
func (d *Directory) Description() herald.Description {
	return d.local.Description()
}

func (d *Directory) persist(ctx context.Context, peer *herald.Peer) error {
	if d.repo == nil {
		return nil
	}

	desc := peer.Description()
	rec := PeerRecord{
		UID:      desc.UID,
		Name:     desc.Name,
		AppID:    desc.AppID,
		Groups:   desc.Groups,
		Local:    peer.UID() == d.local.UID(),
		Accesses: make(map[string]json.RawMessage, len(desc.Accesses)),
	}
	for accessID, dump := range desc.Accesses {
		data, err := json.Marshal(dump)
		if err != nil {
			return fmt.Errorf("encoding access %s of %s: %w", accessID, peer.UID(), err)
		}
		rec.Accesses[accessID] = data
	}

	return d.repo.SavePeer(ctx, rec)
}
