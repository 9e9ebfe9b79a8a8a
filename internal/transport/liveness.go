package transport

import (
	"errors"

	"github.com/nerrad567/herald-mqtt/internal/herald"
)

// OnPeerLost sets a callback invoked when the broker publishes the last
// will of a known remote peer. By then the peer's mqtt access has already
// been removed from the directory.
func (t *Transport) OnPeerLost(callback func(peer *herald.Peer)) {
	t.onPeerLostMu.Lock()
	t.onPeerLost = callback
	t.onPeerLostMu.Unlock()
}

// handlePeerLost processes a last will: the payload is the UID of the peer
// whose session ended uncleanly.
func (t *Transport) handlePeerLost(peerUID string) {
	if peerUID == "" || peerUID == t.local.UID() {
		return
	}

	t.glue.Forget(peerUID)
	t.telemetry.RecordPeerEvent(peerUID, PeerEventLost)

	peer, err := t.dir.Peer(peerUID)
	if err != nil {
		if errors.Is(err, herald.ErrUnknownPeer) {
			t.logger.Debug("last will of unknown peer", "peer_uid", peerUID)
		} else {
			t.logger.Warn("looking up lost peer failed", "peer_uid", peerUID, "error", err)
		}
		return
	}

	if err := t.dir.UnsetAccess(peer, AccessID); err != nil {
		t.logger.Warn("removing access of lost peer failed",
			"peer_uid", peerUID,
			"error", err,
		)
	}

	t.logger.Info("peer lost", "peer_uid", peerUID, "name", peer.Name())

	t.onPeerLostMu.RLock()
	callback := t.onPeerLost
	t.onPeerLostMu.RUnlock()
	if callback != nil {
		callback(peer)
	}
}

// OnReconnect sets a callback invoked when the broker session is restored
// after an unclean drop. The broker published this peer's last will when
// the session dropped, so other peers have removed its mqtt access; the
// callback is where the peer advertises itself again.
//
// The callback runs on the connection manager's goroutine after every
// listener has been resubscribed. It is not called for the initial
// connection made by Start.
func (t *Transport) OnReconnect(callback func()) {
	t.onReconnectMu.Lock()
	t.onReconnect = callback
	t.onReconnectMu.Unlock()
}

func (t *Transport) handleSessionLost(err error) {
	t.mu.Lock()
	wasRunning := t.running
	if wasRunning {
		t.lost = true
	}
	t.mu.Unlock()

	if !wasRunning {
		return
	}
	t.telemetry.RecordPeerEvent(t.local.UID(), PeerEventSessionLost)
	t.logger.Warn("mqtt transport lost its broker connection", "error", err)
}

func (t *Transport) handleSessionRestored() {
	t.mu.Lock()
	restored := t.running && t.lost
	t.lost = false
	t.mu.Unlock()

	if !restored {
		return
	}
	t.telemetry.RecordPeerEvent(t.local.UID(), PeerEventSessionRestored)
	t.logger.Info("mqtt transport session restored", "peer_uid", t.local.UID())

	t.onReconnectMu.RLock()
	callback := t.onReconnect
	t.onReconnectMu.RUnlock()
	if callback != nil {
		callback()
	}
}
