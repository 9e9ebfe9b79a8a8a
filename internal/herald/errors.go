package herald

import (
	"errors"
	"fmt"
)

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidPeerAccess is returned when no usable address can be
	// determined for a peer. It is permanent until the directory changes.
	ErrInvalidPeerAccess = errors.New("herald: invalid peer access")

	// ErrDelivery is returned when a message could not be handed to the
	// broker for a target.
	ErrDelivery = errors.New("herald: delivery failed")

	// ErrUnknownPeer is returned by directories for unknown peer UIDs.
	ErrUnknownPeer = errors.New("herald: unknown peer")
)

// Target names the destination of a failed operation.
type Target struct {
	PeerUID string
	Group   string
}

// PeerTarget returns the target for peer, which may be nil.
func PeerTarget(peer *Peer) Target {
	if peer == nil {
		return Target{}
	}
	return Target{PeerUID: peer.UID()}
}

// String returns "peer <uid>", "group <name>" or "unknown target".
func (t Target) String() string {
	switch {
	case t.PeerUID != "":
		return "peer " + t.PeerUID
	case t.Group != "":
		return "group " + t.Group
	default:
		return "unknown target"
	}
}

// InvalidPeerAccessError reports that no usable address exists for Target.
// It matches ErrInvalidPeerAccess.
type InvalidPeerAccessError struct {
	Target   Target
	AccessID string
	Reason   string
}

func (e *InvalidPeerAccessError) Error() string {
	return fmt.Sprintf("herald: no usable %s access for %s: %s", e.AccessID, e.Target, e.Reason)
}

func (e *InvalidPeerAccessError) Unwrap() error {
	return ErrInvalidPeerAccess
}

// DeliveryError wraps the cause of a failed send to Target.
// It matches both ErrDelivery and the cause.
type DeliveryError struct {
	Target Target
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("herald: delivery to %s failed: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}
