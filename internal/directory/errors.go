package directory

import "errors"

// Domain errors for the peer directory.
var (
	// ErrInvalidDescription is returned for descriptions without a UID or
	// application ID.
	ErrInvalidDescription = errors.New("directory: invalid peer description")

	// ErrForeignApplication is returned when a description belongs to
	// another application.
	ErrForeignApplication = errors.New("directory: peer of another application")

	// ErrLocalPeer is returned when registering or forgetting the local
	// peer as if it were remote.
	ErrLocalPeer = errors.New("directory: operation not allowed on the local peer")

	// ErrPeerNotFound is returned by repositories for unknown UIDs.
	ErrPeerNotFound = errors.New("directory: peer not found")
)
