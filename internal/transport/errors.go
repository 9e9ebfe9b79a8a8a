package transport

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the MQTT transport.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSerialization is returned when an envelope cannot be encoded or
	// decoded. The caller's data is at fault, not the network.
	ErrSerialization = errors.New("transport: serialization failed")

	// ErrPublish is returned when the broker did not accept a message.
	// It wraps the mqtt cause (mqtt.ErrNotConnected, mqtt.ErrPublishFailed).
	ErrPublish = errors.New("transport: publish failed")

	// ErrInvalidAccessDump is returned by LoadPeerAddress for unreadable dumps.
	ErrInvalidAccessDump = errors.New("transport: invalid mqtt access dump")

	// ErrNoDirectory is returned by New without a peer directory.
	ErrNoDirectory = errors.New("transport: peer directory is required")
)

var errNilMessage = fmt.Errorf("%w: nil message", ErrSerialization)
