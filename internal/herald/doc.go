// Package herald defines the bus-side contracts the MQTT transport is
// plugged into: peers and their per-transport accesses, messages, the
// peer directory, the core that consumes inbound traffic, and the error
// kinds shared by every transport.
//
// The package holds no transport logic. internal/transport implements the
// MQTT side, internal/directory the peer directory.
package herald
