package mqtt

// ConnectionState is the lifecycle state of a Client.
//
//	Disconnected --Connect--> Connecting --ok--> Connected
//	                               \--error--> Failed
//	Connected --connection lost--> Disconnected (or Connecting while auto-reconnecting)
//	any --Disconnect--> Disconnected
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the lower-case state name used in logs and health output.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
