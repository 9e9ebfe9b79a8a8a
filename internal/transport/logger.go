package transport

// Logger is the logging surface used by this package.
// *logging.Logger satisfies it.
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

// Telemetry receives transport events. The influxdb package provides the
// production implementation.
type Telemetry interface {
	RecordDelivery(direction, category, outcome string)
	RecordPeerEvent(peerUID, event string)
}

// Telemetry directions, outcomes and peer events.
const (
	DirectionOut = "out"
	DirectionIn  = "in"

	OutcomeSent          = "sent"
	OutcomeFailed        = "failed"
	OutcomeInvalidAccess = "invalid_access"
	OutcomeReceived      = "received"
	OutcomeMalformed     = "malformed"
	OutcomeUnrouted      = "unrouted"

	PeerEventLost            = "lost"
	PeerEventSessionLost     = "session_lost"
	PeerEventSessionRestored = "session_restored"
)

type noopTelemetry struct{}

func (noopTelemetry) RecordDelivery(string, string, string) {}
func (noopTelemetry) RecordPeerEvent(string, string)        {}
