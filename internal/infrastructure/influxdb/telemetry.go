package influxdb

// Measurements written by the telemetry methods.
const (
	MeasurementDeliveries = "herald_deliveries"
	MeasurementPeerEvents = "herald_peer_events"
)

// Telemetry records transport events as points. It satisfies the
// transport's Telemetry interface.
type Telemetry struct {
	client *Client
	appID  string
	peer   string
}

// NewTelemetry tags every point with the application and local peer.
func NewTelemetry(client *Client, appID, localPeerUID string) *Telemetry {
	return &Telemetry{client: client, appID: appID, peer: localPeerUID}
}

// RecordDelivery writes one herald_deliveries point. Tags are low
// cardinality: direction (in/out), topic category and outcome.
func (t *Telemetry) RecordDelivery(direction, category, outcome string) {
	t.client.WritePoint(MeasurementDeliveries,
		map[string]string{
			"app_id":    t.appID,
			"peer_uid":  t.peer,
			"direction": direction,
			"category":  category,
			"outcome":   outcome,
		},
		map[string]any{"count": 1},
	)
}

// RecordPeerEvent writes one herald_peer_events point. The remote peer UID
// is a field, not a tag.
func (t *Telemetry) RecordPeerEvent(peerUID, event string) {
	t.client.WritePoint(MeasurementPeerEvents,
		map[string]string{
			"app_id":   t.appID,
			"peer_uid": t.peer,
			"event":    event,
		},
		map[string]any{"remote_uid": peerUID},
	)
}
