// Package influxdb writes Herald transport telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library: Connect pings the
// server and sets up the non-blocking, batched write API; Telemetry turns
// delivery outcomes and peer events into points.
//
// # Measurements
//
//   - herald_deliveries: tags app_id, peer_uid, direction, category,
//     outcome; field count
//   - herald_peer_events: tags app_id, peer_uid, event; field remote_uid
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	telemetry := influxdb.NewTelemetry(client, cfg.Peer.AppID, cfg.Peer.UID)
//
// # Error Handling
//
// Writes never block and never return errors; batch failures reach the
// SetOnError callback. Connection and health check errors are returned.
package influxdb
