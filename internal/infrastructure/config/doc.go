// Package config handles loading and validating the Herald MQTT transport configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (HERALD_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials should be set via HERALD_MQTT_USERNAME / HERALD_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Peer.UID)
package config
