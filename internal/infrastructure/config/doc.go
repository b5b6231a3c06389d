// Package config loads the Free Sleep core configuration.
//
// Values come from three layers, later ones winning:
//  1. defaultConfig()
//  2. the YAML file named by -config or FREESLEEP_CONFIG
//  3. FREESLEEP_* environment variables (device address, MQTT credentials,
//     InfluxDB token, JWT secret, API host and UI directory)
//
// Validate reports every problem at once rather than stopping at the first.
//
// The pod's own REST API is unauthenticated, so device.address should point
// at a trusted network. Keep secrets in the environment and the file at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	client := freesleep.NewClient(cfg.Device.Address, cfg.GetRequestTimeout())
package config
