// Package config handles loading and validating the presence tracker configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FMPRESENCE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations are written as Go duration strings ("10s", "1m").
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.VirtualHost)
package config
