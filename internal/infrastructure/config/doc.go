// Package config handles loading and validating Entrance gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ENTRANCE_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("config.yml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
