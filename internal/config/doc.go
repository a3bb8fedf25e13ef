// Package config loads the virtgate server configuration.
//
// # Configuration Sources
//
// Values are resolved in the following order, later sources overriding
// earlier ones:
//
//	1. Built-in defaults (Default)
//	2. An optional YAML file (virtgate.yaml, or the path in VIRTGATE_CONFIG)
//	3. Environment variables prefixed with VIRTGATE_
//
// The merged result is checked with go-playground/validator before use.
//
// # Environment Variables
//
// Nested sections map to underscored names:
//
//	VIRTGATE_SERVER_PORT=8000
//	VIRTGATE_LOGGING_LEVEL=debug
//	VIRTGATE_AUTH_ENABLED=true
//	VIRTGATE_SCHEMA_PATH=/etc/virtgate/api.json
//	VIRTGATE_TELEMETRY_TRACE_EXPORTER=stdout
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	addr := cfg.Server.Address()
package config
