// Package config handles configuration loading for warelay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${WARELAY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  picture_timeout: "3s"
//	  logout_timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Storage layout:
//
//	storage:
//	  credential_dir: "/var/lib/warelay/credentials"
//	  media_db_path: "/var/lib/warelay/media.db"
//	  media_blob_dir: "/var/lib/warelay/media"
//
// Session tuning:
//
//	sessions:
//	  enrichment_batch_size: 5
//	  picture_timeout: "3s"
//	  logout_timeout: "10s"
//
// Relay egress:
//
//	relay:
//	  amqp_enabled: false
//	  amqp_url: "${WARELAY_AMQP_URL}"
//	  exchange: "warelay.events"
//
// Authentication (empty secret disables API auth):
//
//	auth:
//	  jwt_secret: "${WARELAY_JWT_SECRET}"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "warelay"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/warelay/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
