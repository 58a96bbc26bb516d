// Package config handles configuration loading for ticketd.
//
// # Configuration File
//
// Location (in order):
//
//  1. Path from TICKETD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/ticketd/config.yaml
//  3. ~/.config/ticketd/config.yaml
//
// Files ending in .toml are parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	cookie:
//	  secret: "${TICKETD_COOKIE_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	tickets:
//	  ttl: "168h"
//	  refresh_interval: "1m"
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	database:
//	  path: "/var/lib/ticketd/ticketd.db"
//	tickets:
//	  backend: "sqlite"   # or "redis"
//	cookie:
//	  secret: "${TICKETD_COOKIE_SECRET}"
//	session:
//	  enabled: true
//	bearer:
//	  enabled: true
//	  secret: "${TICKETD_BEARER_SECRET}"
//	metrics:
//	  enabled: true
package config
