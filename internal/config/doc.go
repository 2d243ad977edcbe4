// Package config handles configuration loading for handoff-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion, then defaulted and
// validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HANDOFF_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/handoff/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	openai:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  read_limit: 65536            # max inbound frame size in bytes
//	  allowed_origins: ["app.example.com"]
//
//	tailscale:
//	  enabled: false
//	  hostname: "handoff"
//	  auth_key: "${TS_AUTHKEY}"
//
//	database:
//	  path: "/var/lib/handoff/handoff.db"
//
//	auth:
//	  jwt_secret: "${HANDOFF_JWT_SECRET}"  # empty disables token checks
//
//	escalation:
//	  threshold: 5                 # earlier unknown answers before escalating
//
//	openai:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""                 # any OpenAI-compatible endpoint
//	  model: "gpt-4o-mini"
//	  embedding_model: "text-embedding-3-small"
//	  timeout: "60s"
//
//	knowledge:
//	  database_url: "postgres://..."  # empty disables retrieval
//	  top_k: 5
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration values use Go's time.ParseDuration syntax.
package config
