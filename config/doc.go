// Package config loads and validates the bridge configuration.
//
// # Overview
//
// Configuration is layered: built-in defaults, then each JSON file layer
// in the order added, then PARROT_* environment variables. Later layers
// only override the keys they actually set; absent keys keep the value
// from the layer below.
//
// # Sections
//
//   - tcp: listening endpoint, delimiter byte, frame length cap
//   - pubsub: NATS URL, subject, queue size, reconnect behavior, auth, TLS
//   - validation: frame validation mode (none, json, schema)
//   - ops: metrics/health HTTP port and logging
//
// # Environment Overrides
//
// Every operationally relevant field has a PARROT_ variable, e.g.
// PARROT_TCP_ENDPOINT, PARROT_TCP_DELIMITER, PARROT_PUBSUB_URL,
// PARROT_PUBSUB_SUBJECT, PARROT_VALIDATION_MODE, PARROT_OPS_PORT,
// PARROT_LOG_LEVEL.
//
// # Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("config.json")
//	loader.AddLayer("config.local.json")
//	cfg, err := loader.Load()
//
// Duration fields in files accept Go duration strings ("2s", "500ms").
// Files are read through a hardened path: size cap, JSON depth cap, and
// path traversal checks.
package config
