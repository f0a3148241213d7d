// Package config loads the circuitctl configuration file.
//
// The file is circuit.yaml (or circuit.yml) or circuit.toml in the working
// directory. Unknown keys are rejected. Durations use Go syntax.
//
// # Configuration File Structure
//
//	baseURL: http://localhost:5000/
//	serviceURL: _blazor
//	circuits: [] # pre-rendered circuit ids; empty creates a circuit
//	channel:
//	  handshakeTimeout: 15s
//	  keepAliveInterval: 15s
//	  serverTimeout: 30s
//	reconnect:
//	  maxRetries: 5
//	  backoff: exponential
//	  baseDelay: 500ms
//	  maxDelay: 10s
//	  jitter: 100ms
//	boot:
//	  configURL: http://localhost:5000/boot.json
//	log:
//	  level: info
//	metrics:
//	  addr: localhost:9090
//	hub:
//	  addr: localhost:5000
//	  batchInterval: 1s
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := cfg.Options()
package config
