// Package app provides application bootstrap and lifecycle management for
// the processing controller.
//
// # Bootstrap
//
// NewApplication performs the startup sequence:
//
//  1. Load the configuration (defaults, file, SDP_* environment, overrides)
//  2. Initialize structured logging from the loaded settings
//  3. Build the services: metrics, config store client, workflow registry
//     and the control loop
//
// Nothing contacts the config store until Run is called.
//
// # Services
//
// The config store backend is chosen by store.backend:
//
//   - etcd: the production store, at store.host:store.port
//   - kubernetes: a single ConfigMap in the deployment namespace
//   - memory: process-local, for development and tests
//
// When the workflow definitions come from a local file, a file watcher
// requests a registry refresh whenever the file changes.
//
// # Run
//
// Run blocks until SIGINT or SIGTERM, or until the control loop fails
// during its first cycle. When metrics.addr is set, an HTTP server exposes
// /metrics and /healthz alongside the loop. Under systemd the process
// reports READY=1 once the first cycle has committed and STOPPING=1 on
// shutdown.
package app
