// Package config provides configuration management for the processing controller.
//
// Configuration is assembled in three layers, each overriding the previous:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. An optional YAML file, given with --config
//  3. SDP_* environment variables
//
// Command line flags are applied on top by the cmd package. Validate reports
// every problem at once as ValidationErrors.
//
// # Environment
//
//	SDP_CONFIG_BACKEND     etcd, memory or kubernetes (default: etcd)
//	SDP_CONFIG_HOST        config store host, required
//	SDP_CONFIG_PORT        etcd port (default: 2379)
//	SDP_CONFIG_CONFIGMAP   ConfigMap for the kubernetes backend (default: sdp-config)
//	SDP_HELM_NAMESPACE     namespace workflows are deployed into, required
//	SDP_WORKFLOWS_URL      workflow definitions location, required
//	SDP_WORKFLOWS_REFRESH  refresh interval in seconds (default: 300)
//	SDP_WORKFLOWS_WATCH    watch a local definitions file (default: true)
//	SDP_LOG_LEVEL          DEBUG, INFO, WARN or ERROR (default: DEBUG)
//	SDP_LOG_FORMAT         text or json (default: text)
//	SDP_METRICS_ADDR       /metrics and /healthz listen address (default: disabled)
//
// # Configuration File
//
//	store:
//	  backend: etcd
//	  host: etcd.sdp.svc
//	  port: 2379
//	deployment:
//	  namespace: sdp-processing
//	workflows:
//	  url: https://gitlab.example/sdp/workflows.json
//	  refresh: 300
//	logging:
//	  level: INFO
//	metrics:
//	  addr: ":9090"
package config
