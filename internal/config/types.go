package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the top-level configuration structure for the processing controller.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Deployment DeploymentConfig `yaml:"deployment"`
	Workflows  WorkflowsConfig  `yaml:"workflows"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Config store backends.
const (
	BackendEtcd       = "etcd"
	BackendMemory     = "memory"
	BackendKubernetes = "kubernetes"
)

// Backends lists the supported store backends.
var Backends = []string{BackendEtcd, BackendMemory, BackendKubernetes}

// StoreConfig defines how to reach the config store.
type StoreConfig struct {
	Backend   string `yaml:"backend,omitempty"`   // One of etcd, memory, kubernetes (default: etcd)
	Host      string `yaml:"host,omitempty"`      // Store host, also handed to workflows
	Port      int    `yaml:"port,omitempty"`      // etcd client port (default: 2379)
	ConfigMap string `yaml:"configMap,omitempty"` // ConfigMap holding the keyspace for the kubernetes backend
}

// Endpoint returns host:port for the etcd backend.
func (s StoreConfig) Endpoint() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DeploymentConfig holds the values workflows are deployed with.
type DeploymentConfig struct {
	Namespace string `yaml:"namespace,omitempty"` // Helm namespace for workflow deployments
}

// WorkflowsConfig defines where the workflow definitions come from.
type WorkflowsConfig struct {
	URL            string `yaml:"url,omitempty"`     // http(s):// URL, file:// URL or local path
	RefreshSeconds int    `yaml:"refresh,omitempty"` // Refresh interval in seconds (default: 300)
	Watch          *bool  `yaml:"watch,omitempty"`   // Watch a local definitions file (default: true)
}

// RefreshInterval returns the refresh interval as a duration.
func (w WorkflowsConfig) RefreshInterval() time.Duration {
	return time.Duration(w.RefreshSeconds) * time.Second
}

// WatchEnabled reports whether a local definitions file should be watched.
func (w WorkflowsConfig) WatchEnabled() bool {
	return w.Watch == nil || *w.Watch
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // DEBUG, INFO, WARN or ERROR (default: DEBUG)
	Format string `yaml:"format,omitempty"` // text or json (default: text)
}

// MetricsConfig configures the metrics and health endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // Listen address, empty disables the server
}

// String renders the configuration for the startup log.
func (c Config) String() string {
	return fmt.Sprintf("backend=%s host=%s port=%d namespace=%s workflows=%s refresh=%ds watch=%t metrics=%q",
		c.Store.Backend, c.Store.Host, c.Store.Port, c.Deployment.Namespace,
		c.Workflows.URL, c.Workflows.RefreshSeconds, c.Workflows.WatchEnabled(), c.Metrics.Addr)
}
