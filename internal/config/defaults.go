package config

import "proccontrol/internal/configdb"

const (
	// DefaultEtcdPort is the etcd client port.
	DefaultEtcdPort = 2379

	// DefaultRefreshSeconds is the workflow definitions refresh interval.
	DefaultRefreshSeconds = 300

	// DefaultLogLevel matches the verbosity operators expect from the controller.
	DefaultLogLevel = "DEBUG"

	// DefaultLogFormat is plain text.
	DefaultLogFormat = "text"
)

// GetDefaultConfig returns the configuration before any file or environment
// variable is applied.
func GetDefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend:   BackendEtcd,
			Port:      DefaultEtcdPort,
			ConfigMap: configdb.DefaultConfigMapName,
		},
		Workflows: WorkflowsConfig{
			RefreshSeconds: DefaultRefreshSeconds,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
