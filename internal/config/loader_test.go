package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a temporary config file
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_DefaultOnly(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, BackendEtcd, cfg.Store.Backend)
	assert.Equal(t, 2379, cfg.Store.Port)
	assert.Equal(t, "sdp-config", cfg.Store.ConfigMap)
	assert.Equal(t, 300, cfg.Workflows.RefreshSeconds)
	assert.True(t, cfg.Workflows.WatchEnabled())
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := createTempConfigFile(t, `
store:
  host: etcd.sdp.svc
deployment:
  namespace: sdp-processing
workflows:
  url: https://example.org/workflows.json
  refresh: 60
  watch: false
logging:
  level: INFO
  format: json
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendEtcd, cfg.Store.Backend, "unset fields keep their default")
	assert.Equal(t, 2379, cfg.Store.Port)
	assert.Equal(t, "etcd.sdp.svc", cfg.Store.Host)
	assert.Equal(t, "sdp-processing", cfg.Deployment.Namespace)
	assert.Equal(t, 60, cfg.Workflows.RefreshSeconds)
	assert.False(t, cfg.Workflows.WatchEnabled())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce ConfigurationError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrorTypeIO, ce.ErrorType)

	path := createTempConfigFile(t, "store:\n  port: [not, a, port]\n")
	_, err = LoadFile(path)
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrorTypeParse, ce.ErrorType)
	assert.Equal(t, 2, ce.LineNumber)
	assert.Contains(t, ce.DetailedError(), "Line: 2")
}

// clearEnvironment hides any SDP_* variable set in the test process. Empty
// values count as unset.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, b := range envBindings {
		t.Setenv(b.env, "")
	}
}

func TestLoadConfig_DefaultsOnly(t *testing.T) {
	clearEnvironment(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	clearEnvironment(t)
	path := createTempConfigFile(t, `
store:
  backend: kubernetes
  host: from-file
  configMap: sdp-test-config
deployment:
  namespace: from-file
workflows:
  url: https://example.org/workflows.json
  watch: true
logging:
  format: json
`)
	t.Setenv(EnvConfigBackend, "memory")
	t.Setenv(EnvConfigHost, "etcd.test")
	t.Setenv(EnvConfigPort, "12379")
	t.Setenv(EnvHelmNamespace, "sdp-test")
	t.Setenv(EnvWorkflowsURL, "/etc/sdp/workflows.json")
	t.Setenv(EnvWorkflowsRefresh, "30")
	t.Setenv(EnvWorkflowsWatch, "false")
	t.Setenv(EnvLogLevel, "WARN")
	t.Setenv(EnvMetricsAddr, ":9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "etcd.test", cfg.Store.Host, "environment overrides the file")
	assert.Equal(t, 12379, cfg.Store.Port)
	assert.Equal(t, "sdp-test-config", cfg.Store.ConfigMap, "file overrides the default")
	assert.Equal(t, "sdp-test", cfg.Deployment.Namespace)
	assert.Equal(t, "/etc/sdp/workflows.json", cfg.Workflows.URL)
	assert.Equal(t, 30, cfg.Workflows.RefreshSeconds)
	assert.False(t, cfg.Workflows.WatchEnabled())
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadConfig_FileOnly(t *testing.T) {
	clearEnvironment(t)
	path := createTempConfigFile(t, "store:\n  host: from-file\nworkflows:\n  watch: false\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Store.Host)
	assert.Equal(t, 2379, cfg.Store.Port)
	assert.False(t, cfg.Workflows.WatchEnabled())
	assert.Nil(t, GetDefaultConfig().Workflows.Watch)
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	clearEnvironment(t)
	t.Setenv(EnvConfigPort, "http")
	t.Setenv(EnvWorkflowsRefresh, "5m")
	t.Setenv(EnvWorkflowsWatch, "sometimes")

	_, err := LoadConfig("")

	var errs ValidationErrors
	require.True(t, errors.As(err, &errs), "got %v", err)
	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{EnvConfigPort, EnvWorkflowsRefresh, EnvWorkflowsWatch}, fields)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	clearEnvironment(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce ConfigurationError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrorTypeIO, ce.ErrorType)

	_, err = LoadConfig(createTempConfigFile(t, "store:\n  port: [not, a, port]\n"))
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, ErrorTypeParse, ce.ErrorType)
	assert.Equal(t, 2, ce.LineNumber)
}
