package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"proccontrol/pkg/logging"
)

// Environment variables bound over the configuration file.
const (
	EnvConfigBackend    = "SDP_CONFIG_BACKEND"
	EnvConfigHost       = "SDP_CONFIG_HOST"
	EnvConfigPort       = "SDP_CONFIG_PORT"
	EnvConfigMap        = "SDP_CONFIG_CONFIGMAP"
	EnvHelmNamespace    = "SDP_HELM_NAMESPACE"
	EnvWorkflowsURL     = "SDP_WORKFLOWS_URL"
	EnvWorkflowsRefresh = "SDP_WORKFLOWS_REFRESH"
	EnvWorkflowsWatch   = "SDP_WORKFLOWS_WATCH"
	EnvLogLevel         = "SDP_LOG_LEVEL"
	EnvLogFormat        = "SDP_LOG_FORMAT"
	EnvMetricsAddr      = "SDP_METRICS_ADDR"
)

// Setting keys, matching the YAML layout of Config.
const (
	keyStoreBackend        = "store.backend"
	keyStoreHost           = "store.host"
	keyStorePort           = "store.port"
	keyStoreConfigMap      = "store.configMap"
	keyDeploymentNamespace = "deployment.namespace"
	keyWorkflowsURL        = "workflows.url"
	keyWorkflowsRefresh    = "workflows.refresh"
	keyWorkflowsWatch      = "workflows.watch"
	keyLoggingLevel        = "logging.level"
	keyLoggingFormat       = "logging.format"
	keyMetricsAddr         = "metrics.addr"
)

// envBindings maps each setting to the variable that overrides it.
var envBindings = []struct {
	key string
	env string
}{
	{keyStoreBackend, EnvConfigBackend},
	{keyStoreHost, EnvConfigHost},
	{keyStorePort, EnvConfigPort},
	{keyStoreConfigMap, EnvConfigMap},
	{keyDeploymentNamespace, EnvHelmNamespace},
	{keyWorkflowsURL, EnvWorkflowsURL},
	{keyWorkflowsRefresh, EnvWorkflowsRefresh},
	{keyWorkflowsWatch, EnvWorkflowsWatch},
	{keyLoggingLevel, EnvLogLevel},
	{keyLoggingFormat, EnvLogFormat},
	{keyMetricsAddr, EnvMetricsAddr},
}

// LoadConfig builds the configuration from the defaults, the YAML file at
// configPath (skipped when empty) and the SDP_* environment, in that order
// of increasing precedence. Values that cannot be converted are reported
// together as ValidationErrors. The result is not validated.
func LoadConfig(configPath string) (Config, error) {
	v := newViper()

	if configPath != "" {
		data, err := readFile(configPath)
		if err != nil {
			return Config{}, err
		}
		// yaml.v3 reports type errors with line numbers, viper does not.
		if _, err := decodeFile(configPath, data); err != nil {
			return Config{}, err
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return Config{}, parseError(configPath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", filepath.Clean(configPath))
	}

	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}
	return fromViper(v)
}

// LoadFile reads a YAML configuration file over the defaults, ignoring the
// environment. An empty path returns the defaults. A path that was given but
// does not exist is an error.
func LoadFile(configPath string) (Config, error) {
	if configPath == "" {
		return GetDefaultConfig(), nil
	}
	data, err := readFile(configPath)
	if err != nil {
		return Config{}, err
	}
	return decodeFile(configPath, data)
}

func readFile(configPath string) ([]byte, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, NewConfigurationError(configPath, ErrorTypeIO, "cannot read configuration file", err.Error())
	}
	return data, nil
}

func decodeFile(configPath string, data []byte) (Config, error) {
	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, parseError(configPath, err)
	}
	return config, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	d := GetDefaultConfig()
	v.SetDefault(keyStoreBackend, d.Store.Backend)
	v.SetDefault(keyStorePort, d.Store.Port)
	v.SetDefault(keyStoreConfigMap, d.Store.ConfigMap)
	v.SetDefault(keyWorkflowsRefresh, d.Workflows.RefreshSeconds)
	v.SetDefault(keyLoggingLevel, d.Logging.Level)
	v.SetDefault(keyLoggingFormat, d.Logging.Format)
	return v
}

// fromViper reads every setting with its final precedence applied.
func fromViper(v *viper.Viper) (Config, error) {
	var errs ValidationErrors
	source := func(key string) string {
		for _, b := range envBindings {
			if b.key != key {
				continue
			}
			if value, ok := os.LookupEnv(b.env); ok && value != "" {
				return b.env
			}
		}
		return key
	}
	str := func(key string) string {
		s, err := cast.ToStringE(v.Get(key))
		if err != nil {
			errs.Add(source(key), "must be a string", v.Get(key))
		}
		return s
	}
	num := func(key string) int {
		n, err := cast.ToIntE(v.Get(key))
		if err != nil {
			errs.Add(source(key), "must be an integer", v.Get(key))
		}
		return n
	}

	cfg := Config{
		Store: StoreConfig{
			Backend:   str(keyStoreBackend),
			Host:      str(keyStoreHost),
			Port:      num(keyStorePort),
			ConfigMap: str(keyStoreConfigMap),
		},
		Deployment: DeploymentConfig{Namespace: str(keyDeploymentNamespace)},
		Workflows: WorkflowsConfig{
			URL:            str(keyWorkflowsURL),
			RefreshSeconds: num(keyWorkflowsRefresh),
		},
		Logging: LoggingConfig{
			Level:  str(keyLoggingLevel),
			Format: str(keyLoggingFormat),
		},
		Metrics: MetricsConfig{Addr: str(keyMetricsAddr)},
	}
	if v.IsSet(keyWorkflowsWatch) {
		watch, err := cast.ToBoolE(v.Get(keyWorkflowsWatch))
		if err != nil {
			errs.Add(source(keyWorkflowsWatch), "must be true or false", v.Get(keyWorkflowsWatch))
		} else {
			cfg.Workflows.Watch = &watch
		}
	}

	if errs.HasErrors() {
		return Config{}, errs
	}
	return cfg, nil
}
