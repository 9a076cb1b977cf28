package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"proccontrol/internal/config"
	"proccontrol/internal/configdb"
	"proccontrol/internal/controller"
	"proccontrol/internal/registry"
	"proccontrol/pkg/logging"
)

const (
	etcdDialTimeout   = 5 * time.Second
	httpFetchTimeout  = 30 * time.Second
	httpFetchRetries  = 3
	watchDebounce     = 500 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
	metricsReadHeader = 5 * time.Second

	// Leaves room in an etcd transaction for the generation keys of deletes.
	maxCycleWrites = configdb.DefaultEtcdMaxTxnOps - 8
)

// Services holds everything the controller needs at runtime.
//
// They are created in dependency order:
//  1. Metrics
//  2. Config store backend and client
//  3. Workflow registry, and a file watcher for local definitions
//  4. Reconciler and control loop
type Services struct {
	// Settings is the validated configuration the services were built from.
	Settings config.Config

	// InstanceID identifies this controller process in its logs.
	InstanceID string

	Metrics    *controller.Metrics
	Client     *configdb.Client
	Registry   *registry.Registry
	Controller *controller.Controller

	// Watcher is nil unless the definitions come from a local file and
	// watching is enabled.
	Watcher *registry.Watcher

	notifier *readinessNotifier
}

// InitializeServices builds the services from cfg.Settings.
func InitializeServices(cfg *Config) (*Services, error) {
	settings := *cfg.Settings
	s := &Services{
		Settings:   settings,
		InstanceID: uuid.NewString(),
		Metrics:    controller.NewMetrics(),
		notifier:   &readinessNotifier{notify: sdNotify},
	}
	logging.Info("Bootstrap", "Processing controller %s starting (instance %s)", cfg.Version, s.InstanceID)
	logging.Debug("Bootstrap", "Configuration: %s", settings)

	backend, err := NewBackend(settings.Store, settings.Deployment.Namespace)
	if err != nil {
		return nil, err
	}
	s.Client = configdb.NewClient(backend, configdb.WithConflictHook(s.Metrics.RecordConflict))

	source, err := NewRegistrySource(settings.Workflows.URL)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.Registry = registry.New(source, registry.WithRefreshHook(s.Metrics.RecordRefresh))

	opts := []controller.Option{
		controller.WithRefreshInterval(settings.Workflows.RefreshInterval()),
		controller.WithMetrics(s.Metrics),
		controller.WithStateHook(s.notifier.stateChanged),
	}
	if fs, ok := source.(*registry.FileSource); ok && settings.Workflows.WatchEnabled() {
		s.Watcher = registry.NewWatcher(fs.Path, watchDebounce)
		opts = append(opts, controller.WithRefreshRequests(s.Watcher.Changes()))
	}

	reconciler := controller.NewReconciler(s.Registry, controller.DeploymentEnv{
		ConfigHost:    settings.Store.Host,
		HelmNamespace: settings.Deployment.Namespace,
	}, controller.WithMaxWrites(maxCycleWrites))
	s.Controller = controller.New(s.Client, s.Registry, reconciler, opts...)
	return s, nil
}

// NewBackend connects the configured config store backend. The kubernetes
// backend keeps its ConfigMap in namespace.
func NewBackend(store config.StoreConfig, namespace string) (configdb.Backend, error) {
	switch store.Backend {
	case config.BackendEtcd:
		logging.Info("Bootstrap", "Using etcd config store at %s", store.Endpoint())
		return configdb.NewEtcdBackend(configdb.EtcdConfig{
			Endpoints:   []string{store.Endpoint()},
			DialTimeout: etcdDialTimeout,
			MaxTxnOps:   configdb.DefaultEtcdMaxTxnOps,
		})
	case config.BackendMemory:
		logging.Warn("Bootstrap", "Using in-memory config store, state is lost on exit")
		return configdb.NewMemoryBackend(), nil
	case config.BackendKubernetes:
		restConfig, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
		logging.Info("Bootstrap", "Using ConfigMap %s/%s as config store", namespace, store.ConfigMap)
		return configdb.NewKubernetesBackendForConfig(restConfig, namespace, store.ConfigMap)
	default:
		return nil, fmt.Errorf("unknown config store backend %q", store.Backend)
	}
}

// NewRegistrySource returns the source for a workflow definitions location.
func NewRegistrySource(location string) (registry.Source, error) {
	return registry.NewSource(location, registry.HTTPOptions{
		Timeout:  httpFetchTimeout,
		RetryMax: httpFetchRetries,
	})
}

// Close stops the watcher and closes the store connection.
func (s *Services) Close() error {
	var errs []error
	if s.Watcher != nil {
		errs = append(errs, s.Watcher.Stop())
	}
	if s.Client != nil {
		errs = append(errs, s.Client.Close())
	}
	return errors.Join(errs...)
}
