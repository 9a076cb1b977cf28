package app

import (
	"context"
	"fmt"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"

	"proccontrol/pkg/logging"
)

// Application bootstraps and runs the processing controller.
//
// Initialization has two phases:
//  1. Bootstrap: load configuration, initialize logging, connect the services
//  2. Execution: run the control loop until the process is signalled
//
// Example usage:
//
//	cfg := app.NewConfig("", version)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, initializes logging and creates
// the services. It fails on invalid configuration or when a service cannot
// be constructed; it does not contact the config store yet.
func NewApplication(cfg *Config) (*Application, error) {
	logging.InitForCLI(logging.LevelInfo, os.Stderr)

	if cfg.Settings == nil {
		settings, err := cfg.LoadSettings()
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration")
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.Settings = &settings
	}

	level, err := logging.ParseLevel(cfg.Settings.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.Init(level, logging.Format(cfg.Settings.Logging.Format), os.Stderr)
	ctrl.SetLogger(logging.Logr())

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services returns the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// Run executes the control loop until ctx is done or SIGINT or SIGTERM is
// received, then releases the services.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.services.Close(); err != nil {
			logging.Warn("Bootstrap", "Closing services: %v", err)
		}
	}()
	return runController(ctx, a.services)
}
