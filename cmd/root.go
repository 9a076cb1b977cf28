package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"proccontrol/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration could not be loaded or is invalid.
	ExitCodeConfig = 2
)

// configPath is the optional YAML configuration file shared by all commands.
var configPath string

// rootCmd represents the base command for the processing controller.
var rootCmd = &cobra.Command{
	Use:   "proccontrol",
	Short: "Launch and supervise SDP processing block workflows",
	Long: `proccontrol watches the SDP configuration database for processing blocks,
deploys the workflow each block asks for, releases blocks whose dependencies
have finished, and removes deployments whose processing block is gone.

Workflow images are resolved from a workflow definitions document, fetched
from a URL or a local file and refreshed periodically.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "proccontrol version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var validation config.ValidationErrors
	if errors.As(err, &validation) {
		return ExitCodeConfig
	}

	var field config.ValidationError
	if errors.As(err, &field) {
		return ExitCodeConfig
	}

	var configErr config.ConfigurationError
	if errors.As(err, &configErr) {
		return ExitCodeConfig
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (environment variables override it)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRegistryCmd())
}
