package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"proccontrol/internal/app"
	"proccontrol/internal/config"
)

// serveFlags holds the serve command flags. Only flags set on the command
// line override the configuration.
var serveFlags struct {
	backend      string
	host         string
	port         int
	namespace    string
	workflowsURL string
	refresh      int
	noWatch      bool
	logLevel     string
	logFormat    string
	metricsAddr  string
}

// serveCmd runs the processing controller until it is signalled.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the processing controller",
	Long: `Runs the processing controller control loop until SIGINT or SIGTERM.

Configuration is read from the built-in defaults, the --config file, the
SDP_* environment variables and finally the flags below, each overriding
the previous:

  SDP_CONFIG_BACKEND     --backend
  SDP_CONFIG_HOST        --host
  SDP_CONFIG_PORT        --port
  SDP_HELM_NAMESPACE     --namespace
  SDP_WORKFLOWS_URL      --workflows-url
  SDP_WORKFLOWS_REFRESH  --refresh
  SDP_WORKFLOWS_WATCH    --no-watch
  SDP_LOG_LEVEL          --log-level
  SDP_LOG_FORMAT         --log-format
  SDP_METRICS_ADDR       --metrics-addr

The controller exits non-zero only when its configuration is invalid or the
configuration database cannot be reached on startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(configPath, GetVersion(), serveOverrides(cmd.Flags())...)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

// serveOverrides returns one override per flag set on the command line.
func serveOverrides(flags *pflag.FlagSet) []func(*config.Config) {
	var overrides []func(*config.Config)
	set := func(name string, fn func(*config.Config)) {
		if flags.Changed(name) {
			overrides = append(overrides, fn)
		}
	}

	set("backend", func(c *config.Config) { c.Store.Backend = serveFlags.backend })
	set("host", func(c *config.Config) { c.Store.Host = serveFlags.host })
	set("port", func(c *config.Config) { c.Store.Port = serveFlags.port })
	set("namespace", func(c *config.Config) { c.Deployment.Namespace = serveFlags.namespace })
	set("workflows-url", func(c *config.Config) { c.Workflows.URL = serveFlags.workflowsURL })
	set("refresh", func(c *config.Config) { c.Workflows.RefreshSeconds = serveFlags.refresh })
	set("no-watch", func(c *config.Config) {
		watch := !serveFlags.noWatch
		c.Workflows.Watch = &watch
	})
	set("log-level", func(c *config.Config) { c.Logging.Level = serveFlags.logLevel })
	set("log-format", func(c *config.Config) { c.Logging.Format = serveFlags.logFormat })
	set("metrics-addr", func(c *config.Config) { c.Metrics.Addr = serveFlags.metricsAddr })
	return overrides
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVar(&serveFlags.backend, "backend", config.BackendEtcd, "Configuration database backend (etcd, kubernetes or memory)")
	f.StringVar(&serveFlags.host, "host", "", "Configuration database host")
	f.IntVar(&serveFlags.port, "port", config.DefaultEtcdPort, "etcd port")
	f.StringVar(&serveFlags.namespace, "namespace", "", "Namespace processing deployments are created in")
	f.StringVar(&serveFlags.workflowsURL, "workflows-url", "", "Workflow definitions URL or file")
	f.IntVar(&serveFlags.refresh, "refresh", config.DefaultRefreshSeconds, "Workflow definitions refresh interval in seconds")
	f.BoolVar(&serveFlags.noWatch, "no-watch", false, "Do not watch a local workflow definitions file")
	f.StringVar(&serveFlags.logLevel, "log-level", config.DefaultLogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	f.StringVar(&serveFlags.logFormat, "log-format", config.DefaultLogFormat, "Log format (text or json)")
	f.StringVar(&serveFlags.metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz, empty to disable")
}
