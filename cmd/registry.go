package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"proccontrol/internal/app"
	"proccontrol/internal/formatting"
	"proccontrol/internal/registry"
	"proccontrol/pkg/logging"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect workflow definitions",
		Long: `Load a workflow definitions document the way the controller does and
report what it contains. A source is an http(s):// URL, a file:// URL or a
local path.`,
	}
	cmd.AddCommand(newRegistryValidateCmd())
	cmd.AddCommand(newRegistryResolveCmd())
	return cmd
}

func newRegistryValidateCmd() *cobra.Command {
	var output string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate <source>",
		Short: "Fetch, parse and validate workflow definitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := formatting.ParseFormat(output)
			if err != nil {
				return err
			}
			logging.InitForCLI(logging.LevelWarn, cmd.ErrOrStderr())

			reg, err := loadRegistry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return formatting.New(formatting.Options{Format: format, Quiet: quiet}, cmd.OutOrStdout()).
				FormatWorkflows(workflowReport(reg))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(formatting.FormatTable), "Output format (table, json, yaml)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress totals")
	return cmd
}

func newRegistryResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <source> <type> <id> <version>",
		Short: "Print the image a workflow version resolves to",
		Example: `  proccontrol registry resolve https://example.org/workflows.json batch test_batch 0.2.1
  proccontrol registry resolve ./workflows.yaml realtime test_realtime 0.3.0`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitForCLI(logging.LevelWarn, cmd.ErrOrStderr())

			reg, err := loadRegistry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			image, err := reg.Resolve(args[1], args[2], args[3])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), image)
			return nil
		},
	}
}

func loadRegistry(ctx context.Context, location string) (*registry.Registry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	source, err := app.NewRegistrySource(location)
	if err != nil {
		return nil, err
	}
	reg := registry.New(source)
	if _, err := reg.Refresh(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

func workflowReport(reg *registry.Registry) formatting.WorkflowReport {
	snap := reg.Snapshot()
	report := formatting.WorkflowReport{
		Source:  reg.Source().String(),
		Version: snap.Token(),
	}
	if dt, ok := snap.Metadata()["date-time"].(string); ok {
		report.Version = dt
	} else if t, ok := reg.LastRefresh(); ok {
		report.Version = "loaded " + t.Format(time.RFC3339)
	}
	for _, e := range snap.Entries() {
		report.Workflows = append(report.Workflows, formatting.WorkflowEntry{
			Category: e.Category,
			ID:       e.ID,
			Version:  e.Version,
			Image:    e.Image,
		})
	}
	return report
}
