package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"proccontrol/internal/app"
	"proccontrol/internal/config"
	"proccontrol/internal/configdb"
	"proccontrol/internal/formatting"
	"proccontrol/internal/naming"
	"proccontrol/pkg/logging"
)

func newStatusCmd() *cobra.Command {
	var output string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show processing blocks and deployments in the configuration database",
		Long: `Reads every processing block, its state and the deployments in one
read-only transaction and prints them.

Deployments that follow the processing naming convention but whose
processing block no longer exists are marked as orphaned; the controller
removes them on its next cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := formatting.ParseFormat(output)
			if err != nil {
				return err
			}
			logging.InitForCLI(logging.LevelWarn, cmd.ErrOrStderr())

			settings, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if settings.Store.Backend != config.BackendMemory {
				if err := config.ValidateRequired("store.host", settings.Store.Host, config.EnvConfigHost); err != nil {
					return err
				}
			}

			backend, err := app.NewBackend(settings.Store, settings.Deployment.Namespace)
			if err != nil {
				return err
			}
			client := configdb.NewClient(backend)
			defer client.Close()

			report, err := readStatus(cmd.Context(), client)
			if err != nil {
				return err
			}
			return formatting.New(formatting.Options{Format: format, Quiet: quiet}, cmd.OutOrStdout()).FormatStatus(report)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", string(formatting.FormatTable), "Output format (table, json, yaml)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress totals")
	return cmd
}

// readStatus collects the status report in a single transaction.
func readStatus(ctx context.Context, client *configdb.Client) (formatting.StatusReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var report formatting.StatusReport
	_, err := client.Transact(ctx, func(ctx context.Context, txn *configdb.Txn) error {
		report = formatting.StatusReport{}

		pbIDs, err := txn.ListProcessingBlocks(ctx)
		if err != nil {
			return err
		}
		deployIDs, err := txn.ListDeployments(ctx)
		if err != nil {
			return err
		}

		blocks := make(map[string]bool, len(pbIDs))
		deployments := make(map[string]bool, len(deployIDs))
		for _, id := range pbIDs {
			blocks[id] = true
		}
		for _, id := range deployIDs {
			deployments[id] = true
		}

		for _, pbID := range pbIDs {
			block, err := blockStatus(ctx, txn, pbID)
			if err != nil {
				return err
			}
			if deployments[naming.DeploymentID(pbID)] {
				block.Deployment = naming.DeploymentID(pbID)
			}
			report.ProcessingBlocks = append(report.ProcessingBlocks, block)
		}

		for _, deployID := range deployIDs {
			status := formatting.DeploymentStatus{ID: deployID}
			if pbID, ok := naming.MatchDeployment(deployID); ok {
				status.ProcessingBlock = pbID
				status.Orphaned = !blocks[pbID]
			}
			d, err := txn.GetDeployment(ctx, deployID)
			switch {
			case configdb.IsMalformed(err):
				logging.Warn("Status", "Deployment %s is malformed: %v", deployID, err)
			case err != nil:
				return err
			case d != nil:
				status.Kind = string(d.Kind)
				status.Image = d.Args.Values["wf_image"]
			}
			report.Deployments = append(report.Deployments, status)
		}
		return nil
	})
	if err != nil {
		return formatting.StatusReport{}, fmt.Errorf("reading configuration database: %w", err)
	}
	return report, nil
}

func blockStatus(ctx context.Context, txn *configdb.Txn, pbID string) (formatting.BlockStatus, error) {
	block := formatting.BlockStatus{ID: pbID}

	pb, err := txn.GetProcessingBlock(ctx, pbID)
	switch {
	case configdb.IsMalformed(err):
		block.Reason = "malformed processing block"
		return block, nil
	case err != nil:
		return block, err
	case pb == nil:
		return block, nil
	}
	block.Workflow = workflowLabel(pb.Workflow)
	block.Dependencies = pb.DependencyIDs()
	sort.Strings(block.Dependencies)

	state, err := txn.GetProcessingBlockState(ctx, pbID)
	switch {
	case configdb.IsMalformed(err):
		block.Reason = "malformed state"
	case err != nil:
		return block, err
	case state != nil:
		block.Status = string(state.Status)
		block.ResourcesAvailable = state.ResourcesAvailable
		block.Reason = state.Reason
	}
	return block, nil
}

func workflowLabel(w configdb.WorkflowRef) string {
	return strings.Join([]string{w.Type, w.ID, w.Version}, ":")
}
