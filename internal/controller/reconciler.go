package controller

import (
	"context"
	"errors"
	"fmt"

	"proccontrol/internal/configdb"
	"proccontrol/internal/dependency"
	"proccontrol/internal/naming"
	"proccontrol/internal/registry"
	"proccontrol/pkg/logging"
)

// Deployment settings written for every launched workflow.
const (
	workflowChart = "workflow"

	valueConfigHost    = "env.SDP_CONFIG_HOST"
	valueHelmNamespace = "env.SDP_HELM_NAMESPACE"
	valueImage         = "wf_image"
	valuePBID          = "pb_id"
)

// Reconciler computes the writes of one reconciliation cycle.
//
// Reconcile is a function of the transaction's snapshot only, so it can be
// run again from scratch when a commit conflicts.
type Reconciler struct {
	resolver  Resolver
	env       DeploymentEnv
	maxWrites int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithMaxWrites caps the writes of one cycle at n. Work past the cap is left
// for the next cycle and the result is marked Deferred.
func WithMaxWrites(n int) ReconcilerOption {
	return func(r *Reconciler) {
		r.maxWrites = n
	}
}

// NewReconciler creates a reconciler that resolves workflows through resolver
// and injects env into the deployments it creates.
func NewReconciler(resolver Resolver, env DeploymentEnv, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{resolver: resolver, env: env}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// deferred reports whether n more writes would exceed the cap, marking res
// if so.
func (r *Reconciler) deferred(txn *configdb.Txn, n int, res *CycleResult) bool {
	if r.maxWrites <= 0 || txn.PendingOps()+n <= r.maxWrites {
		return false
	}
	res.Deferred = true
	return true
}

// Reconcile runs the launch, release and garbage collection passes, in that
// order, against txn. It does not commit.
//
// Entries that vanish between listing and reading, or that cannot be
// decoded, are logged and skipped. Any other store error aborts the attempt.
func (r *Reconciler) Reconcile(ctx context.Context, txn *configdb.Txn) (*CycleResult, error) {
	pbIDs, err := txn.ListProcessingBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processing blocks: %w", err)
	}

	res := &CycleResult{}
	if err := r.launchWorkflows(ctx, txn, pbIDs, res); err != nil {
		return nil, err
	}
	if err := r.releaseProcessingBlocks(ctx, txn, pbIDs, res); err != nil {
		return nil, err
	}
	if err := r.deleteOrphanedDeployments(ctx, txn, pbIDs, res); err != nil {
		return nil, err
	}
	return res, nil
}

// launchWorkflows starts the workflow of every block that has no state yet.
// Creating the state is the last write for a block so a later cycle never
// launches it again.
func (r *Reconciler) launchWorkflows(ctx context.Context, txn *configdb.Txn, pbIDs []string, res *CycleResult) error {
	for _, pbID := range pbIDs {
		// Nothing can be written for an id the store rejects, not even a
		// FAILED state.
		if err := configdb.ValidateID("processing block", pbID); err != nil {
			logging.Warn("Reconciler", "Skipping processing block %q: %v", pbID, err)
			continue
		}

		state, err := txn.GetProcessingBlockState(ctx, pbID)
		if err != nil {
			if configdb.IsMalformed(err) {
				logging.Warn("Reconciler", "Skipping processing block %s: %v", pbID, err)
				continue
			}
			return fmt.Errorf("get state of %s: %w", pbID, err)
		}
		if state != nil {
			continue
		}

		pb, err := txn.GetProcessingBlock(ctx, pbID)
		if err != nil {
			if configdb.IsMalformed(err) {
				logging.Warn("Reconciler", "Skipping processing block %s: %v", pbID, err)
				continue
			}
			return fmt.Errorf("get processing block %s: %w", pbID, err)
		}
		if pb == nil {
			logging.Debug("Reconciler", "Processing block %s vanished before launch", pbID)
			continue
		}

		if !naming.Reversible(pbID) {
			reason := fmt.Sprintf("Processing block id %s cannot be encoded in a deployment id", pbID)
			if err := r.fail(ctx, txn, pbID, reason, res); err != nil {
				return err
			}
			continue
		}

		image, err := r.resolver.Resolve(pb.Workflow.Type, pb.Workflow.ID, pb.Workflow.Version)
		if err != nil {
			reason := fmt.Sprintf("No image for %s: %s", pb.Workflow, resolveReason(err))
			if err := r.fail(ctx, txn, pbID, reason, res); err != nil {
				return err
			}
			continue
		}

		if r.deferred(txn, 2, res) {
			continue
		}
		deploy := r.workflowDeployment(pbID, image)
		logging.Info("Reconciler", "Deploying %s for processing block %s (%s)", image, pbID, deploy.ID)
		if err := txn.CreateDeployment(ctx, deploy); err != nil {
			if !configdb.IsAlreadyExists(err) {
				return fmt.Errorf("create deployment %s: %w", deploy.ID, err)
			}
			logging.Warn("Reconciler", "Deployment %s already exists, keeping it", deploy.ID)
		}

		if err := txn.CreateProcessingBlockState(ctx, pbID, &configdb.ProcessingBlockState{
			Status: configdb.StatusStarting,
		}); err != nil {
			return fmt.Errorf("create state of %s: %w", pbID, err)
		}
		res.Launched = append(res.Launched, pbID)
	}
	return nil
}

// fail gives a new block its terminal FAILED state.
func (r *Reconciler) fail(ctx context.Context, txn *configdb.Txn, pbID, reason string, res *CycleResult) error {
	if r.deferred(txn, 1, res) {
		return nil
	}
	logging.Warn("Reconciler", "Processing block %s failed: %s", pbID, reason)
	if err := txn.CreateProcessingBlockState(ctx, pbID, &configdb.ProcessingBlockState{
		Status: configdb.StatusFailed,
		Reason: reason,
	}); err != nil {
		return fmt.Errorf("create state of %s: %w", pbID, err)
	}
	res.Failed = append(res.Failed, pbID)
	return nil
}

func resolveReason(err error) string {
	var re *registry.ResolveError
	if errors.As(err, &re) {
		return re.Reason
	}
	return err.Error()
}

func (r *Reconciler) workflowDeployment(pbID, image string) *configdb.Deployment {
	return &configdb.Deployment{
		ID:   naming.DeploymentID(pbID),
		Kind: configdb.DeploymentKindHelm,
		Args: configdb.DeploymentArgs{
			Chart: workflowChart,
			Values: map[string]string{
				valueConfigHost:    r.env.ConfigHost,
				valueHelmNamespace: r.env.HelmNamespace,
				valueImage:         image,
				valuePBID:          pbID,
			},
		},
	}
}

// releaseProcessingBlocks makes resources available to every waiting block
// whose dependencies have all finished.
func (r *Reconciler) releaseProcessingBlocks(ctx context.Context, txn *configdb.Txn, pbIDs []string, res *CycleResult) error {
	var graph *dependency.Graph

	for _, pbID := range pbIDs {
		state, err := txn.GetProcessingBlockState(ctx, pbID)
		if err != nil {
			if configdb.IsMalformed(err) {
				continue
			}
			return fmt.Errorf("get state of %s: %w", pbID, err)
		}
		if state == nil || state.Status != configdb.StatusWaiting || state.ResourcesAvailable {
			continue
		}

		pb, err := txn.GetProcessingBlock(ctx, pbID)
		if err != nil {
			if configdb.IsMalformed(err) {
				logging.Warn("Reconciler", "Not releasing processing block %s: %v", pbID, err)
				continue
			}
			return fmt.Errorf("get processing block %s: %w", pbID, err)
		}
		if pb == nil {
			continue
		}

		ready, err := dependenciesFinished(ctx, txn, pb)
		if err != nil {
			return err
		}
		if !ready {
			if graph == nil {
				graph, err = buildGraph(ctx, txn, pbIDs)
				if err != nil {
					return err
				}
			}
			reportBlocked(graph, pbID)
			continue
		}

		if r.deferred(txn, 1, res) {
			continue
		}
		logging.Info("Reconciler", "Resources available for processing block %s", pbID)
		state.ResourcesAvailable = true
		if err := txn.UpdateProcessingBlockState(ctx, pbID, state); err != nil {
			if configdb.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("update state of %s: %w", pbID, err)
		}
		res.Released = append(res.Released, pbID)
	}
	return nil
}

// dependenciesFinished reports whether every dependency of pb has a state
// with status FINISHED. A missing or unreadable state is not finished.
func dependenciesFinished(ctx context.Context, txn *configdb.Txn, pb *configdb.ProcessingBlock) (bool, error) {
	for _, depID := range pb.DependencyIDs() {
		state, err := txn.GetProcessingBlockState(ctx, depID)
		if err != nil {
			if configdb.IsMalformed(err) {
				return false, nil
			}
			return false, fmt.Errorf("get state of dependency %s: %w", depID, err)
		}
		if state == nil || state.Status != configdb.StatusFinished {
			return false, nil
		}
	}
	return true, nil
}

func buildGraph(ctx context.Context, txn *configdb.Txn, pbIDs []string) (*dependency.Graph, error) {
	g := dependency.New()
	for _, pbID := range pbIDs {
		pb, err := txn.GetProcessingBlock(ctx, pbID)
		if err != nil && !configdb.IsMalformed(err) {
			return nil, fmt.Errorf("get processing block %s: %w", pbID, err)
		}
		if pb == nil {
			continue
		}
		node := dependency.Node{ID: dependency.NodeID(pbID)}
		for _, depID := range pb.DependencyIDs() {
			node.DependsOn = append(node.DependsOn, dependency.NodeID(depID))
		}
		if state, err := txn.GetProcessingBlockState(ctx, pbID); err == nil && state != nil {
			node.Status = string(state.Status)
		}
		g.AddNode(node)
	}
	return g, nil
}

func reportBlocked(g *dependency.Graph, pbID string) {
	id := dependency.NodeID(pbID)
	if cycle := g.Cycle(id); cycle != nil {
		logging.Warn("Reconciler", "Processing block %s can never be released, dependency cycle %v", pbID, cycle)
		return
	}
	if missing := g.Missing(id); len(missing) > 0 {
		logging.Warn("Reconciler", "Processing block %s depends on processing blocks that do not exist: %v", pbID, missing)
		return
	}
	logging.Debug("Reconciler", "Processing block %s waiting for %v", pbID, g.Unfinished(id, string(configdb.StatusFinished)))
}

// deleteOrphanedDeployments removes the processing deployments whose block
// no longer exists. Deployments not named by this controller are left alone.
func (r *Reconciler) deleteOrphanedDeployments(ctx context.Context, txn *configdb.Txn, pbIDs []string, res *CycleResult) error {
	deployIDs, err := txn.ListDeployments(ctx)
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}

	exists := make(map[string]bool, len(pbIDs))
	for _, pbID := range pbIDs {
		exists[pbID] = true
	}

	for _, deployID := range deployIDs {
		pbID, ok := naming.MatchDeployment(deployID)
		if !ok || exists[pbID] {
			continue
		}

		deploy, err := txn.GetDeployment(ctx, deployID)
		if err != nil {
			if configdb.IsMalformed(err) {
				// The record cannot be decoded, but its key is enough to delete it.
				deploy = &configdb.Deployment{ID: deployID}
			} else {
				return fmt.Errorf("get deployment %s: %w", deployID, err)
			}
		}
		if deploy == nil {
			continue
		}

		if r.deferred(txn, 1, res) {
			continue
		}
		logging.Info("Reconciler", "Deleting deployment %s, processing block %s is gone", deployID, pbID)
		if err := txn.DeleteDeployment(ctx, deploy); err != nil {
			if configdb.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("delete deployment %s: %w", deployID, err)
		}
		res.Deleted = append(res.Deleted, deployID)
	}
	return nil
}
