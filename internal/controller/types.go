package controller

import (
	"context"
	"time"

	"proccontrol/internal/registry"
)

// LoopState is the state of the control loop.
type LoopState string

const (
	// StateInit is the state before the first registry refresh.
	StateInit LoopState = "INIT"

	// StateReconcile is the state while a cycle is computed and committed.
	StateReconcile LoopState = "RECONCILE"

	// StateWaitForChange is the state while the loop blocks on the store.
	StateWaitForChange LoopState = "WAIT_FOR_CHANGE"

	// StateTerminated is the final state after the loop's context is done.
	StateTerminated LoopState = "TERMINATED"
)

var allStates = []LoopState{StateInit, StateReconcile, StateWaitForChange, StateTerminated}

// Resolver maps a workflow identity to its image.
type Resolver interface {
	Resolve(category, id, version string) (string, error)
}

// WorkflowRegistry is a Resolver that can be refreshed from its source.
type WorkflowRegistry interface {
	Resolver
	Refresh(ctx context.Context) (registry.Outcome, error)
}

// DeploymentEnv holds the values injected into every workflow deployment.
type DeploymentEnv struct {
	// ConfigHost is the config store endpoint the workflow connects to.
	ConfigHost string

	// HelmNamespace is the namespace the workflow is deployed into.
	HelmNamespace string
}

// CycleResult describes what one committed reconciliation cycle changed.
type CycleResult struct {
	// Launched holds the blocks that got a deployment and a STARTING state.
	Launched []string

	// Failed holds the blocks set to FAILED because their workflow did not resolve.
	Failed []string

	// Released holds the blocks whose resources were made available.
	Released []string

	// Deleted holds the deployments removed because their block is gone.
	Deleted []string

	// Deferred is set when the write cap left work for the next cycle.
	Deferred bool

	// Attempts is the number of snapshots the cycle needed.
	Attempts int

	// Duration is the time from the first snapshot to the commit.
	Duration time.Duration
}

// Changed reports whether the cycle wrote anything.
func (r *CycleResult) Changed() bool {
	return len(r.Launched)+len(r.Failed)+len(r.Released)+len(r.Deleted) > 0
}
