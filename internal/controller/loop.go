package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"proccontrol/internal/configdb"
	"proccontrol/pkg/logging"
)

// DefaultRefreshInterval is how often the workflow definitions are reloaded.
const DefaultRefreshInterval = 300 * time.Second

// DefaultErrorBackoff spaces out cycles that fail for reasons other than a
// conflict, such as the store being unreachable.
var DefaultErrorBackoff = wait.Backoff{
	Duration: time.Second,
	Factor:   2,
	Jitter:   0.1,
	Steps:    8,
	Cap:      time.Minute,
}

// Controller drives reconciliation cycles until its context is done.
type Controller struct {
	client     *configdb.Client
	registry   WorkflowRegistry
	reconciler *Reconciler

	clock           clock.Clock
	refreshInterval time.Duration
	refreshRequests <-chan struct{}
	errorBackoff    wait.Backoff
	metrics         *Metrics
	onStateChange   func(LoopState)

	state     atomic.Value
	committed atomic.Bool

	refreshing atomic.Bool
	refreshes  sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used to schedule registry refreshes.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// WithRefreshInterval sets the registry refresh interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(ctrl *Controller) {
		if d > 0 {
			ctrl.refreshInterval = d
		}
	}
}

// WithRefreshRequests makes the loop refresh the registry, ahead of schedule,
// whenever a value is received from ch.
func WithRefreshRequests(ch <-chan struct{}) Option {
	return func(ctrl *Controller) {
		ctrl.refreshRequests = ch
	}
}

// WithErrorBackoff sets the delays between failing cycles.
func WithErrorBackoff(b wait.Backoff) Option {
	return func(ctrl *Controller) {
		ctrl.errorBackoff = b
	}
}

// WithMetrics records cycle metrics to m.
func WithMetrics(m *Metrics) Option {
	return func(ctrl *Controller) {
		ctrl.metrics = m
	}
}

// WithStateHook calls fn on every loop state transition.
func WithStateHook(fn func(LoopState)) Option {
	return func(ctrl *Controller) {
		ctrl.onStateChange = fn
	}
}

// New creates a controller that reconciles through client, resolving
// workflows with the reconciler and refreshing reg on schedule.
func New(client *configdb.Client, reg WorkflowRegistry, reconciler *Reconciler, opts ...Option) *Controller {
	c := &Controller{
		client:          client,
		registry:        reg,
		reconciler:      reconciler,
		clock:           clock.RealClock{},
		refreshInterval: DefaultRefreshInterval,
		errorBackoff:    DefaultErrorBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(StateInit)
	return c
}

// State returns the current loop state.
func (c *Controller) State() LoopState {
	return c.state.Load().(LoopState)
}

// Healthy reports whether the loop has committed a cycle and is still running.
func (c *Controller) Healthy() bool {
	if !c.committed.Load() {
		return false
	}
	s := c.State()
	return s == StateReconcile || s == StateWaitForChange
}

func (c *Controller) setState(s LoopState) {
	if c.state.Swap(s) == s {
		return
	}
	logging.Debug("Controller", "State %s", s)
	c.metrics.RecordState(s)
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// Run refreshes the registry, then alternates between reconciling and
// waiting for the store to change until ctx is done. Later refreshes run
// beside the loop, one at a time.
//
// Run returns nil when ctx is cancelled. It returns an error only if the
// first cycle fails for a reason other than a conflict; later failures are
// logged and retried after a backoff.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateInit)
	defer c.setState(StateTerminated)
	defer c.refreshes.Wait()

	c.refreshRegistry(ctx)
	next := c.clock.Now().Add(c.refreshInterval)

	backoff := c.errorBackoff
	for first := true; ; first = false {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateReconcile)
		txn, res, err := c.cycle(ctx)

		var delay time.Duration
		switch {
		case err == nil:
			backoff = c.errorBackoff
		case ctx.Err() != nil:
			return nil
		case first && !configdb.IsConflict(err):
			return fmt.Errorf("initial reconciliation: %w", err)
		default:
			c.metrics.RecordCycleError()
			delay = backoff.Step()
			logging.Error("Controller", err, "Reconciliation cycle failed, retrying in %s", delay)
		}

		c.setState(StateWaitForChange)
		timeout := max(next.Sub(c.clock.Now()), 0)
		if res != nil && res.Deferred {
			logging.Debug("Controller", "Cycle hit the write cap, reconciling again")
			timeout = 0
		}

		var requested bool
		if txn != nil {
			var changed bool
			changed, requested, err = c.waitForChange(ctx, txn, timeout)
			if err != nil && ctx.Err() == nil {
				delay = backoff.Step()
				logging.Error("Controller", err, "Waiting for changes failed, retrying in %s", delay)
				requested = c.sleep(ctx, min(delay, timeout))
			} else if changed {
				logging.Debug("Controller", "Configuration changed")
			}
		} else {
			requested = c.sleep(ctx, min(delay, timeout))
		}

		if ctx.Err() != nil {
			return nil
		}
		if requested || !c.clock.Now().Before(next) {
			c.startRefresh(ctx)
			next = c.clock.Now().Add(c.refreshInterval)
		}
	}
}

// RunCycle runs one reconciliation cycle and commits it.
func (c *Controller) RunCycle(ctx context.Context) (*CycleResult, error) {
	_, res, err := c.cycle(ctx)
	return res, err
}

func (c *Controller) cycle(ctx context.Context) (*configdb.Txn, *CycleResult, error) {
	start := c.clock.Now()
	attempts := 0

	var res *CycleResult
	txn, err := c.client.Transact(ctx, func(ctx context.Context, txn *configdb.Txn) error {
		attempts++
		r, err := c.reconciler.Reconcile(ctx, txn)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	res.Attempts = attempts
	res.Duration = c.clock.Since(start)
	c.committed.Store(true)
	c.metrics.RecordCycle(res)

	if res.Changed() {
		logging.Info("Controller", "Cycle committed after %d attempt(s): %d launched, %d failed, %d released, %d deleted",
			res.Attempts, len(res.Launched), len(res.Failed), len(res.Released), len(res.Deleted))
	} else {
		logging.Debug("Controller", "Cycle committed after %d attempt(s), nothing to do", res.Attempts)
	}
	return txn, res, nil
}

// waitForChange blocks until the keys txn read change, the timeout elapses on
// the controller's clock, a refresh is requested, or ctx is done.
func (c *Controller) waitForChange(ctx context.Context, txn *configdb.Txn, timeout time.Duration) (changed, requested bool, err error) {
	if timeout <= 0 {
		changed, err = txn.Wait(ctx, 0)
		return changed, c.refreshRequested(), err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timer.C():
		case <-c.refreshRequests:
			requested = true
		case <-waitCtx.Done():
			return
		}
		cancel()
	}()

	changed, err = txn.Wait(waitCtx, timeout)
	cancel()
	wg.Wait()

	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		// Cut short by the timer or a refresh request.
		err = nil
	}
	return changed, requested, err
}

// sleep waits for d on the controller's clock. It returns early, reporting
// true, if a refresh is requested.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return c.refreshRequested()
	}
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return false
	case <-c.refreshRequests:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) refreshRequested() bool {
	select {
	case <-c.refreshRequests:
		return true
	default:
		return false
	}
}

// startRefresh refreshes the registry on its own goroutine unless a refresh
// is still running.
func (c *Controller) startRefresh(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		logging.Debug("Controller", "Registry refresh still running, not starting another")
		return
	}
	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		defer c.refreshing.Store(false)
		c.refreshRegistry(ctx)
	}()
}

func (c *Controller) refreshRegistry(ctx context.Context) {
	outcome, err := c.registry.Refresh(ctx)
	if err != nil {
		// The registry logs the failure and keeps serving its cache.
		return
	}
	logging.Debug("Controller", "Registry refresh: %s", outcome)
}
