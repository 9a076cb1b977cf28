package configdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Key layout, shared with the other SDP components.
const (
	ProcessingBlockPrefix = "/pb/"
	DeploymentPrefix      = "/deploy/"

	stateSuffix = "/state"
)

func processingBlockKey(pbID string) string {
	return ProcessingBlockPrefix + pbID
}

func processingBlockStateKey(pbID string) string {
	return ProcessingBlockPrefix + pbID + stateSuffix
}

func deploymentKey(deployID string) string {
	return DeploymentPrefix + deployID
}

// ValidateID rejects identifiers that would break the key layout.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id must not be empty", kind)
	}
	if strings.ContainsAny(id, "/ ") {
		return fmt.Errorf("%s id %q must not contain '/' or spaces", kind, id)
	}
	return nil
}

// Txn is a typed view over one Snapshot.
//
// Writes are buffered until Commit and are visible to later reads through
// the same Txn, so a deployment created while launching a workflow is seen
// by the garbage collection pass of the same cycle.
type Txn struct {
	snap    Snapshot
	pending map[string]*Op
	order   []string
}

func newTxn(snap Snapshot) *Txn {
	return &Txn{
		snap:    snap,
		pending: make(map[string]*Op),
	}
}

// PendingOps returns the number of buffered writes.
func (t *Txn) PendingOps() int {
	return len(t.order)
}

func (t *Txn) get(ctx context.Context, key string) ([]byte, bool, error) {
	if op, ok := t.pending[key]; ok {
		if op.Delete {
			return nil, false, nil
		}
		return op.Value, true, nil
	}
	return t.snap.Get(ctx, key)
}

func (t *Txn) list(ctx context.Context, prefix string) ([]string, error) {
	keys, err := t.snap.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	for key, op := range t.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		present[key] = !op.Delete
	}

	out := make([]string, 0, len(present))
	for k, ok := range present {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *Txn) buffer(op Op) {
	if _, ok := t.pending[op.Key]; !ok {
		t.order = append(t.order, op.Key)
	}
	t.pending[op.Key] = &op
}

func (t *Txn) create(ctx context.Context, key string, v interface{}) error {
	_, found, err := t.get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("create %s: %w", key, ErrAlreadyExists)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.buffer(Op{Key: key, Value: data})
	return nil
}

func (t *Txn) update(ctx context.Context, key string, v interface{}) error {
	_, found, err := t.get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update %s: %w", key, ErrNotFound)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.buffer(Op{Key: key, Value: data})
	return nil
}

func (t *Txn) delete(ctx context.Context, key string) error {
	_, found, err := t.get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	t.buffer(Op{Key: key, Delete: true})
	return nil
}

func (t *Txn) decode(ctx context.Context, key string, v interface{}) (bool, error) {
	data, found, err := t.get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w: %w", key, ErrMalformed, err)
	}
	return true, nil
}

// ListProcessingBlocks returns the ids of all processing blocks, sorted.
func (t *Txn) ListProcessingBlocks(ctx context.Context) ([]string, error) {
	keys, err := t.list(ctx, ProcessingBlockPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, ProcessingBlockPrefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		ids = append(ids, rest)
	}
	return ids, nil
}

// GetProcessingBlock returns the processing block, or nil if it does not exist.
func (t *Txn) GetProcessingBlock(ctx context.Context, pbID string) (*ProcessingBlock, error) {
	var pb ProcessingBlock
	found, err := t.decode(ctx, processingBlockKey(pbID), &pb)
	if err != nil || !found {
		return nil, err
	}
	return &pb, nil
}

// CreateProcessingBlock stores a new processing block.
func (t *Txn) CreateProcessingBlock(ctx context.Context, pb *ProcessingBlock) error {
	if err := ValidateID("processing block", pb.ID); err != nil {
		return err
	}
	return t.create(ctx, processingBlockKey(pb.ID), pb)
}

// DeleteProcessingBlock removes a processing block and its state, if any.
func (t *Txn) DeleteProcessingBlock(ctx context.Context, pbID string) error {
	if err := t.delete(ctx, processingBlockKey(pbID)); err != nil {
		return err
	}
	_, found, err := t.get(ctx, processingBlockStateKey(pbID))
	if err != nil {
		return err
	}
	if found {
		return t.delete(ctx, processingBlockStateKey(pbID))
	}
	return nil
}

// GetProcessingBlockState returns the state of a processing block, or nil if
// none has been created yet.
func (t *Txn) GetProcessingBlockState(ctx context.Context, pbID string) (*ProcessingBlockState, error) {
	var state ProcessingBlockState
	found, err := t.decode(ctx, processingBlockStateKey(pbID), &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// CreateProcessingBlockState stores the first state of a processing block.
func (t *Txn) CreateProcessingBlockState(ctx context.Context, pbID string, state *ProcessingBlockState) error {
	if err := ValidateID("processing block", pbID); err != nil {
		return err
	}
	return t.create(ctx, processingBlockStateKey(pbID), state)
}

// UpdateProcessingBlockState replaces the state of a processing block.
func (t *Txn) UpdateProcessingBlockState(ctx context.Context, pbID string, state *ProcessingBlockState) error {
	return t.update(ctx, processingBlockStateKey(pbID), state)
}

// ListDeployments returns the ids of all deployments, sorted.
func (t *Txn) ListDeployments(ctx context.Context) ([]string, error) {
	keys, err := t.list(ctx, DeploymentPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, DeploymentPrefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		ids = append(ids, rest)
	}
	return ids, nil
}

// GetDeployment returns the deployment, or nil if it does not exist.
func (t *Txn) GetDeployment(ctx context.Context, deployID string) (*Deployment, error) {
	var d Deployment
	found, err := t.decode(ctx, deploymentKey(deployID), &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

// CreateDeployment stores a new deployment.
func (t *Txn) CreateDeployment(ctx context.Context, d *Deployment) error {
	if err := ValidateID("deployment", d.ID); err != nil {
		return err
	}
	return t.create(ctx, deploymentKey(d.ID), d)
}

// DeleteDeployment removes a deployment.
func (t *Txn) DeleteDeployment(ctx context.Context, d *Deployment) error {
	return t.delete(ctx, deploymentKey(d.ID))
}

// Commit applies the buffered writes. A transaction without writes commits
// trivially.
func (t *Txn) Commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}
	ops := make([]Op, 0, len(t.order))
	for _, key := range t.order {
		ops = append(ops, *t.pending[key])
	}
	return t.snap.Commit(ctx, ops)
}

// Wait blocks until the part of the store this transaction read changes,
// the timeout elapses, or ctx is done.
func (t *Txn) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	return t.snap.Wait(ctx, timeout)
}
