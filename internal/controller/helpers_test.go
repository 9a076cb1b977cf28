package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"proccontrol/internal/configdb"
	"proccontrol/internal/registry"
)

var testEnv = DeploymentEnv{ConfigHost: "etcd.test", HelmNamespace: "sdp-test"}

var fastBackoff = wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 10}

// stubRegistry resolves from a fixed table and counts refreshes.
type stubRegistry struct {
	mu        sync.Mutex
	images    map[string]string
	refreshes int
	onResolve func()
}

func newStubRegistry(images map[string]string) *stubRegistry {
	return &stubRegistry{images: images}
}

func (s *stubRegistry) Resolve(category, id, version string) (string, error) {
	s.mu.Lock()
	hook := s.onResolve
	image, ok := s.images[category+"/"+id+"/"+version]
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return "", fmt.Errorf("unknown workflow %q", id)
	}
	return image, nil
}

func (s *stubRegistry) Refresh(ctx context.Context) (registry.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return registry.OutcomeUnchanged, nil
}

func (s *stubRegistry) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func newTestClient() (*configdb.MemoryBackend, *configdb.Client) {
	backend := configdb.NewMemoryBackend()
	return backend, configdb.NewClient(backend, configdb.WithBackoff(fastBackoff))
}

func block(id, workflowID string, deps ...string) *configdb.ProcessingBlock {
	pb := &configdb.ProcessingBlock{
		ID:       id,
		SBIID:    "sbi-test-20200101-00001",
		Workflow: configdb.WorkflowRef{Type: "batch", ID: workflowID, Version: "1.0"},
	}
	for _, dep := range deps {
		pb.Dependencies = append(pb.Dependencies, configdb.Dependency{PBID: dep, Kind: []string{"visibilities"}})
	}
	return pb
}

func transact(t *testing.T, client *configdb.Client, fn configdb.TxnFunc) {
	t.Helper()
	_, err := client.Transact(context.Background(), fn)
	require.NoError(t, err)
}

func submit(t *testing.T, client *configdb.Client, blocks ...*configdb.ProcessingBlock) {
	t.Helper()
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		for _, pb := range blocks {
			if err := txn.CreateProcessingBlock(ctx, pb); err != nil {
				return err
			}
		}
		return nil
	})
}

func createState(t *testing.T, client *configdb.Client, pbID string, state *configdb.ProcessingBlockState) {
	t.Helper()
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		return txn.CreateProcessingBlockState(ctx, pbID, state)
	})
}

func setStatus(t *testing.T, client *configdb.Client, pbID string, status configdb.Status) {
	t.Helper()
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		state, err := txn.GetProcessingBlockState(ctx, pbID)
		if err != nil {
			return err
		}
		state.Status = status
		return txn.UpdateProcessingBlockState(ctx, pbID, state)
	})
}

func createDeployment(t *testing.T, client *configdb.Client, deployID string) {
	t.Helper()
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		return txn.CreateDeployment(ctx, &configdb.Deployment{ID: deployID, Kind: configdb.DeploymentKindHelm})
	})
}

func readState(t *testing.T, client *configdb.Client, pbID string) *configdb.ProcessingBlockState {
	t.Helper()
	var state *configdb.ProcessingBlockState
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		var err error
		state, err = txn.GetProcessingBlockState(ctx, pbID)
		return err
	})
	return state
}

func readDeployment(t *testing.T, client *configdb.Client, deployID string) *configdb.Deployment {
	t.Helper()
	var d *configdb.Deployment
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		var err error
		d, err = txn.GetDeployment(ctx, deployID)
		return err
	})
	return d
}

func listDeployments(t *testing.T, client *configdb.Client) []string {
	t.Helper()
	var ids []string
	transact(t, client, func(ctx context.Context, txn *configdb.Txn) error {
		var err error
		ids, err = txn.ListDeployments(ctx)
		return err
	})
	return ids
}

// putRaw writes a value that bypasses the typed transaction.
func putRaw(t *testing.T, backend configdb.Backend, key, value string) {
	t.Helper()
	snap, err := backend.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Commit(context.Background(), []configdb.Op{{Key: key, Value: []byte(value)}}))
}
