package configdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdMaxTxnOps is the etcd server's default --max-txn-ops.
const DefaultEtcdMaxTxnOps = 128

// EtcdConfig holds the connection settings of the etcd backend.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration

	// MaxTxnOps is the --max-txn-ops of the server. Zero means
	// DefaultEtcdMaxTxnOps.
	MaxTxnOps int
}

// EtcdBackend stores the keyspace in etcd.
//
// Reads of one snapshot are pinned to the revision of its first read. Commit
// is a single etcd transaction guarded by the modification revision of every
// key read and of every listed prefix.
//
// A modification revision check on a prefix cannot see deletions, so every
// commit that deletes a key also rewrites the generation keys of its parent
// directories ("/pb/x/state" bumps "/pb/x/" and "/pb/"). When a snapshot read
// more keys than one transaction may compare, keys under a listed prefix are
// left to the prefix check and deletions are caught through the generation
// keys.
type EtcdBackend struct {
	client    *clientv3.Client
	maxTxnOps int
}

// NewEtcdBackend connects to etcd.
func NewEtcdBackend(cfg EtcdConfig) (*EtcdBackend, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd backend needs at least one endpoint")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd %v: %w", cfg.Endpoints, err)
	}
	maxTxnOps := cfg.MaxTxnOps
	if maxTxnOps <= 0 {
		maxTxnOps = DefaultEtcdMaxTxnOps
	}
	return &EtcdBackend{client: cli, maxTxnOps: maxTxnOps}, nil
}

// Snapshot implements Backend.
func (b *EtcdBackend) Snapshot(ctx context.Context) (Snapshot, error) {
	return &etcdSnapshot{
		client:    b.client,
		maxTxnOps: b.maxTxnOps,
		reads:     newReadSet(),
		keyRevs: make(map[string]int64),
	}, nil
}

// Close implements Backend.
func (b *EtcdBackend) Close() error {
	return b.client.Close()
}

type etcdSnapshot struct {
	client    *clientv3.Client
	maxTxnOps int

	// rev is the store revision reads are pinned to, zero until the first read.
	rev   int64
	after int64

	reads     readSet
	keyRevs   map[string]int64
	committed bool
}

func (s *etcdSnapshot) readOpts(opts ...clientv3.OpOption) []clientv3.OpOption {
	if s.rev != 0 {
		opts = append(opts, clientv3.WithRev(s.rev))
	}
	return opts
}

func (s *etcdSnapshot) pin(resp *clientv3.GetResponse) {
	if s.rev == 0 {
		s.rev = resp.Header.Revision
		s.after = s.rev
	}
}

func (s *etcdSnapshot) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := s.client.Get(ctx, key, s.readOpts()...)
	if err != nil {
		return nil, false, fmt.Errorf("etcd get %s: %w", key, err)
	}
	s.pin(resp)
	s.reads.addKey(key)

	if len(resp.Kvs) == 0 {
		s.keyRevs[key] = 0
		return nil, false, nil
	}
	kv := resp.Kvs[0]
	s.keyRevs[key] = kv.ModRevision
	return kv.Value, true, nil
}

func (s *etcdSnapshot) List(ctx context.Context, prefix string) ([]string, error) {
	resp, err := s.client.Get(ctx, prefix, s.readOpts(clientv3.WithPrefix(), clientv3.WithKeysOnly())...)
	if err != nil {
		return nil, fmt.Errorf("etcd list %s: %w", prefix, err)
	}
	s.pin(resp)
	s.reads.addPrefix(prefix)

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		if isGenerationKey(key) {
			continue
		}
		// Listed keys are guarded individually so that a deletion under the
		// prefix is detected as well.
		s.keyRevs[key] = kv.ModRevision
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// compares guards every key read individually when that fits in one
// transaction, and otherwise only the keys outside the listed prefixes.
func (s *etcdSnapshot) compares() ([]clientv3.Cmp, error) {
	prefixes, uncovered := s.reads.watchTargets()

	keys := make([]string, 0, len(s.keyRevs))
	for key := range s.keyRevs {
		keys = append(keys, key)
	}
	if len(keys)+len(prefixes) > s.maxTxnOps {
		keys = keys[:0]
		for _, key := range uncovered {
			if _, ok := s.keyRevs[key]; ok {
				keys = append(keys, key)
			}
		}
		if len(keys)+len(prefixes) > s.maxTxnOps {
			return nil, fmt.Errorf("etcd commit needs %d comparisons, the server allows %d", len(keys)+len(prefixes), s.maxTxnOps)
		}
	}
	sort.Strings(keys)

	cmps := make([]clientv3.Cmp, 0, len(keys)+len(prefixes))
	for _, key := range keys {
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(key), "=", s.keyRevs[key]))
	}
	for _, prefix := range prefixes {
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(prefix), "<", s.rev+1).WithPrefix())
	}
	return cmps, nil
}

// generationKeys returns the parent directories of key, outermost last.
func generationKeys(key string) []string {
	var dirs []string
	for i := len(key) - 2; i > 0; i-- {
		if key[i] == '/' {
			dirs = append(dirs, key[:i+1])
		}
	}
	return dirs
}

func isGenerationKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

func (s *etcdSnapshot) Commit(ctx context.Context, ops []Op) error {
	if s.committed {
		return errors.New("snapshot already committed")
	}

	cmps, err := s.compares()
	if err != nil {
		return err
	}

	written := make(map[string]bool, len(ops))
	for _, op := range ops {
		written[op.Key] = true
	}
	thenOps := make([]clientv3.Op, 0, len(ops))
	var generations []clientv3.Op
	for _, op := range ops {
		if !op.Delete {
			thenOps = append(thenOps, clientv3.OpPut(op.Key, string(op.Value)))
			continue
		}
		thenOps = append(thenOps, clientv3.OpDelete(op.Key))
		for _, dir := range generationKeys(op.Key) {
			if !written[dir] {
				written[dir] = true
				generations = append(generations, clientv3.OpPut(dir, ""))
			}
		}
	}
	thenOps = append(thenOps, generations...)
	if len(thenOps) > s.maxTxnOps {
		return fmt.Errorf("etcd commit needs %d operations, the server allows %d", len(thenOps), s.maxTxnOps)
	}

	resp, err := s.client.Txn(ctx).If(cmps...).Then(thenOps...).Commit()
	if err != nil {
		return fmt.Errorf("etcd commit: %w", err)
	}
	if !resp.Succeeded {
		return ErrConflict
	}

	s.committed = true
	s.after = resp.Header.Revision
	return nil
}

func (s *etcdSnapshot) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return false, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prefixes, keys := s.reads.watchTargets()
	if s.reads.empty() {
		prefixes = []string{""}
	}

	var opts []clientv3.OpOption
	if s.after != 0 {
		opts = append(opts, clientv3.WithRev(s.after+1))
	}

	changed := make(chan struct{}, 1)
	forward := func(wch clientv3.WatchChan) {
		for resp := range wch {
			if waitCtx.Err() != nil {
				return
			}
			if len(resp.Events) > 0 || resp.Err() != nil || resp.Canceled {
				select {
				case changed <- struct{}{}:
				default:
				}
				return
			}
		}
	}

	for _, prefix := range prefixes {
		go forward(s.client.Watch(clientv3.WithRequireLeader(waitCtx), prefix,
			append([]clientv3.OpOption{clientv3.WithPrefix()}, opts...)...))
	}
	for _, key := range keys {
		go forward(s.client.Watch(clientv3.WithRequireLeader(waitCtx), key, opts...))
	}

	select {
	case <-changed:
		return true, nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
}
