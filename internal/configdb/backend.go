package configdb

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Backend is a transactional, versioned key-value store.
//
// Three implementations exist: an in-process store (NewMemoryBackend), etcd
// (NewEtcdBackend) and a single Kubernetes ConfigMap (NewKubernetesBackend).
type Backend interface {
	// Snapshot opens a new read view of the store.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Close releases the backend's connections.
	Close() error
}

// Snapshot is one consistent read view of the store together with a
// conditional commit.
//
// Every Get and List is remembered. Commit applies its operations only if
// none of the remembered keys, and no key under a remembered prefix, changed
// after the snapshot was taken; otherwise it returns ErrConflict and applies
// nothing.
type Snapshot interface {
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Commit atomically applies ops. A snapshot can be committed once.
	Commit(ctx context.Context, ops []Op) error

	// Wait blocks until something this snapshot read changes in the store
	// after the snapshot (or after its commit, if it was committed), the
	// timeout elapses, or ctx is done. It reports whether a change was seen.
	Wait(ctx context.Context, timeout time.Duration) (changed bool, err error)
}

// Op is a single buffered write.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// readSet records what a snapshot has observed so that backends can detect
// conflicting writes and decide which changes should end a Wait.
type readSet struct {
	keys     map[string]struct{}
	prefixes map[string]struct{}
}

func newReadSet() readSet {
	return readSet{
		keys:     make(map[string]struct{}),
		prefixes: make(map[string]struct{}),
	}
}

func (r readSet) addKey(key string) {
	r.keys[key] = struct{}{}
}

func (r readSet) addPrefix(prefix string) {
	r.prefixes[prefix] = struct{}{}
}

// covers reports whether a change to key affects what was read.
func (r readSet) covers(key string) bool {
	if _, ok := r.keys[key]; ok {
		return true
	}
	for prefix := range r.prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// watchTargets returns the listed prefixes and every read key that no
// listed prefix already covers.
func (r readSet) watchTargets() (prefixes []string, keys []string) {
	for prefix := range r.prefixes {
		prefixes = append(prefixes, prefix)
	}
	for key := range r.keys {
		covered := false
		for prefix := range r.prefixes {
			if strings.HasPrefix(key, prefix) {
				covered = true
				break
			}
		}
		if !covered {
			keys = append(keys, key)
		}
	}
	sort.Strings(prefixes)
	sort.Strings(keys)
	return prefixes, keys
}

func (r readSet) empty() bool {
	return len(r.keys) == 0 && len(r.prefixes) == 0
}
