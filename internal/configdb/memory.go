package configdb

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	modRev  int64
	deleted bool
}

// MemoryBackend is an in-process Backend with the same transaction and
// watch semantics as the etcd backend. It is used by tests and for running
// the controller without a store.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	rev     int64
	notify  chan struct{}
	closed  bool
}

// NewMemoryBackend creates an empty in-process store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		notify:  make(chan struct{}),
	}
}

// Revision returns the revision of the latest commit.
func (m *MemoryBackend) Revision() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rev
}

// Snapshot implements Backend.
func (m *MemoryBackend) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("memory backend is closed")
	}

	data := make(map[string][]byte, len(m.entries))
	for key, e := range m.entries {
		if !e.deleted {
			data[key] = e.value
		}
	}
	return &memorySnapshot{
		backend: m,
		rev:     m.rev,
		after:   m.rev,
		data:    data,
		reads:   newReadSet(),
	}, nil
}

// Close implements Backend. Pending waits return.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notify)
	}
	return nil
}

// changedSince reports whether a key covered by reads was modified after rev.
// An empty read set matches any change. Must be called with m.mu held.
func (m *MemoryBackend) changedSince(reads readSet, rev int64) bool {
	for key, e := range m.entries {
		if e.modRev <= rev {
			continue
		}
		if reads.empty() || reads.covers(key) {
			return true
		}
	}
	return false
}

type memorySnapshot struct {
	backend   *MemoryBackend
	rev       int64
	after     int64
	data      map[string][]byte
	reads     readSet
	committed bool
}

func (s *memorySnapshot) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.reads.addKey(key)
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memorySnapshot) List(_ context.Context, prefix string) ([]string, error) {
	s.reads.addPrefix(prefix)
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memorySnapshot) Commit(_ context.Context, ops []Op) error {
	if s.committed {
		return errors.New("snapshot already committed")
	}

	m := s.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("memory backend is closed")
	}
	if !s.reads.empty() && m.changedSince(s.reads, s.rev) {
		return ErrConflict
	}

	m.rev++
	for _, op := range ops {
		if op.Delete {
			if e, ok := m.entries[op.Key]; ok {
				e.value = nil
				e.deleted = true
				e.modRev = m.rev
			}
			continue
		}
		value := make([]byte, len(op.Value))
		copy(value, op.Value)
		m.entries[op.Key] = &memoryEntry{value: value, modRev: m.rev}
	}

	s.committed = true
	s.after = m.rev

	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

func (s *memorySnapshot) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()

	m := s.backend
	for {
		m.mu.Lock()
		if m.changedSince(s.reads, s.after) {
			m.mu.Unlock()
			return true, nil
		}
		closed := m.closed
		notify := m.notify
		m.mu.Unlock()

		if closed {
			return false, errors.New("memory backend is closed")
		}
		if timeout <= 0 {
			return false, nil
		}

		select {
		case <-notify:
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
