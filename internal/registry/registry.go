// Package registry resolves workflow identities to container images.
//
// The definitions are fetched from a Source, validated against an embedded
// JSON schema and published as an immutable Snapshot. Readers load the
// current snapshot through an atomic pointer and never block on a refresh.
// A failed refresh keeps the previous snapshot.
package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"proccontrol/pkg/logging"
)

// Outcome is the result of one refresh attempt.
type Outcome string

const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Registry caches the workflow definitions.
type Registry struct {
	source     Source
	categories []string
	clock      clock.Clock
	onRefresh  func(Outcome, *Snapshot)

	current     atomic.Pointer[Snapshot]
	refreshedAt atomic.Pointer[time.Time]
	group       singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithCategories replaces DefaultCategories.
func WithCategories(categories ...string) Option {
	return func(r *Registry) {
		r.categories = append([]string(nil), categories...)
	}
}

// WithClock sets the clock used to stamp refreshes.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithRefreshHook registers a function called after every refresh attempt
// with its outcome and the snapshot in use afterwards (nil if none).
func WithRefreshHook(fn func(Outcome, *Snapshot)) Option {
	return func(r *Registry) {
		r.onRefresh = fn
	}
}

// New creates an empty registry reading from source.
func New(source Source, opts ...Option) *Registry {
	r := &Registry{
		source:     source,
		categories: DefaultCategories,
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the source the registry refreshes from.
func (r *Registry) Source() Source {
	return r.source
}

// Snapshot returns the current definitions, or nil before the first
// successful refresh.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Populated reports whether a refresh has succeeded.
func (r *Registry) Populated() bool {
	return r.current.Load() != nil
}

// LastRefresh returns the time of the last successful refresh.
func (r *Registry) LastRefresh() (time.Time, bool) {
	t := r.refreshedAt.Load()
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

// Resolve returns the image of a workflow. It never blocks on a refresh.
func (r *Registry) Resolve(category, id, version string) (string, error) {
	snap := r.current.Load()
	if snap == nil {
		return "", notFound("registry not populated")
	}
	return snap.Resolve(category, id, version)
}

// Refresh fetches, parses and validates the definitions and publishes them.
// Concurrent calls share one attempt. On error the cached snapshot is left
// as it was and the error, a *RefreshError, is returned for the caller to
// report.
func (r *Registry) Refresh(ctx context.Context) (Outcome, error) {
	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx)
	})
	return v.(Outcome), err
}

func (r *Registry) refresh(ctx context.Context) (Outcome, error) {
	outcome, err := r.load(ctx)
	if err != nil {
		logging.Error("Registry", err, "Keeping cached workflow definitions")
	}
	if r.onRefresh != nil {
		r.onRefresh(outcome, r.current.Load())
	}
	return outcome, err
}

func (r *Registry) load(ctx context.Context) (Outcome, error) {
	data, err := r.source.Fetch(ctx)
	if err != nil {
		return OutcomeFailed, &RefreshError{Stage: StageFetch, Source: r.source.String(), Err: err}
	}

	next, err := Parse(data, r.categories)
	if err != nil {
		var re *RefreshError
		if errors.As(err, &re) {
			re.Source = r.source.String()
		}
		return OutcomeFailed, err
	}

	now := r.clock.Now()
	r.refreshedAt.Store(&now)

	prev := r.current.Load()
	if prev != nil && prev.Token() == next.Token() {
		logging.Debug("Registry", "Workflow definitions unchanged (version %s)", next.Token())
		return OutcomeUnchanged, nil
	}

	r.current.Store(next)
	logging.Info("Registry", "Loaded %d workflow definitions from %s (version %s)", next.Len(), r.source, next.Token())
	for category, n := range next.Counts() {
		logging.Debug("Registry", "%s workflows: %d", category, n)
	}
	return OutcomeUpdated, nil
}
