package configdb

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"proccontrol/pkg/logging"
)

// ConflictRetryBackoff bounds how often a transaction is re-run after losing
// a commit race. The loop rather than the client is the place to wait for
// long, so the steps are short.
var ConflictRetryBackoff = wait.Backoff{
	Steps:    20,
	Duration: 10 * time.Millisecond,
	Factor:   1.5,
	Jitter:   0.1,
	Cap:      2 * time.Second,
}

// TxnFunc computes the writes of one transaction attempt.
type TxnFunc func(ctx context.Context, txn *Txn) error

// Client runs transactions against a Backend.
type Client struct {
	backend    Backend
	backoff    wait.Backoff
	onConflict func()
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBackoff replaces ConflictRetryBackoff.
func WithBackoff(b wait.Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithConflictHook registers a function called every time an attempt loses
// its commit.
func WithConflictHook(fn func()) ClientOption {
	return func(c *Client) {
		c.onConflict = fn
	}
}

// NewClient creates a Client for backend.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend: backend,
		backoff: ConflictRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the underlying backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// Close closes the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

// Transact runs fn against a fresh snapshot and commits its writes.
//
// When the commit fails with ErrConflict the attempt is thrown away and fn
// runs again on a new snapshot, so fn must compute everything from what it
// reads. The returned transaction is the one that committed; its Wait blocks
// until the keys it read change again.
func (c *Client) Transact(ctx context.Context, fn TxnFunc) (*Txn, error) {
	var committed *Txn

	err := retry.OnError(c.backoff, IsConflict, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, err := c.backend.Snapshot(ctx)
		if err != nil {
			return err
		}
		txn := newTxn(snap)

		if err := fn(ctx, txn); err != nil {
			return err
		}

		if err := txn.Commit(ctx); err != nil {
			if IsConflict(err) {
				logging.Debug("ConfigDB", "Transaction conflict, retrying with a new snapshot")
				if c.onConflict != nil {
					c.onConflict()
				}
			}
			return err
		}

		committed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}
