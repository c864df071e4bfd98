package engine

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLocker provides per-session mutual exclusion across processes via an
// etcd lease. An in-process KeyedMutex stops serializing turns the moment a
// second replica starts; pointing every replica at the same etcd cluster
// restores the guarantee without changing the engine.
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
	ttl    int
}

// EtcdLockerOption configures an EtcdLocker.
type EtcdLockerOption func(*EtcdLocker)

// WithLockPrefix sets the etcd key prefix for session locks.
func WithLockPrefix(prefix string) EtcdLockerOption {
	return func(l *EtcdLocker) { l.prefix = prefix }
}

// WithLeaseTTL sets the lease TTL in seconds. If the holding process dies,
// the lock frees itself after the TTL expires.
func WithLeaseTTL(seconds int) EtcdLockerOption {
	return func(l *EtcdLocker) { l.ttl = seconds }
}

// NewEtcdLocker creates a distributed session locker over an etcd client.
func NewEtcdLocker(client *clientv3.Client, opts ...EtcdLockerOption) *EtcdLocker {
	l := &EtcdLocker{
		client: client,
		prefix: "realtord/session-lock/",
		ttl:    30,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the distributed lock for key is held.
func (l *EtcdLocker) Acquire(ctx context.Context, key string) (func(), error) {
	sess, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("etcd lock session: %w", err)
	}

	mu := concurrency.NewMutex(sess, l.prefix+key)
	if err := mu.Lock(ctx); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("etcd lock %q: %w", key, err)
	}

	release := func() {
		// Unlock with a fresh context: the caller's context may already be
		// done, and an unreleased lock blocks the session until TTL expiry.
		_ = mu.Unlock(context.Background())
		_ = sess.Close()
	}
	return release, nil
}
