package dlock

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/eventledger/eventledger/errs"
)

// EtcdLock is the etcd-backed alternative to the blob-lease Lock, for
// operators who already run etcd for allocator/shard coordination (as the
// teacher's go/allocator does) and would rather not take a lease-capable
// blob backend dependency just for C7. It implements the same acquire/renew/
// release shape via concurrency.Session's own keep-alive, so there is no
// separate renewal goroutine to manage here.
type EtcdLock struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

var _ Handle = (*EtcdLock)(nil)

// AcquireEtcd blocks until it wins an etcd-backed mutex at path or ctx is
// canceled. ttlSeconds <= 0 selects defaultTTLSeconds, the same as the
// blob-backed Acquire.
func AcquireEtcd(ctx context.Context, client *clientv3.Client, path string, ttlSeconds int) (*EtcdLock, error) {
	if ttlSeconds <= 0 {
		ttlSeconds = defaultTTLSeconds
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(int(ttlSeconds)))
	if err != nil {
		return nil, errs.Wrap(errs.KindProcessingError, err, "opening etcd session for lock %q", path)
	}
	mutex := concurrency.NewMutex(session, path)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, errs.Wrap(errs.KindConcurrencyConflict, err, "acquiring etcd lock %q", path)
	}
	return &EtcdLock{session: session, mutex: mutex}, nil
}

// Err reports the session's liveness; a lost keep-alive surfaces here the
// same way a lost blob lease surfaces on Lock.Err.
func (l *EtcdLock) Err() error {
	select {
	case <-l.session.Done():
		return errs.New(errs.KindLeaseLost, "etcd session for lock is no longer live")
	default:
		return nil
	}
}

// Release unlocks the mutex and closes the session.
func (l *EtcdLock) Release(ctx context.Context) error {
	if err := l.mutex.Unlock(ctx); err != nil {
		l.session.Close()
		return err
	}
	return l.session.Close()
}
