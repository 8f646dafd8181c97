// Package dlock implements C7: a distributed mutual-exclusion lock backed
// by a blob lease (spec §4.7). The lease-acquire/renew/release shape
// mirrors go.etcd.io/etcd/client/v3's Grant/KeepAlive/Revoke lease API in
// the teacher's own allocator (go/allocator), adapted from an etcd lease id
// to a blob.Lease and from etcd's server-driven keepalive stream to an
// explicit background renewal goroutine, since a blob store has no
// subscribe primitive.
package dlock

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/telemetry"
)

const contentTypeJSON = "application/json"

// defaultTTLSeconds is the lease TTL used when Acquire's caller does not
// specify one. Renewal runs at ttl/3, matching the teacher's etcd-lease
// keepalive cadence of firing well inside the grant window.
const defaultTTLSeconds = 15

// Handle is the common surface of both lock backends (blob-lease-backed
// Lock and etcd-backed EtcdLock), so callers can select a backend at
// startup and use either interchangeably from then on.
type Handle interface {
	Err() error
	Release(ctx context.Context) error
}

var _ Handle = (*Lock)(nil)

// Lock is a held distributed lock. Callers must call Release once done;
// an unreleased Lock
// expires on its own once its lease TTL elapses without renewal.
type Lock struct {
	store  blob.Store
	path   string
	lease  blob.Lease
	log    logrus.FieldLogger
	ttl    int64
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	lost error
}

// Acquire blocks, retrying with jittered exponential backoff, until it wins
// the lease on path or ctx is canceled. ttlSeconds <= 0 selects
// defaultTTLSeconds. The returned Lock renews its lease automatically in
// the background at ttl/3 until Release is called or the lease is lost.
func Acquire(ctx context.Context, store blob.Store, path string, ttlSeconds int64, log logrus.FieldLogger) (*Lock, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ttlSeconds <= 0 {
		ttlSeconds = defaultTTLSeconds
	}

	if err := ensureBlob(ctx, store, path); err != nil {
		return nil, err
	}

	var lease blob.Lease
	op := func() error {
		l, err := store.LeaseAcquire(ctx, path, ttlSeconds)
		if err != nil {
			if errs.Is(err, errs.KindConcurrencyConflict) {
				return err // retryable: someone else holds it
			}
			return backoff.Permanent(err)
		}
		lease = l
		return nil
	}

	start := time.Now()
	b := backoff.WithContext(jitteredBackoff(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		telemetry.ObserveLockWait(path, time.Since(start).Seconds())
		return nil, unwrapPermanent(err)
	}
	telemetry.ObserveLockWait(path, time.Since(start).Seconds())

	lockCtx, cancel := context.WithCancel(context.Background())
	lk := &Lock{store: store, path: path, lease: lease, log: log, ttl: ttlSeconds, cancel: cancel}
	lk.wg.Add(1)
	go lk.renewLoop(lockCtx)
	return lk, nil
}

func jitteredBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0 // caller's ctx is the only deadline
	return b
}

func unwrapPermanent(err error) error {
	var perr *backoff.PermanentError
	if ok := asPermanent(err, &perr); ok {
		return perr.Err
	}
	return err
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	for err != nil {
		if p, ok := err.(*backoff.PermanentError); ok {
			*target = p
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ensureBlob makes sure the lock's target blob exists, since leases attach
// to an existing blob. A zero-byte placeholder is uploaded if absent.
func ensureBlob(ctx context.Context, store blob.Store, path string) error {
	exists, err := store.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = store.UploadBytes(ctx, path, []byte("{}"), contentTypeJSON, blob.Conditions{IfNoneMatchAny: true})
	if err != nil && !errs.Is(err, errs.KindConcurrencyConflict) {
		return err
	}
	return nil
}

func (l *Lock) renewLoop(ctx context.Context) {
	defer l.wg.Done()
	interval := time.Duration(l.ttl) * time.Second / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.store.LeaseRenew(context.Background(), l.path, l.lease); err != nil {
				l.mu.Lock()
				l.lost = errs.Wrap(errs.KindLeaseLost, err, "lease on %q lost during renewal", l.path)
				l.mu.Unlock()
				l.log.WithField("path", l.path).WithError(err).Warn("dlock: lease renewal failed")
				return
			}
		}
	}
}

// Err returns the error that ended background renewal, or nil while the
// lock is still healthy. Callers doing long-held work should poll this
// before treating protected state as still exclusively owned.
func (l *Lock) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

// Release stops background renewal and releases the lease. It is safe to
// call once; a second call is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	l.wg.Wait()
	l.cancel = nil

	if l.Err() != nil {
		return nil // lease already gone; nothing to release
	}
	return l.store.LeaseRelease(ctx, l.path, l.lease)
}
