// Package memblob is a race-safe, in-process blob.Store used by the rest of
// the module's test suites in place of a live cloud account. It implements
// the exact capability set of blob.Store, including conditional writes and
// leases, so invariant tests (spec §8, P1-P8) exercise real concurrency
// semantics rather than a simplified double.
package memblob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
)

type object struct {
	body        []byte
	etag        string
	contentType string
	leaseID     string
	leaseState  blob.LeaseState
}

// Store is an in-memory blob.Store keyed by container then path.
type Store struct {
	mu         sync.Mutex
	containers map[string]map[string]*object
	etagSeq    uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{containers: make(map[string]map[string]*object)}
}

func splitPath(path string) (container, key string) {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

func (s *Store) nextETag() string {
	s.etagSeq++
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf) + "-" + hexUint(s.etagSeq)
}

func hexUint(v uint64) string {
	const hexdigits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{hexdigits[v%16]}, b...)
		v /= 16
	}
	return string(b)
}

func (s *Store) container(name string, create bool) (map[string]*object, bool) {
	c, ok := s.containers[name]
	if !ok && create {
		c = make(map[string]*object)
		s.containers[name] = c
	}
	return c, ok || create
}

func (s *Store) CreateContainerIfAbsent(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.container(name, true)
	return nil
}

func (s *Store) GetProperties(_ context.Context, path string) (blob.Properties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return blob.Properties{}, errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return blob.Properties{}, errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	return blob.Properties{ETag: obj.etag, LeaseState: obj.leaseState, Size: int64(len(obj.body))}, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.GetProperties(ctx, path)
	if err == nil {
		return true, nil
	}
	if errs.Is(err, errs.KindBlobNotFound) || errs.Is(err, errs.KindContainerNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Store) DownloadBytes(_ context.Context, path string, ifMatch string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return nil, errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return nil, errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	if ifMatch != "" && obj.etag != ifMatch {
		return nil, errs.New(errs.KindConcurrencyConflict, "etag mismatch on %q", path)
	}
	out := make([]byte, len(obj.body))
	copy(out, obj.body)
	return out, nil
}

func (s *Store) UploadBytes(_ context.Context, path string, body []byte, contentType string, cond blob.Conditions) (blob.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return blob.UploadResult{}, errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}

	existing, exists := c[key]
	switch {
	case cond.IfNoneMatchAny:
		if exists {
			return blob.UploadResult{}, errs.New(errs.KindConcurrencyConflict, "blob %q already exists", path)
		}
	case cond.IfMatch != "":
		if !exists {
			return blob.UploadResult{}, errs.New(errs.KindBlobNotFound, "blob %q not found", path)
		}
		if existing.etag != cond.IfMatch {
			return blob.UploadResult{}, errs.New(errs.KindConcurrencyConflict, "etag mismatch on %q", path)
		}
	}

	if exists && existing.leaseState == blob.LeaseStateLeased {
		return blob.UploadResult{}, errs.New(errs.KindConcurrencyConflict, "blob %q is leased", path)
	}

	newBody := make([]byte, len(body))
	copy(newBody, body)
	etag := s.nextETag()
	c[key] = &object{body: newBody, etag: etag, contentType: contentType}
	if exists {
		c[key].leaseID = existing.leaseID
		c[key].leaseState = existing.leaseState
	}
	return blob.UploadResult{ETag: etag}, nil
}

func (s *Store) Delete(_ context.Context, path string, ifMatch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	if ifMatch != "" && obj.etag != ifMatch {
		return errs.New(errs.KindConcurrencyConflict, "etag mismatch on %q", path)
	}
	delete(c, key)
	return nil
}

func (s *Store) ListByPrefix(_ context.Context, prefix string, continuation string, pageSize int) (blob.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, keyPrefix := splitPath(prefix)
	c, ok := s.containers[container]
	if !ok {
		return blob.Page{}, nil
	}

	var keys []string
	for k := range c {
		if strings.HasPrefix(k, keyPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if continuation != "" {
		for i, k := range keys {
			if k > continuation {
				start = i
				break
			}
			start = i + 1
		}
	}
	if pageSize <= 0 {
		pageSize = len(keys)
	}
	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	var page blob.Page
	for _, k := range keys[start:end] {
		page.Items = append(page.Items, container+"/"+k)
	}
	if end < len(keys) {
		page.NextContinuation = keys[end-1]
	}
	return page, nil
}

func (s *Store) LeaseAcquire(_ context.Context, path string, _ int64) (blob.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return blob.Lease{}, errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return blob.Lease{}, errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	if obj.leaseState == blob.LeaseStateLeased {
		return blob.Lease{}, errs.New(errs.KindConcurrencyConflict, "blob %q already leased", path)
	}
	id := s.nextETag()
	obj.leaseID = id
	obj.leaseState = blob.LeaseStateLeased
	return blob.Lease{ID: id}, nil
}

func (s *Store) LeaseRenew(_ context.Context, path string, lease blob.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	if obj.leaseState != blob.LeaseStateLeased || obj.leaseID != lease.ID {
		return errs.New(errs.KindLeaseLost, "lease %q on %q is no longer held", lease.ID, path)
	}
	return nil
}

func (s *Store) LeaseRelease(_ context.Context, path string, lease blob.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	if obj.leaseID != lease.ID {
		return errs.New(errs.KindLeaseLost, "lease %q on %q is no longer held", lease.ID, path)
	}
	obj.leaseID = ""
	obj.leaseState = blob.LeaseStateAvailable
	return nil
}

func (s *Store) LeaseBreak(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, key := splitPath(path)
	c, ok := s.containers[container]
	if !ok {
		return errs.New(errs.KindContainerNotFound, "container %q not found", container)
	}
	obj, ok := c[key]
	if !ok {
		return errs.New(errs.KindBlobNotFound, "blob %q not found", path)
	}
	obj.leaseID = ""
	obj.leaseState = blob.LeaseStateAvailable
	return nil
}
