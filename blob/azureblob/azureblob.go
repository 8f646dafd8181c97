// Package azureblob implements blob.Store over Azure Blob Storage. It is the
// reference C1 adapter: spec §6 describes the blob contract in terms of
// "Azure-Blob-like ETag and lease behavior" and this is that behavior,
// un-adapted.
package azureblob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	azlease "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/sirupsen/logrus"

	esblob "github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
)

// Store adapts an *azblob.Client to blob.Store. Paths are
// "<container>/<blobName...>", matching spec §6's path conventions.
type Store struct {
	client *azblob.Client
	log    logrus.FieldLogger
}

// New wraps an already-constructed Azure client.
func New(client *azblob.Client, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{client: client, log: log}
}

func splitPath(path string) (container, name string) {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			if respErr.ErrorCode == string(blob.StorageErrorCodeContainerNotFound) {
				return errs.Wrap(errs.KindContainerNotFound, err, "container not found")
			}
			return errs.Wrap(errs.KindBlobNotFound, err, "blob not found")
		case http.StatusPreconditionFailed:
			return errs.Wrap(errs.KindConcurrencyConflict, err, "precondition failed")
		case http.StatusConflict:
			return errs.Wrap(errs.KindConcurrencyConflict, err, "conflict")
		}
	}
	return errs.Wrap(errs.KindProcessingError, err, "azure blob operation failed")
}

func (s *Store) GetProperties(ctx context.Context, path string) (esblob.Properties, error) {
	container, name := splitPath(path)
	resp, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return esblob.Properties{}, classify(err)
	}

	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	var etag string
	if resp.ETag != nil {
		etag = string(*resp.ETag)
	}

	return esblob.Properties{
		ETag:       etag,
		LeaseState: leaseState(resp.LeaseState),
		Size:       size,
	}, nil
}

func leaseState(s *blob.LeaseStateType) esblob.LeaseState {
	if s == nil {
		return esblob.LeaseStateUnspecified
	}
	switch *s {
	case blob.LeaseStateTypeAvailable:
		return esblob.LeaseStateAvailable
	case blob.LeaseStateTypeLeased:
		return esblob.LeaseStateLeased
	case blob.LeaseStateTypeBreaking:
		return esblob.LeaseStateBreaking
	case blob.LeaseStateTypeBroken:
		return esblob.LeaseStateBroken
	default:
		return esblob.LeaseStateUnspecified
	}
}

func (s *Store) DownloadBytes(ctx context.Context, path string, ifMatch string) ([]byte, error) {
	container, name := splitPath(path)

	var opts *blob.DownloadStreamOptions
	if ifMatch != "" {
		etag := azcore.ETag(ifMatch)
		opts = &blob.DownloadStreamOptions{
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
			},
		}
	}

	resp, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name).DownloadStream(ctx, opts)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (s *Store) UploadBytes(ctx context.Context, path string, body []byte, contentType string, cond esblob.Conditions) (esblob.UploadResult, error) {
	container, name := splitPath(path)

	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	switch {
	case cond.IfNoneMatchAny:
		any := azcore.ETagAny
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &any},
		}
	case cond.IfMatch != "":
		etag := azcore.ETag(cond.IfMatch)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
		}
	}

	resp, err := s.client.UploadBuffer(ctx, container, name, body, opts)
	if err != nil {
		return esblob.UploadResult{}, classify(err)
	}

	var etag string
	if resp.ETag != nil {
		etag = string(*resp.ETag)
	}
	return esblob.UploadResult{ETag: etag}, nil
}

func (s *Store) Delete(ctx context.Context, path string, ifMatch string) error {
	container, name := splitPath(path)

	var opts *blob.DeleteOptions
	if ifMatch != "" {
		etag := azcore.ETag(ifMatch)
		opts = &blob.DeleteOptions{
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
			},
		}
	}

	_, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name).Delete(ctx, opts)
	return classify(err)
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

func (s *Store) CreateContainerIfAbsent(ctx context.Context, container string) error {
	_, err := s.client.ServiceClient().NewContainerClient(container).Create(ctx, nil)
	if err != nil {
		if classified := classify(err); errs.Is(classified, errs.KindConcurrencyConflict) {
			return nil // already exists
		}
		return errs.Wrap(errs.KindContainerAutoCreateFailed, err, "creating container %q", container)
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string, continuation string, pageSize int) (esblob.Page, error) {
	container, keyPrefix := splitPath(prefix)
	cc := s.client.ServiceClient().NewContainerClient(container)

	var marker *string
	if continuation != "" {
		marker = &continuation
	}
	pagerOpts := &azblob.ListBlobsFlatOptions{Prefix: &keyPrefix, Marker: marker}
	if pageSize > 0 {
		max := int32(pageSize)
		pagerOpts.MaxResults = &max
	}

	pager := cc.NewListBlobsFlatPager(pagerOpts)
	if !pager.More() {
		return esblob.Page{}, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return esblob.Page{}, classify(err)
	}

	var out esblob.Page
	for _, item := range page.Segment.BlobItems {
		if item.Name != nil {
			out.Items = append(out.Items, container+"/"+*item.Name)
		}
	}
	if page.NextMarker != nil && *page.NextMarker != "" {
		out.NextContinuation = *page.NextMarker
	}
	return out, nil
}

func (s *Store) LeaseAcquire(ctx context.Context, path string, ttl int64) (esblob.Lease, error) {
	container, name := splitPath(path)
	lc, err := azlease.NewBlobClient(s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name), nil)
	if err != nil {
		return esblob.Lease{}, classify(err)
	}

	duration := int32(ttl)
	resp, err := lc.AcquireLease(ctx, duration, nil)
	if err != nil {
		return esblob.Lease{}, classify(err)
	}
	var id string
	if resp.LeaseID != nil {
		id = *resp.LeaseID
	}
	return esblob.Lease{ID: id}, nil
}

func (s *Store) leaseClient(path, leaseID string) (*azlease.BlobClient, error) {
	container, name := splitPath(path)
	return azlease.NewBlobClient(s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name),
		&azlease.BlobClientOptions{LeaseID: &leaseID})
}

func (s *Store) LeaseRenew(ctx context.Context, path string, lease esblob.Lease) error {
	lc, err := s.leaseClient(path, lease.ID)
	if err != nil {
		return classify(err)
	}
	_, err = lc.RenewLease(ctx, nil)
	if err != nil {
		classified := classify(err)
		if errs.Is(classified, errs.KindConcurrencyConflict) {
			return errs.Wrap(errs.KindLeaseLost, err, "lease %q on %q expired", lease.ID, path)
		}
		return classified
	}
	return nil
}

func (s *Store) LeaseRelease(ctx context.Context, path string, lease esblob.Lease) error {
	lc, err := s.leaseClient(path, lease.ID)
	if err != nil {
		return classify(err)
	}
	_, err = lc.ReleaseLease(ctx, nil)
	return classify(err)
}

func (s *Store) LeaseBreak(ctx context.Context, path string) error {
	container, name := splitPath(path)
	lc, err := azlease.NewBlobClient(s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name), nil)
	if err != nil {
		return classify(err)
	}
	var zero int32
	_, err = lc.BreakLease(ctx, &azlease.BlobBreakOptions{BreakPeriod: &zero})
	return classify(err)
}
