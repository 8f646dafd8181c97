package eventstore

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/blob/azureblob"
	"github.com/eventledger/eventledger/blob/gcs"
	"github.com/eventledger/eventledger/blob/memblob"
	"github.com/eventledger/eventledger/config"
	"github.com/eventledger/eventledger/dlock"
)

// NewBlobStore builds the configured blob.Store backend. It is the single
// place a binary needs to touch to swap backends; every store package above
// it only ever sees the blob.Store interface.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig, log logrus.FieldLogger) (blob.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memblob.New(), nil

	case "azureblob":
		if cfg.ConnectionString == "" {
			return nil, fmt.Errorf("blob.connection-string is required for backend=azureblob")
		}
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{},
		})
		if err != nil {
			return nil, fmt.Errorf("building azure blob client: %w", err)
		}
		return azureblob.New(client, log), nil

	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("building google storage client: %w", err)
		}
		return gcs.New(client, cfg.GCSProjectID), nil

	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// NewLock acquires a C7 distributed lock on path through whichever backend
// cfg.Backend selects, blocking the same way dlock.Acquire does regardless
// of which one is chosen.
func NewLock(ctx context.Context, cfg config.LockConfig, blobStore blob.Store, path string, log logrus.FieldLogger) (dlock.Handle, error) {
	switch cfg.Backend {
	case "etcd":
		if len(cfg.EtcdEndpoints) == 0 {
			return nil, fmt.Errorf("lock.etcd-endpoint is required for backend=etcd")
		}
		client, err := clientv3.New(clientv3.Config{Endpoints: cfg.EtcdEndpoints})
		if err != nil {
			return nil, fmt.Errorf("building etcd client: %w", err)
		}
		return dlock.AcquireEtcd(ctx, client, path, int(cfg.TTLSeconds))

	case "blob", "":
		return dlock.Acquire(ctx, blobStore, path, cfg.TTLSeconds, log)

	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
