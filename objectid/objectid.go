// Package objectid implements C9: enumeration and existence/count queries
// over the set of objectIds stored under one object name (spec §4.9). It is
// grounded on the teacher's go/flow/catalog listing code (paginated prefix
// listing against a blob-backed catalog) and, for CountAll, on the
// teacher's use of golang.org/x/sync/errgroup in go/shuffle to bound
// concurrent fan-out.
package objectid

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
)

const listPageSize = 1000

// Provider answers existence, enumeration, and count queries against the
// set of documents stored for one object name.
type Provider struct {
	Blob blob.Store
}

// New returns a Provider bound to the given blob.Store.
func New(b blob.Store) *Provider {
	return &Provider{Blob: b}
}

func container(objectName string) string {
	return strings.ToLower(objectName)
}

func idFromKey(key string) string {
	return strings.TrimSuffix(key, ".json")
}

// GetObjectIds returns up to pageSize objectIds for objectName starting
// after continuation (the empty string for the first page), along with the
// continuation token for the next page, which is empty once exhausted.
func (p *Provider) GetObjectIds(ctx context.Context, objectName string, continuation string, pageSize int) ([]string, string, error) {
	if objectName == "" {
		return nil, "", errs.New(errs.KindArgumentInvalid, "objectName is required")
	}
	if pageSize <= 0 {
		pageSize = listPageSize
	}
	page, err := p.Blob.ListByPrefix(ctx, container(objectName)+"/", continuation, pageSize)
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		_, key, ok := strings.Cut(item, "/")
		if !ok {
			continue
		}
		ids = append(ids, idFromKey(key))
	}
	return ids, page.NextContinuation, nil
}

// Exists reports whether objectID has a document under objectName.
func (p *Provider) Exists(ctx context.Context, objectName, objectID string) (bool, error) {
	path := container(objectName) + "/" + objectID + ".json"
	return p.Blob.Exists(ctx, path)
}

// Count walks every page and returns the total objectId count for
// objectName, fetching pages one after another. CountAll runs several such
// Counts concurrently, one per object name.
func (p *Provider) Count(ctx context.Context, objectName string) (int, error) {
	total := 0
	continuation := ""
	for {
		ids, next, err := p.GetObjectIds(ctx, objectName, continuation, listPageSize)
		if err != nil {
			return 0, err
		}
		total += len(ids)
		if next == "" {
			break
		}
		continuation = next
	}
	return total, nil
}

// CountAll counts objectIds across several object names concurrently,
// bounding fan-out to maxConcurrency simultaneous Count calls. It is a
// supplemented convenience for operators auditing a whole schema rather
// than one object type at a time; nothing in the core hash-chain or
// append path depends on it.
func CountAll(ctx context.Context, p *Provider, objectNames []string, maxConcurrency int) (map[string]int, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	type pair struct {
		name  string
		count int
	}
	out := make(chan pair, len(objectNames))

	for _, name := range objectNames {
		name := name
		g.Go(func() error {
			count, err := p.Count(gctx, name)
			if err != nil {
				return errs.Wrap(errs.KindProcessingError, err, "counting objectIds for %q", name)
			}
			out <- pair{name: name, count: count}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(out)

	results := make(map[string]int, len(objectNames))
	for r := range out {
		results[r.name] = r.count
	}
	return results, nil
}
