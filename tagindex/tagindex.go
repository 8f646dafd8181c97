// Package tagindex implements C5: the document-tag and stream-tag indices,
// both backed by the same TagDocument blob shape keyed by a sanitized tag
// name (spec §4.5). It is grounded on the teacher's
// go/labels/labels.go validation pattern (a restrictive character set
// enforced before a label is ever persisted or used as a lookup key) and on
// materialize/sql/std_fence.go's bounded ETag-retry loop for idempotent
// read-modify-write updates under optimistic concurrency.
package tagindex

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/model"
)

const (
	contentTypeJSON = "application/json"
	// maxSetRetries bounds the read-modify-write loop in Set/Remove against
	// a concurrently updated tag document before giving up with
	// KindConcurrencyConflict.
	maxSetRetries = 5
)

// safeTagPattern is deliberately restrictive: it is the tag's blob file
// name, so it excludes path separators and anything a cloud blob name
// disallows.
var safeTagPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,256}$`)

// Kind distinguishes the two index containers this package serves; both use
// an identical TagDocument shape and the same algorithms, differing only in
// the container they resolve to.
type Kind int

const (
	// KindDocumentTag indexes tag -> objectIds (spec §4.5 "document tags").
	KindDocumentTag Kind = iota
	// KindStreamTag indexes tag -> objectIds scoped to stream membership
	// (spec §4.5 "stream tags").
	KindStreamTag
)

// Store is one C5 tag-index instance, bound to a single backing blob.Store
// and a fixed container name.
type Store struct {
	Blob      blob.Store
	Container string
	Log       logrus.FieldLogger
}

// New returns a Store rooted at the given container.
func New(b blob.Store, container string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Blob: b, Container: strings.ToLower(container), Log: log}
}

func sanitize(tag string) (string, error) {
	if !safeTagPattern.MatchString(tag) {
		return "", errs.New(errs.KindArgumentInvalid, "tag %q is not a safe index key", tag)
	}
	return tag, nil
}

func (s *Store) path(tag string) string {
	return s.Container + "/" + tag + ".json"
}

// Get returns the objectIds currently tagged with tag, or an empty slice if
// the tag has never been set.
func (s *Store) Get(ctx context.Context, tag string) ([]string, error) {
	tag, err := sanitize(tag)
	if err != nil {
		return nil, err
	}
	doc, _, err := s.load(ctx, tag)
	if err != nil {
		return nil, err
	}
	return doc.ObjectIDs, nil
}

func (s *Store) load(ctx context.Context, tag string) (model.TagDocument, string, error) {
	path := s.path(tag)
	exists, err := s.Blob.Exists(ctx, path)
	if err != nil {
		return model.TagDocument{}, "", err
	}
	if !exists {
		return model.TagDocument{Tag: tag}, "", nil
	}
	props, err := s.Blob.GetProperties(ctx, path)
	if err != nil {
		if errs.Is(err, errs.KindBlobNotFound) {
			return model.TagDocument{Tag: tag}, "", nil
		}
		return model.TagDocument{}, "", err
	}
	body, err := s.Blob.DownloadBytes(ctx, path, props.ETag)
	if err != nil {
		return model.TagDocument{}, "", err
	}
	var doc model.TagDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.TagDocument{}, "", errs.Wrap(errs.KindProcessingError, err, "unmarshaling tag document at %q", path)
	}
	return doc, props.ETag, nil
}

// Set idempotently associates objectID with tag: calling it twice with the
// same objectID leaves the index unchanged (spec §4.5 invariant). It makes
// up to maxSetRetries read-modify-write attempts against concurrent
// writers before surfacing KindConcurrencyConflict.
func (s *Store) Set(ctx context.Context, tag, objectID string) error {
	return s.mutate(ctx, tag, func(ids []string) ([]string, bool) {
		for _, id := range ids {
			if id == objectID {
				return ids, false
			}
		}
		out := append(append([]string{}, ids...), objectID)
		sort.Strings(out)
		return out, true
	})
}

// Remove idempotently disassociates objectID from tag. Removing an
// objectID that was never present is a no-op, not an error.
func (s *Store) Remove(ctx context.Context, tag, objectID string) error {
	return s.mutate(ctx, tag, func(ids []string) ([]string, bool) {
		out := make([]string, 0, len(ids))
		changed := false
		for _, id := range ids {
			if id == objectID {
				changed = true
				continue
			}
			out = append(out, id)
		}
		return out, changed
	})
}

func (s *Store) mutate(ctx context.Context, tag string, apply func([]string) ([]string, bool)) error {
	tag, err := sanitize(tag)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxSetRetries; attempt++ {
		doc, etag, err := s.load(ctx, tag)
		if err != nil {
			return err
		}

		next, changed := apply(doc.ObjectIDs)
		if !changed {
			return nil
		}
		doc.Tag = tag
		doc.ObjectIDs = next

		body, err := json.Marshal(doc)
		if err != nil {
			return errs.Wrap(errs.KindProcessingError, err, "marshaling tag document %q", tag)
		}

		path := s.path(tag)
		cond := blob.Conditions{IfMatch: etag}
		if etag == "" {
			cond = blob.Conditions{IfNoneMatchAny: true}
		}
		if _, err := s.Blob.UploadBytes(ctx, path, body, contentTypeJSON, cond); err != nil {
			if errs.Is(err, errs.KindConcurrencyConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return errs.New(errs.KindConcurrencyConflict, "tag %q: exhausted %d retries against concurrent writers", tag, maxSetRetries)
}
