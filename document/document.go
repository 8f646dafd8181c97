// Package document implements the C4 document store: the per-object
// ObjectDocument blob, its hash-chain bookkeeping, and the
// UpdateActiveConfiguration stream migration (spec §4.4). It is grounded on
// the teacher's fencing/checkpoint persistence idiom in
// materialize/sql/std_fence.go (load-modify-store against a single keyed
// record under an explicit precondition, with the losing writer surfacing a
// typed conflict rather than silently overwriting) generalized from a fenced
// SQL row to a per-object blob under an ETag precondition.
package document

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/hashchain"
	"github.com/eventledger/eventledger/model"
	"github.com/eventledger/eventledger/telemetry"
)

const contentTypeJSON = "application/json"

// Store is one C4 document-store instance, bound to a single backing
// blob.Store. As with eventlog.Store, the eventstore facade resolves which
// Store instance a given object name routes to.
type Store struct {
	Blob                blob.Store
	Log                 logrus.FieldLogger
	AutoCreateContainer bool
	// Name labels this Store's metrics (telemetry.ObserveDocumentSet).
	Name string
}

// New returns a Store bound to the given blob.Store, labeled name for
// telemetry.
func New(b blob.Store, name string, log logrus.FieldLogger, autoCreateContainer bool) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Blob: b, Name: name, Log: log, AutoCreateContainer: autoCreateContainer}
}

// Path returns the blob path an ObjectDocument for (objectName, objectID)
// lives at: "{objectName-lc}/{objectId}.json".
func Path(objectName, objectID string) string {
	return strings.ToLower(objectName) + "/" + objectID + ".json"
}

func (s *Store) ensureContainer(ctx context.Context, objectName string) error {
	if !s.AutoCreateContainer {
		return nil
	}
	if err := s.Blob.CreateContainerIfAbsent(ctx, strings.ToLower(objectName)); err != nil {
		return errs.Wrap(errs.KindContainerAutoCreateFailed, err, "auto-creating container for %q", objectName)
	}
	return nil
}

// Create writes a brand-new ObjectDocument with the given initial active
// stream configuration. It fails with KindConcurrencyConflict if one
// already exists for (objectName, objectID).
func (s *Store) Create(ctx context.Context, objectName, objectID string, active model.StreamInformation) (*model.ObjectDocument, error) {
	if objectName == "" || objectID == "" {
		return nil, errs.New(errs.KindArgumentInvalid, "objectName and objectID are required")
	}
	if err := s.ensureContainer(ctx, objectName); err != nil {
		return nil, err
	}

	// A brand-new stream has appended nothing yet; CurrentStreamVersion must
	// be one below the first event's version (0) regardless of whatever the
	// caller's StreamInformation carries.
	active.CurrentStreamVersion = -1

	doc := model.ObjectDocument{
		ObjectID:      objectID,
		ObjectName:    objectName,
		Active:        active,
		SchemaVersion: "1.0",
	}
	hash, body, err := hashchain.DocumentHash(doc)
	if err != nil {
		return nil, err
	}
	doc.Hash = hash

	path := Path(objectName, objectID)
	res, err := s.Blob.UploadBytes(ctx, path, body, contentTypeJSON, blob.Conditions{IfNoneMatchAny: true})
	if err != nil {
		return nil, err
	}
	doc.ETag = res.ETag
	return &doc, nil
}

// Get loads the ObjectDocument for (objectName, objectID), returning
// KindDocumentNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, objectName, objectID string) (*model.ObjectDocument, error) {
	path := Path(objectName, objectID)
	props, err := s.Blob.GetProperties(ctx, path)
	if err != nil {
		if errs.Is(err, errs.KindBlobNotFound) || errs.Is(err, errs.KindContainerNotFound) {
			return nil, errs.Wrap(errs.KindDocumentNotFound, err, "document %s/%s not found", objectName, objectID)
		}
		return nil, err
	}
	body, err := s.Blob.DownloadBytes(ctx, path, props.ETag)
	if err != nil {
		return nil, err
	}
	var doc model.ObjectDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errs.Wrap(errs.KindProcessingError, err, "unmarshaling document at %q", path)
	}
	doc.ETag = props.ETag
	return &doc, nil
}

// Set persists doc's current in-memory state, rolling PrevHash forward and
// recomputing Hash over the new body, and upload conditioned on doc.ETag
// (the value last returned by Get or Create). A stale doc.ETag surfaces as
// KindConcurrencyConflict; callers are expected to reload and retry.
func (s *Store) Set(ctx context.Context, doc *model.ObjectDocument) (err error) {
	defer func() { telemetry.ObserveDocumentSet(s.Name, err) }()

	if doc.ETag == "" {
		return errs.New(errs.KindArgumentInvalid, "doc.ETag is empty; Set requires a document loaded via Get or Create")
	}

	hash, body, herr := hashchain.NextHash(*doc)
	if herr != nil {
		return herr
	}
	doc.PrevHash = doc.Hash
	doc.Hash = hash

	path := Path(doc.ObjectName, doc.ObjectID)
	res, uerr := s.Blob.UploadBytes(ctx, path, body, contentTypeJSON, blob.Conditions{IfMatch: doc.ETag})
	if uerr != nil {
		doc.Hash = doc.PrevHash
		doc.PrevHash = ""
		return uerr
	}
	doc.ETag = res.ETag
	return nil
}

// UpdateActiveConfiguration performs the stream-migration operation (spec
// §4.4): the current active stream is frozen into TerminatedStreams exactly
// as it stands (its blob is left in place; nothing is copied or rewritten),
// and newActive becomes the document's active stream with a fresh version
// counter. Its stream blob is not written here; the first eventlog.Append
// to it creates the blob. A newActive that reuses a still-live
// StreamIdentifier is rejected: migrations always address a new stream
// coordinate so the hash-chain link is unambiguous.
func (s *Store) UpdateActiveConfiguration(ctx context.Context, doc *model.ObjectDocument, newActive model.StreamInformation) error {
	if newActive.StreamIdentifier == "" {
		return errs.New(errs.KindArgumentInvalid, "newActive.StreamIdentifier is required")
	}
	if newActive.StreamIdentifier == doc.Active.StreamIdentifier {
		return errs.New(errs.KindArgumentInvalid,
			"newActive.StreamIdentifier %q must differ from the current active stream", newActive.StreamIdentifier)
	}
	for _, t := range doc.TerminatedStreams {
		if t.StreamIdentifier == newActive.StreamIdentifier {
			return errs.New(errs.KindArgumentInvalid,
				"stream identifier %q already used by a terminated stream", newActive.StreamIdentifier)
		}
	}

	terminated := doc.Active
	doc.TerminatedStreams = append(doc.TerminatedStreams, terminated)

	// A migrated-to stream starts fresh, with no append history, the same
	// as Create's initial stream: its first event must be version 0.
	newActive.CurrentStreamVersion = -1
	// lastObjectDocumentHash for the new stream's first write is stamped by
	// eventlog.Append as hashchain.NextHash(*doc) at append time; there is no
	// existing blob to link-check, so UpdateActiveConfiguration does not need
	// to know it.
	doc.Active = newActive

	if err := s.Set(ctx, doc); err != nil {
		// Roll the in-memory migration back; the document on the server is
		// unchanged because Set never got a successful upload.
		doc.Active = terminated
		doc.TerminatedStreams = doc.TerminatedStreams[:len(doc.TerminatedStreams)-1]
		return err
	}
	return nil
}
