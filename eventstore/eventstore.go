// Package eventstore is the application-facing facade (C11): it resolves a
// StreamInformation's configured store-type keys against registries of
// document/event/tag/snapshot store instances and dispatches each
// operation to the right one, replacing the original's per-class
// inheritance hierarchy with the plain string-keyed lookup pattern the
// teacher uses for materialization endpoint drivers
// (go/materialize/driver.NewDriver).
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/document"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/eventlog"
	"github.com/eventledger/eventledger/model"
	"github.com/eventledger/eventledger/objectid"
	"github.com/eventledger/eventledger/projection"
	"github.com/eventledger/eventledger/snapshot"
	"github.com/eventledger/eventledger/storetype"
	"github.com/eventledger/eventledger/tagindex"
	"github.com/eventledger/eventledger/vtoken"
)

// Registries bundles one storetype.Registry per capability. An
// eventstore.Store is configured once with a fully populated Registries and
// then dispatches every call by resolving the relevant StreamInformation
// field through storetype.Registry.ResolveChain (spec §9, OQ1 precedence:
// DataStore/SnapShotStore/...Store field, then *ConnectionName, then the
// registry default).
type Registries struct {
	Documents *storetype.Registry[*document.Store]
	Events    *storetype.Registry[*eventlog.Store]
	Tags      *storetype.Registry[*tagindex.Store]
	Snapshots *storetype.Registry[*snapshot.Store]
}

// Store is the top-level application API over C3-C9 (spec §4).
type Store struct {
	Registries  Registries
	Projections *projection.Coordinator
	ObjectIDs   *objectid.Provider
	Log         logrus.FieldLogger
}

// New returns a Store dispatching through regs.
func New(regs Registries, projections *projection.Coordinator, ids *objectid.Provider, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Registries: regs, Projections: projections, ObjectIDs: ids, Log: log}
}

func (s *Store) documentStore(stream model.StreamInformation) (*document.Store, error) {
	return s.Registries.Documents.ResolveChain(stream.DataStore, stream.StreamConnectionName)
}

func (s *Store) eventStore(stream model.StreamInformation) (*eventlog.Store, error) {
	return s.Registries.Events.ResolveChain(stream.DataStore, stream.StreamConnectionName)
}

func (s *Store) snapshotStore(stream model.StreamInformation) (*snapshot.Store, error) {
	return s.Registries.Snapshots.ResolveChain(stream.SnapShotStore, stream.SnapShotConnectionName)
}

func (s *Store) documentTagStore(stream model.StreamInformation) (*tagindex.Store, error) {
	return s.Registries.Tags.ResolveChain(stream.DocumentTagStore, stream.DocumentTagConnectionName)
}

func (s *Store) streamTagStore(stream model.StreamInformation) (*tagindex.Store, error) {
	return s.Registries.Tags.ResolveChain(stream.StreamTagStore, stream.StreamTagConnectionName)
}

// CreateObject creates a new ObjectDocument with its first active stream
// configuration (C4.Create).
func (s *Store) CreateObject(ctx context.Context, objectName, objectID string, active model.StreamInformation) (*model.ObjectDocument, error) {
	ds, err := s.documentStore(active)
	if err != nil {
		return nil, err
	}
	return ds.Create(ctx, objectName, objectID, active)
}

// GetObject loads an ObjectDocument by (objectName, objectID). Because the
// document's own active StreamInformation names which document store it
// lives in, callers addressing an object for the first time (before they
// have a loaded document) must resolve through the registry default or a
// known connection name; in practice GetObject is called with the default
// document-store type wired at startup.
func (s *Store) GetObject(ctx context.Context, objectName, objectID, documentStoreType string) (*model.ObjectDocument, error) {
	ds, err := s.Registries.Documents.Resolve(documentStoreType)
	if err != nil {
		return nil, err
	}
	return ds.Get(ctx, objectName, objectID)
}

// AppendEvents assigns versions to events and writes them to doc's active
// stream (C3.Append), then persists the document's updated
// CurrentStreamVersion / StreamChunks (C4.Set) so the two stay linked by
// the hash chain (spec §4.2, §4.3).
func (s *Store) AppendEvents(ctx context.Context, doc *model.ObjectDocument, events []model.Event) ([]vtoken.Token, error) {
	es, err := s.eventStore(doc.Active)
	if err != nil {
		return nil, err
	}
	ds, err := s.documentStore(doc.Active)
	if err != nil {
		return nil, err
	}

	tokens, err := es.Append(ctx, doc, events)
	if err != nil {
		return nil, err
	}
	if err := ds.Set(ctx, doc); err != nil {
		return nil, errs.Wrap(errs.KindProcessingError, err,
			"events appended to %q but document update failed; document and stream versions have diverged", doc.Active.StreamIdentifier)
	}
	return tokens, nil
}

// ReadEvents reads events in [startVersion, endVersion] from doc's active
// stream, or from a specific historical stream if named via
// fromTerminated (C3.Read).
func (s *Store) ReadEvents(ctx context.Context, doc model.ObjectDocument, fromTerminated *model.StreamInformation, startVersion, endVersion *int64) ([]model.Event, error) {
	stream := doc.Active
	if fromTerminated != nil {
		stream = *fromTerminated
	}
	es, err := s.eventStore(stream)
	if err != nil {
		return nil, err
	}
	scoped := doc
	scoped.Active = stream
	return es.Read(ctx, scoped, startVersion, endVersion, nil)
}

// MigrateStream performs UpdateActiveConfiguration (C4) through whichever
// document store the current active stream resolves to.
func (s *Store) MigrateStream(ctx context.Context, doc *model.ObjectDocument, newActive model.StreamInformation) error {
	ds, err := s.documentStore(doc.Active)
	if err != nil {
		return err
	}
	return ds.UpdateActiveConfiguration(ctx, doc, newActive)
}

// TagObject idempotently tags doc's objectId in the document-tag index
// configured on doc.Active (C5).
func (s *Store) TagObject(ctx context.Context, doc model.ObjectDocument, tag string) error {
	ts, err := s.documentTagStore(doc.Active)
	if err != nil {
		return err
	}
	return ts.Set(ctx, tag, doc.ObjectID)
}

// UntagObject reverses TagObject.
func (s *Store) UntagObject(ctx context.Context, doc model.ObjectDocument, tag string) error {
	ts, err := s.documentTagStore(doc.Active)
	if err != nil {
		return err
	}
	return ts.Remove(ctx, tag, doc.ObjectID)
}

// TagStream idempotently tags doc's objectId in the stream-tag index
// configured on doc.Active (C5).
func (s *Store) TagStream(ctx context.Context, doc model.ObjectDocument, tag string) error {
	ts, err := s.streamTagStore(doc.Active)
	if err != nil {
		return err
	}
	return ts.Set(ctx, tag, doc.ObjectID)
}

// ObjectsByTag returns every objectId currently tagged with tag in the
// document-tag index configured on stream.
func (s *Store) ObjectsByTag(ctx context.Context, stream model.StreamInformation, tag string) ([]string, error) {
	ts, err := s.documentTagStore(stream)
	if err != nil {
		return nil, err
	}
	return ts.Get(ctx, tag)
}

// TakeSnapshot stores a new named snapshot of doc's projected state at
// untilVersion (C6).
func (s *Store) TakeSnapshot(ctx context.Context, doc *model.ObjectDocument, name string, untilVersion int64, state json.RawMessage) (model.SnapshotRef, error) {
	ss, err := s.snapshotStore(doc.Active)
	if err != nil {
		return model.SnapshotRef{}, err
	}
	ref, err := ss.Put(ctx, doc.ObjectName, doc.ObjectID, name, untilVersion, state)
	if err != nil {
		return model.SnapshotRef{}, err
	}
	doc.Active.SnapShots = append(doc.Active.SnapShots, ref)
	return ref, nil
}

// ReplayFrom loads the latest snapshot of doc's active stream, if any, and
// the events after it, giving a caller everything needed to reconstruct
// current projected state without replaying the whole stream (C6 + C3,
// spec §4.6). For a chunked stream only the current (last) chunk is read,
// so events after the snapshot that lie in earlier chunks are not returned.
func (s *Store) ReplayFrom(ctx context.Context, doc model.ObjectDocument) (*snapshot.Record, []model.Event, error) {
	var latest *snapshot.Record
	var afterVersion *int64

	if ref, ok := snapshot.Latest(doc.Active.SnapShots); ok {
		ss, err := s.snapshotStore(doc.Active)
		if err != nil {
			return nil, nil, err
		}
		rec, err := ss.Get(ctx, doc.ObjectName, doc.ObjectID, ref.Name)
		if err != nil {
			return nil, nil, err
		}
		latest = &rec
		v := ref.UntilVersion + 1
		afterVersion = &v
	}

	events, err := s.ReadEvents(ctx, doc, nil, afterVersion, nil)
	if err != nil {
		return nil, nil, err
	}
	return latest, events, nil
}

// StartProjectionRebuild begins a fenced rebuild attempt (C8).
func (s *Store) StartProjectionRebuild(ctx context.Context, doc model.ObjectDocument, projectionName, fingerprint string) (projection.RebuildToken, error) {
	return s.Projections.StartRebuild(ctx, doc.ObjectName, doc.ObjectID, projectionName, fingerprint, time.Now())
}
