// Package snapshot implements C6: versioned point-in-time snapshots of an
// object's projected state, stored as one blob per (objectName, objectID,
// name) coordinate (spec §4.6). It is grounded on the teacher's
// materialize/driver/sql checkpoint blobs — a single serialized state
// payload written wholesale on each update — generalized to a named,
// versioned series instead of one mutable row.
package snapshot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/model"
)

const contentTypeJSON = "application/json"

// Record is one stored snapshot body: the caller-supplied projected state
// plus the stream version it was taken at.
type Record struct {
	ObjectID     string          `json:"objectId"`
	ObjectName   string          `json:"objectName"`
	Name         string          `json:"name"`
	UntilVersion int64           `json:"untilVersion"`
	State        json.RawMessage `json:"state"`
}

// Store is one C6 snapshot-store instance, bound to a single backing
// blob.Store.
type Store struct {
	Blob blob.Store
	Log  logrus.FieldLogger
}

// New returns a Store bound to the given blob.Store.
func New(b blob.Store, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Blob: b, Log: log}
}

// Path returns the blob path for a named snapshot of (objectName,
// objectID): "{objectName-lc}/{objectId}-{name}.json".
func Path(objectName, objectID, name string) string {
	return strings.ToLower(objectName) + "/" + objectID + "-" + name + ".json"
}

// Put writes a snapshot record unconditionally, with no ETag precondition.
// The blob is keyed by (objectName, objectId, name) only, so a later Put
// under the same name replaces the earlier record whatever its
// untilVersion (last write wins).
func (s *Store) Put(ctx context.Context, objectName, objectID, name string, untilVersion int64, state json.RawMessage) (model.SnapshotRef, error) {
	if name == "" {
		return model.SnapshotRef{}, errs.New(errs.KindArgumentInvalid, "snapshot name is required")
	}
	rec := Record{ObjectID: objectID, ObjectName: objectName, Name: name, UntilVersion: untilVersion, State: state}
	body, err := json.Marshal(rec)
	if err != nil {
		return model.SnapshotRef{}, errs.Wrap(errs.KindProcessingError, err, "marshaling snapshot %q", name)
	}
	path := Path(objectName, objectID, name)
	if _, err := s.Blob.UploadBytes(ctx, path, body, contentTypeJSON, blob.Conditions{}); err != nil {
		return model.SnapshotRef{}, err
	}
	return model.SnapshotRef{UntilVersion: untilVersion, Name: name}, nil
}

// Get loads the named snapshot for (objectName, objectID), returning
// KindBlobNotFound if it was never taken.
func (s *Store) Get(ctx context.Context, objectName, objectID, name string) (Record, error) {
	path := Path(objectName, objectID, name)
	body, err := s.Blob.DownloadBytes(ctx, path, "")
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, errs.Wrap(errs.KindProcessingError, err, "unmarshaling snapshot at %q", path)
	}
	return rec, nil
}

// Latest returns the ref with the greatest UntilVersion from refs, or false
// if refs is empty. Used to pick the replay starting point: read the
// snapshot, then read only the events after UntilVersion (spec §4.6).
func Latest(refs []model.SnapshotRef) (model.SnapshotRef, bool) {
	if len(refs) == 0 {
		return model.SnapshotRef{}, false
	}
	best := refs[0]
	for _, r := range refs[1:] {
		if r.UntilVersion > best.UntilVersion {
			best = r
		}
	}
	return best, true
}

// Delete removes the named snapshot. Deleting one that does not exist is
// not an error.
func (s *Store) Delete(ctx context.Context, objectName, objectID, name string) error {
	path := Path(objectName, objectID, name)
	err := s.Blob.Delete(ctx, path, "")
	if err != nil && errs.Is(err, errs.KindBlobNotFound) {
		return nil
	}
	return err
}
