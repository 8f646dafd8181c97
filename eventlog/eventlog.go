// Package eventlog implements the per-stream event log blob: append with
// ETag + chunk roll, and filtered range reads (spec §4.3, C3). It is
// grounded on the teacher's own append-only, fragment-boundary framing
// described in go.gazette.dev/core's journal model (a journal is an
// append-only log split into immutable fragments the way a stream here is
// split into chunks) and on flow/builds.go's GCS client usage for the
// conditional-write idiom.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eventledger/eventledger/blob"
	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/hashchain"
	"github.com/eventledger/eventledger/model"
	"github.com/eventledger/eventledger/telemetry"
	"github.com/eventledger/eventledger/vtoken"
)

const contentTypeJSON = "application/json"

// maxCreateRetries bounds the Conflict→reload retry loop in Append when a
// concurrent writer created the stream blob between our existence check and
// our create attempt (spec §4.3 "Failure semantics").
const maxCreateRetries = 2

// Store is one C3 data-store instance, bound to a single backing blob.Store.
// The eventstore facade (C11) is responsible for resolving which Store a
// given StreamInformation should use.
type Store struct {
	Blob blob.Store
	Log  logrus.FieldLogger
	// Name labels this Store's metrics (telemetry.ObserveAppend et al.).
	Name string
}

// New returns a Store bound to the given blob.Store, labeled name for
// telemetry.
func New(b blob.Store, name string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Blob: b, Name: name, Log: log}
}

// ResolveStreamPath computes the blob path for a stream, honoring chunk
// settings and an optional chunk override (spec §4.3 step 1, §4.4's
// migration note that path resolution always uses the *old* active
// configuration while the blob hasn't moved).
func ResolveStreamPath(objectName string, stream model.StreamInformation, chunkOverride *uint32) string {
	base := strings.ToLower(objectName)
	if chunkOverride != nil {
		return fmt.Sprintf("%s/%s-%010d.json", base, stream.StreamIdentifier, *chunkOverride)
	}
	if stream.ChunkSettings != nil && stream.ChunkSettings.EnableChunks {
		chunkID := lastChunkID(stream)
		return fmt.Sprintf("%s/%s-%010d.json", base, stream.StreamIdentifier, chunkID)
	}
	return fmt.Sprintf("%s/%s.json", base, stream.StreamIdentifier)
}

func lastChunkID(stream model.StreamInformation) uint32 {
	if len(stream.StreamChunks) == 0 {
		return 0
	}
	return stream.StreamChunks[len(stream.StreamChunks)-1].ChunkIdentifier
}

// Append assigns strictly-increasing versions to events and writes them to
// doc's active stream, rolling to a new chunk blob when configured chunk
// size is exceeded (spec §4.3).
func (s *Store) Append(ctx context.Context, doc *model.ObjectDocument, events []model.Event) (tokens []vtoken.Token, err error) {
	defer func() { telemetry.ObserveAppend(s.Name, err, len(tokens)) }()

	if len(events) == 0 {
		return nil, errs.New(errs.KindArgumentInvalid, "events must be non-empty")
	}
	if doc.Active.StreamIdentifier == "" {
		return nil, errs.New(errs.KindArgumentInvalid, "active stream identifier must be set")
	}

	chunkingEnabled := doc.Active.ChunkSettings != nil && doc.Active.ChunkSettings.EnableChunks
	chunkSize := 0
	if chunkingEnabled {
		chunkSize = doc.Active.ChunkSettings.ChunkSize
	}

	path := ResolveStreamPath(doc.ObjectName, doc.Active, nil)
	streamDoc, etag, isNew, err := s.loadStream(ctx, path, doc)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		startVersion := doc.Active.CurrentStreamVersion + 1
		for i := range events {
			events[i].EventVersion = startVersion + int64(i)
		}

		prevVersion, prevChunks := doc.Active.CurrentStreamVersion, doc.Active.StreamChunks
		var writes []chunkWrite
		if chunkingEnabled {
			writes, doc.Active.StreamChunks = planChunkWrites(doc.Active.StreamChunks, events, chunkSize)
		}
		doc.Active.CurrentStreamVersion = events[len(events)-1].EventVersion

		// doc.Active now carries the version/chunk bump this append
		// produces, matching the state document.Store.Set will see once the
		// caller persists doc afterward, so the two independently-computed
		// hashes agree and the stream's stamped lastObjectDocumentHash links
		// to the document's eventual hash (spec §4.2).
		nextHash, _, herr := hashchain.NextHash(*doc)
		if herr != nil {
			doc.Active.CurrentStreamVersion, doc.Active.StreamChunks = prevVersion, prevChunks
			return nil, herr
		}
		streamDoc.LastObjectDocumentHash = nextHash

		var uerr error
		if chunkingEnabled {
			uerr = s.uploadChunks(ctx, doc, &streamDoc, path, etag, isNew, writes)
		} else {
			streamDoc.Events = append(streamDoc.Events, events...)
			uerr = s.upload(ctx, path, streamDoc, etag, isNew)
		}
		if uerr == nil {
			return tokensFor(doc, events), nil
		}

		doc.Active.CurrentStreamVersion, doc.Active.StreamChunks = prevVersion, prevChunks

		// Only the initial create of the stream blob itself is worth
		// retrying here (spec §4.3 "on Conflict, fall through to step 3"):
		// a concurrent writer claimed the blob between our existence check
		// and our upload, so reload what they wrote and redo this append as
		// an update instead of a create.
		singleWrite := !chunkingEnabled || len(writes) == 1
		if !isNew || !singleWrite || !errs.Is(uerr, errs.KindConcurrencyConflict) || attempt >= maxCreateRetries {
			return nil, uerr
		}

		reloaded, newEtag, _, lerr := s.loadStream(ctx, path, doc)
		if lerr != nil {
			return nil, lerr
		}
		streamDoc, etag, isNew = reloaded, newEtag, false
	}
}

// loadStream loads the stream blob at path, verifying its hash-chain link to
// doc.Hash, or reports it as not-yet-existing (spec §4.3 steps 2-3).
func (s *Store) loadStream(ctx context.Context, path string, doc *model.ObjectDocument) (model.StreamDocument, string, bool, error) {
	fresh := model.StreamDocument{ObjectID: doc.ObjectID, ObjectName: doc.ObjectName}

	exists, err := s.Blob.Exists(ctx, path)
	if err != nil {
		return model.StreamDocument{}, "", false, err
	}
	if !exists {
		// Leave the blob unwritten; the first real upload (with the actual
		// events and the new lastObjectDocumentHash) claims it via
		// IfNoneMatchAny. Writing a placeholder here first would make that
		// upload collide with itself.
		return fresh, "", true, nil
	}

	props, perr := s.Blob.GetProperties(ctx, path)
	if perr != nil {
		if errs.Is(perr, errs.KindBlobNotFound) {
			// Exists raced true and the blob is already gone; take the
			// create path directly instead of re-checking Exists, which
			// could flap on the same race.
			return fresh, "", true, nil
		}
		return model.StreamDocument{}, "", false, perr
	}

	var streamDoc model.StreamDocument
	body, derr := s.Blob.DownloadBytes(ctx, path, props.ETag)
	if derr != nil {
		return model.StreamDocument{}, "", false, derr
	}
	if err := json.Unmarshal(body, &streamDoc); err != nil {
		return model.StreamDocument{}, "", false, errs.Wrap(errs.KindProcessingError, err, "unmarshaling stream document at %q", path)
	}
	if !hashchain.LinksTo(streamDoc.LastObjectDocumentHash, doc.Hash) {
		telemetry.ObserveHashChainBroken(s.Name)
		return model.StreamDocument{}, "", false, errs.New(errs.KindHashChainBroken,
			"stream %q lastObjectDocumentHash %q does not match document hash %q",
			doc.Active.StreamIdentifier, streamDoc.LastObjectDocumentHash, doc.Hash)
	}
	return streamDoc, props.ETag, false, nil
}

// chunkWrite is one physical chunk blob write planned by planChunkWrites:
// the events landing in that chunk, and whether it is a successor chunk
// opened by this append (true for every write after the first).
type chunkWrite struct {
	chunkID uint32
	events  []model.Event
	isNew   bool
}

// planChunkWrites computes, without touching storage, how events split
// across the tail of the current chunk and as many successor chunks as
// needed (spec §4.3 step 5), keeping chunk version ranges continuous
// (invariant I3). It returns the physical writes required and the resulting
// StreamChunks doc.Active should carry once they all succeed.
func planChunkWrites(existing []model.StreamChunk, events []model.Event, chunkSize int) ([]chunkWrite, []model.StreamChunk) {
	chunks := append([]model.StreamChunk(nil), existing...)
	if len(chunks) == 0 {
		chunks = []model.StreamChunk{{ChunkIdentifier: 0, FirstEventVersion: events[0].EventVersion, LastEventVersion: events[0].EventVersion - 1}}
	}
	activeChunk := chunks[len(chunks)-1]

	var writes []chunkWrite
	remaining := events
	first := true

	for len(remaining) > 0 {
		capacity := chunkSize - int(activeChunk.LastEventVersion-activeChunk.FirstEventVersion+1)
		if capacity < 0 {
			capacity = 0
		}
		n := len(remaining)
		rolling := false
		if n > capacity {
			n = capacity
			rolling = true
		}

		head := remaining[:n]
		remaining = remaining[n:]

		if len(head) > 0 {
			activeChunk.LastEventVersion = head[len(head)-1].EventVersion
		}
		chunks[len(chunks)-1] = activeChunk
		writes = append(writes, chunkWrite{chunkID: activeChunk.ChunkIdentifier, events: head, isNew: !first})
		first = false

		if !rolling || len(remaining) == 0 {
			break
		}

		nextChunkID := activeChunk.ChunkIdentifier + 1
		activeChunk = model.StreamChunk{
			ChunkIdentifier:   nextChunkID,
			FirstEventVersion: remaining[0].EventVersion,
			LastEventVersion:  remaining[0].EventVersion - 1,
		}
		chunks = append(chunks, activeChunk)
	}

	return writes, chunks
}

// uploadChunks performs the physical writes planned by planChunkWrites. The
// first write reuses the caller's already-resolved path/etag/isNew for the
// current chunk; every subsequent write is a brand-new chunk blob.
func (s *Store) uploadChunks(
	ctx context.Context,
	doc *model.ObjectDocument,
	streamDoc *model.StreamDocument,
	currentPath, currentETag string,
	currentIsNew bool,
	writes []chunkWrite,
) error {
	lastHash := streamDoc.LastObjectDocumentHash

	for i, w := range writes {
		path, etag, isNew := currentPath, currentETag, currentIsNew
		if i > 0 {
			telemetry.ObserveChunkRoll(s.Name)
			chunkID := w.chunkID
			path = ResolveStreamPath(doc.ObjectName, doc.Active, &chunkID)
			etag, isNew = "", true
			*streamDoc = model.StreamDocument{
				ObjectID:               doc.ObjectID,
				ObjectName:             doc.ObjectName,
				LastObjectDocumentHash: lastHash,
			}
		}

		streamDoc.Events = append(streamDoc.Events, w.events...)
		if err := s.upload(ctx, path, *streamDoc, etag, isNew); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upload(ctx context.Context, path string, doc model.StreamDocument, etag string, isNew bool) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errs.Wrap(errs.KindProcessingError, err, "marshaling stream document")
	}
	cond := blob.Conditions{IfMatch: etag}
	if isNew {
		cond = blob.Conditions{IfNoneMatchAny: true}
	}
	if _, err := s.Blob.UploadBytes(ctx, path, body, contentTypeJSON, cond); err != nil {
		if errs.Is(err, errs.KindConcurrencyConflict) {
			return errs.Wrap(errs.KindConcurrencyConflict, err, "concurrent writer raced append to %q", path)
		}
		return err
	}
	return nil
}

func tokensFor(doc *model.ObjectDocument, events []model.Event) []vtoken.Token {
	out := make([]vtoken.Token, len(events))
	for i, e := range events {
		out[i] = vtoken.Token{
			ObjectName: doc.ObjectName,
			ObjectID:   doc.ObjectID,
			StreamID:   doc.Active.StreamIdentifier,
			Version:    e.EventVersion,
		}
	}
	return out
}

// Read returns the events in [startVersion, endVersion] (inclusive, both
// optional) from the stream identified by doc.Active, or from chunk if
// non-nil. For a chunked stream with chunk nil, only the current (last)
// chunk is read. A missing blob returns (nil, nil), not an error (spec §4.3).
func (s *Store) Read(ctx context.Context, doc model.ObjectDocument, startVersion, endVersion *int64, chunk *uint32) ([]model.Event, error) {
	path := ResolveStreamPath(doc.ObjectName, doc.Active, chunk)

	exists, err := s.Blob.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	body, err := s.Blob.DownloadBytes(ctx, path, "")
	if err != nil {
		if errs.Is(err, errs.KindBlobNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var streamDoc model.StreamDocument
	if err := json.Unmarshal(body, &streamDoc); err != nil {
		return nil, errs.Wrap(errs.KindProcessingError, err, "unmarshaling stream document at %q", path)
	}

	var out []model.Event
	for _, e := range streamDoc.Events {
		if startVersion != nil && e.EventVersion < *startVersion {
			continue
		}
		if endVersion != nil && e.EventVersion > *endVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
