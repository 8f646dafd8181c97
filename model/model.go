// Package model holds the wire types persisted by the storage core
// (spec §3, §6). Field order matches declaration order, which is also the
// order encoding/json emits them in — this is the canonical form hashchain
// hashes over (see hashchain.Canonicalize).
package model

import "encoding/json"

// ChunkSettings configures whether and how a stream's event log blob is
// split into successive chunk blobs as it grows.
type ChunkSettings struct {
	EnableChunks bool `json:"enableChunks"`
	ChunkSize    int  `json:"chunkSize"`
}

// StreamChunk records the version range covered by one chunk blob.
type StreamChunk struct {
	ChunkIdentifier   uint32 `json:"chunkIdentifier"`
	FirstEventVersion int64  `json:"firstEventVersion"`
	LastEventVersion  int64  `json:"lastEventVersion"`
}

// SnapshotRef records one snapshot taken of a stream.
type SnapshotRef struct {
	UntilVersion int64  `json:"untilVersion"`
	Name         string `json:"name,omitempty"`
}

// StreamInformation describes one event stream owned by an ObjectDocument,
// either the current active stream or a historical, terminated one.
type StreamInformation struct {
	StreamIdentifier     string          `json:"streamIdentifier"`
	StreamType           string          `json:"streamType,omitempty"`
	CurrentStreamVersion int64           `json:"currentStreamVersion"`
	StreamConnectionName string          `json:"streamConnectionName,omitempty"`
	DataStore            string          `json:"dataStore,omitempty"`
	SnapShotConnectionName string        `json:"snapShotConnectionName,omitempty"`
	SnapShotStore        string          `json:"snapShotStore,omitempty"`
	DocumentTagConnectionName string     `json:"documentTagConnectionName,omitempty"`
	DocumentTagStore     string          `json:"documentTagStore,omitempty"`
	StreamTagConnectionName string       `json:"streamTagConnectionName,omitempty"`
	StreamTagStore       string          `json:"streamTagStore,omitempty"`
	ChunkSettings        *ChunkSettings  `json:"chunkSettings,omitempty"`
	StreamChunks         []StreamChunk   `json:"streamChunks,omitempty"`
	SnapShots            []SnapshotRef   `json:"snapShots,omitempty"`
	DocumentTagType      string          `json:"documentTagType,omitempty"`
	EventStreamTagType   string          `json:"eventStreamTagType,omitempty"`
	DocumentRefType      string          `json:"documentRefType,omitempty"`
}

// ObjectDocument is the authoritative per-object metadata record (spec §3).
type ObjectDocument struct {
	ObjectID          string              `json:"objectId"`
	ObjectName        string              `json:"objectName"`
	Active            StreamInformation   `json:"active"`
	TerminatedStreams []StreamInformation `json:"terminatedStreams,omitempty"`
	SchemaVersion     string              `json:"schemaVersion"`
	Hash              string              `json:"hash,omitempty"`
	PrevHash          string              `json:"prevHash,omitempty"`
	DocumentPath      string              `json:"documentPath,omitempty"`

	// ETag is the last-observed storage ETag for this document body. It is
	// not serialized; it is populated by document.Store on Get/Create/Set
	// so later Set calls can issue ifMatch uploads.
	ETag string `json:"-"`
}

// HashAnySentinel is the stream-side value meaning "unbound to any
// particular document revision" (spec §3, §4.2).
const HashAnySentinel = "*"

// DefaultEventSchemaVersion is omitted from serialized events (spec §3, §6).
const DefaultEventSchemaVersion int16 = 1

// Event is one recorded occurrence in a stream (spec §3). SchemaVersion
// defaults to DefaultEventSchemaVersion and is omitted from the wire form
// at that value; MarshalJSON/UnmarshalJSON implement that rule directly so
// every caller gets it for free instead of having to remember a helper.
type Event struct {
	Timestamp         string      `json:"timestamp"`
	Payload           string      `json:"payload"`
	EventType         string      `json:"type"`
	EventVersion      int64       `json:"version"`
	SchemaVersion     int16       `json:"-"`
	ExternalSequencer string      `json:"exseq,omitempty"`
	ActionMetadata    interface{} `json:"action,omitempty"`
	Metadata          interface{} `json:"metadata,omitempty"`
}

// eventWire is Event's on-the-wire shape; its field order fixes the order
// fields appear in a serialized stream blob.
type eventWire struct {
	Timestamp         string      `json:"timestamp"`
	Payload           string      `json:"payload"`
	EventType         string      `json:"type"`
	EventVersion      int64       `json:"version"`
	SchemaVersion     int16       `json:"schemaVersion,omitempty"`
	ExternalSequencer string      `json:"exseq,omitempty"`
	ActionMetadata    interface{} `json:"action,omitempty"`
	Metadata          interface{} `json:"metadata,omitempty"`
}

// MarshalJSON omits SchemaVersion when it equals DefaultEventSchemaVersion.
func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Timestamp:         e.Timestamp,
		Payload:           e.Payload,
		EventType:         e.EventType,
		EventVersion:      e.EventVersion,
		ExternalSequencer: e.ExternalSequencer,
		ActionMetadata:    e.ActionMetadata,
		Metadata:          e.Metadata,
	}
	if e.SchemaVersion != 0 && e.SchemaVersion != DefaultEventSchemaVersion {
		w.SchemaVersion = e.SchemaVersion
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores the default SchemaVersion when it was omitted.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Timestamp:         w.Timestamp,
		Payload:           w.Payload,
		EventType:         w.EventType,
		EventVersion:      w.EventVersion,
		ExternalSequencer: w.ExternalSequencer,
		ActionMetadata:    w.ActionMetadata,
		Metadata:          w.Metadata,
		SchemaVersion:     w.SchemaVersion,
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = DefaultEventSchemaVersion
	}
	return nil
}

// StreamDocument is the stored event log blob for one stream or chunk
// (spec §3).
type StreamDocument struct {
	ObjectID               string  `json:"objectId"`
	ObjectName             string  `json:"objectName"`
	LastObjectDocumentHash string  `json:"lastObjectDocumentHash"`
	Events                 []Event `json:"events"`
}

// TagDocument backs both the document-tag and stream-tag indices (spec §3).
type TagDocument struct {
	Tag       string   `json:"tag"`
	ObjectIDs []string `json:"objectIds"`
}
