package hashchain_test

import (
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/hashchain"
	"github.com/eventledger/eventledger/model"
)

// fixtureDocument is the anchor vector spec §9 requires implementers to
// document and test their canonicalization against. Changing any field
// name, tag, or struct field order in package model is a breaking change
// to the hash chain and must update this snapshot deliberately.
func fixtureDocument() model.ObjectDocument {
	return model.ObjectDocument{
		ObjectID:   "o-1",
		ObjectName: "order",
		Active: model.StreamInformation{
			StreamIdentifier:     "o-1",
			StreamType:           "blob",
			CurrentStreamVersion: 2,
			DataStore:            "blob",
			ChunkSettings:        &model.ChunkSettings{EnableChunks: true, ChunkSize: 100},
			StreamChunks: []model.StreamChunk{
				{ChunkIdentifier: 0, FirstEventVersion: 0, LastEventVersion: 2},
			},
		},
		SchemaVersion: "1.0",
		Hash:          "",
		PrevHash:      "",
	}
}

func TestCanonicalizeAnchorVector(t *testing.T) {
	body, err := hashchain.Canonicalize(fixtureDocument())
	require.NoError(t, err)

	// cupaloy pins the exact canonical byte string; any unintended change
	// to model.ObjectDocument's field order, tags, or omitempty rules
	// fails this snapshot instead of silently shifting the hash chain.
	// First run: UPDATE_SNAPSHOTS=true go test ./hashchain/... to record it.
	cupaloy.SnapshotT(t, string(body))

	digest := hashchain.Sum(body)
	require.Len(t, digest, 64, "SHA-256 hex digest is 64 characters")

	again, err := hashchain.Canonicalize(fixtureDocument())
	require.NoError(t, err)
	require.Equal(t, digest, hashchain.Sum(again), "canonicalization must be deterministic across calls")
}

func TestLinksTo(t *testing.T) {
	require.True(t, hashchain.LinksTo(model.HashAnySentinel, "abc"))
	require.True(t, hashchain.LinksTo("abc", "abc"))
	require.True(t, hashchain.LinksTo("abc", ""))
	require.False(t, hashchain.LinksTo("abc", "def"))
}
