// Package hashchain implements the canonical serialization and SHA-256
// chain linkage between an ObjectDocument and its stream head (spec §4.2,
// §9). The canonicalization is fixed to encoding/json's default output over
// model's lower-camel-tagged structs: Go's encoder never indents by
// default and always emits struct fields in declaration order, which is
// enough determinism for a single fixed Go type — no third-party canonical
// JSON library is used (see DESIGN.md for why none in the retrieval pack
// applies here).
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/eventledger/eventledger/model"
)

// Canonicalize returns the exact bytes that are hashed for doc: its JSON
// form with Hash cleared, since a document's hash cannot cover itself.
func Canonicalize(doc model.ObjectDocument) ([]byte, error) {
	// Hash over a copy with ETag zeroed; ETag is already excluded via
	// `json:"-"` but zeroing documents intent for anyone copying this
	// pattern into a sibling document-shaped type.
	doc.ETag = ""
	doc.Hash = ""
	return json.Marshal(doc)
}

// Sum computes the lowercase-hex SHA-256 digest of b.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DocumentHash canonicalizes and hashes doc in one step — the value that
// becomes doc.Hash after a successful upload (spec §4.2). The returned body
// is the one to upload: doc's JSON form carrying that hash, so a document
// loaded back from storage has the Hash it was written with.
func DocumentHash(doc model.ObjectDocument) (string, []byte, error) {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", nil, err
	}
	hash := Sum(canonical)
	doc.ETag = ""
	doc.Hash = hash
	body, err := json.Marshal(doc)
	if err != nil {
		return "", nil, err
	}
	return hash, body, nil
}

// NextHash computes the hash doc will carry after its next successful Set:
// PrevHash rolls forward to the current Hash, then the document (with its
// already-updated in-memory fields, e.g. Active's bumped version) is
// hashed. Both document.Store.Set and eventlog.Store.Append call this so a
// stream's lastObjectDocumentHash, written during Append, matches the
// document hash Set independently derives moments later from the same
// in-memory state (spec §4.2, §4.3).
func NextHash(doc model.ObjectDocument) (string, []byte, error) {
	doc.PrevHash = doc.Hash
	return DocumentHash(doc)
}

// LinksTo reports whether a stream's lastObjectDocumentHash is compatible
// with documentHash: either an exact match, the "any" sentinel, or the
// document side being empty (spec §4.3 step 3, §4.2).
func LinksTo(streamLastHash, documentHash string) bool {
	return streamLastHash == documentHash ||
		streamLastHash == model.HashAnySentinel ||
		documentHash == ""
}
