// Package vtoken encodes and decodes the version token used to address a
// specific version of a specific stream of a specific object (spec §4.8,
// §6): "{objectName}__{objectId}__{streamId}__{version:020}".
package vtoken

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eventledger/eventledger/errs"
)

const separator = "__"

// Token identifies one (objectName, objectId, streamId) coordinate at a
// specific stream version.
type Token struct {
	ObjectName string
	ObjectID   string
	StreamID   string
	Version    int64
}

// Encode renders t as "{objectName}__{objectId}__{streamId}__{version:020}".
func (t Token) Encode() string {
	return strings.Join([]string{t.ObjectName, t.ObjectID, t.StreamID}, separator) +
		separator + fmt.Sprintf("%020d", t.Version)
}

// String implements fmt.Stringer in terms of Encode.
func (t Token) String() string { return t.Encode() }

// Decode parses a version token previously produced by Encode.
func Decode(s string) (Token, error) {
	parts := strings.Split(s, separator)
	if len(parts) != 4 {
		return Token{}, errs.New(errs.KindArgumentInvalid, "malformed version token %q", s)
	}
	version, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Token{}, errs.Wrap(errs.KindArgumentInvalid, err, "malformed version in token %q", s)
	}
	return Token{ObjectName: parts[0], ObjectID: parts[1], StreamID: parts[2], Version: version}, nil
}

// ObjectIdentifier is the "{objectName}__{objectId}" key used by a
// projection checkpoint mapping (spec §4.8).
func ObjectIdentifier(objectName, objectID string) string {
	return objectName + separator + objectID
}
