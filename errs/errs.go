// Package errs defines the abstract error taxonomy shared by every store in
// this module (spec §7). Call sites distinguish kinds with errs.Is, never
// by inspecting message text.
package errs

import "fmt"

// Kind classifies a failure the way a caller is expected to react to it.
type Kind int

const (
	// KindUnknown is the zero value; never constructed directly.
	KindUnknown Kind = iota
	// KindArgumentInvalid marks a null/empty/malformed required input.
	KindArgumentInvalid
	// KindContainerNotFound marks a missing backing container.
	KindContainerNotFound
	// KindDocumentNotFound marks a missing ObjectDocument blob.
	KindDocumentNotFound
	// KindBlobNotFound marks any other missing blob (stream, snapshot, tag, lock).
	KindBlobNotFound
	// KindConcurrencyConflict marks a 412 precondition failure on append/update.
	KindConcurrencyConflict
	// KindHashChainBroken marks a stream whose lastObjectDocumentHash disagrees
	// with the document's current hash.
	KindHashChainBroken
	// KindLeaseLost marks a lease that expired or was broken mid-operation.
	KindLeaseLost
	// KindInvalidToken marks a null, expired, or mismatched rebuild token.
	KindInvalidToken
	// KindUnknownStoreType marks a configuration referencing an unregistered store key.
	KindUnknownStoreType
	// KindProcessingError marks a deserialization failure or other impossible state.
	KindProcessingError
	// KindContainerAutoCreateFailed marks a failed best-effort container creation.
	KindContainerAutoCreateFailed
)

func (k Kind) String() string {
	switch k {
	case KindArgumentInvalid:
		return "ArgumentInvalid"
	case KindContainerNotFound:
		return "ContainerNotFound"
	case KindDocumentNotFound:
		return "DocumentNotFound"
	case KindBlobNotFound:
		return "BlobNotFound"
	case KindConcurrencyConflict:
		return "ConcurrencyConflict"
	case KindHashChainBroken:
		return "HashChainBroken"
	case KindLeaseLost:
		return "LeaseLost"
	case KindInvalidToken:
		return "InvalidToken"
	case KindUnknownStoreType:
		return "UnknownStoreType"
	case KindProcessingError:
		return "ProcessingError"
	case KindContainerAutoCreateFailed:
		return "ContainerAutoCreateFailed"
	default:
		return "Unknown"
	}
}

// Error is the concrete error value carried through the store stack. It
// wraps an optional cause so errors.Unwrap / errors.Is keep working against
// the underlying blob-adapter error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a new *Error with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a new *Error around cause, preserving it for errors.Is/As chains.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
