// Package apperr defines the error kinds shared by every Krate component.
//
// Each kind is a sentinel that callers test with errors.Is. Components wrap
// sentinels with fmt.Errorf("...: %w", apperr.ErrNotFound) so the kind
// survives through arbitrary wrapping while the message stays specific.
package apperr

import "errors"

var (
	// ErrInvalidArgument marks malformed or missing user input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthenticated marks a missing or unverifiable caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden marks a valid caller acting on a resource it does not own.
	ErrForbidden = errors.New("access denied")

	// ErrNotFound marks an id that does not resolve to a record.
	ErrNotFound = errors.New("not found")

	// ErrGone marks a share link whose expiry has passed.
	ErrGone = errors.New("gone")

	// ErrBlobWrite marks a failed write to the blob store.
	ErrBlobWrite = errors.New("blob write failed")

	// ErrBlobRead marks a failed read from the blob store.
	ErrBlobRead = errors.New("blob read failed")

	// ErrInternal marks an unexpected store failure.
	ErrInternal = errors.New("internal error")
)
