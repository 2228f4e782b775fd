// Package objfile implements the loose object format: one zlib-deflated
// file per object, holding the object's "<type> <size>\0<payload>"
// stream exactly as hashed to produce its ObjectID.
package objfile

import "errors"

var (
	// ErrOverflow is returned by Writer.Write when more bytes are
	// written than were declared in the preceding WriteHeader call.
	ErrOverflow = errors.New("declared data length exceeded")
	// ErrNegativeSize is returned by Writer.WriteHeader for a negative
	// size argument.
	ErrNegativeSize = errors.New("negative object size")
	// ErrHeaderCorrupted is returned by Reader.Header when the object's
	// header cannot be parsed.
	ErrHeaderCorrupted = errors.New("corrupted object header")
)
