package plumbing

import (
	"bytes"
	"errors"
	"io"

	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// ErrReadOnlyObject is returned when attempting to Write to a
// MemoryObject after its Hash has already been computed.
var ErrReadOnlyObject = errors.New("memory object is read-only once hashed")

// MemoryObject is an in-memory implementation of EncodedObject, used as
// the staging representation for objects before they are persisted to
// loose or packed storage.
type MemoryObject struct {
	t    ObjectType
	h    Hash
	cont []byte
	sz   int64

	format hash.ObjectFormat
}

// NewMemoryObject returns an empty, writable MemoryObject.
func NewMemoryObject() *MemoryObject {
	return &MemoryObject{}
}

// Hash returns the object's content-derived identifier, computing it
// lazily from the current type/content if not already known.
func (o *MemoryObject) Hash() Hash {
	if o.h.IsZero() && len(o.cont) > 0 {
		format := o.format
		if format == hash.UnsetObjectFormat {
			format = hash.SHA1
		}
		h := NewHasher(format, o.t, o.sz)
		h.Write(o.cont)
		o.h = h.Sum()
	}
	return o.h
}

// Type returns the object's type.
func (o *MemoryObject) Type() ObjectType { return o.t }

// SetType sets the object's type.
func (o *MemoryObject) SetType(t ObjectType) { o.t = t }

// Size returns the size, in bytes, of the object's uncompressed content.
func (o *MemoryObject) Size() int64 { return o.sz }

// SetSize preallocates the content buffer; Write calls must still supply
// exactly that many bytes.
func (o *MemoryObject) SetSize(s int64) {
	o.sz = s
	if cap(o.cont) < int(s) {
		o.cont = make([]byte, 0, s)
	}
}

// Reader returns a new reader over the object's content.
func (o *MemoryObject) Reader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(o.cont)), nil
}

// Writer returns a writer that appends to the object's content buffer.
func (o *MemoryObject) Writer() (io.WriteCloser, error) {
	return &memoryObjectWriter{o}, nil
}

// Write appends p to the object's content and updates its size. It
// returns ErrReadOnlyObject once the object's Hash has been computed.
func (o *MemoryObject) Write(p []byte) (int, error) {
	if !o.h.IsZero() {
		return 0, ErrReadOnlyObject
	}
	o.cont = append(o.cont, p...)
	o.sz = int64(len(o.cont))
	return len(p), nil
}

// Content returns the object's full content.
func (o *MemoryObject) Content() []byte { return o.cont }

type memoryObjectWriter struct {
	o *MemoryObject
}

func (w *memoryObjectWriter) Write(p []byte) (int, error) { return w.o.Write(p) }
func (w *memoryObjectWriter) Close() error                { return nil }
