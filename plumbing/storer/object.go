package storer

import (
	"errors"
	"io"

	"github.com/sourcegit-oss/packvault/plumbing"
)

// ErrStop is used to stop a ForEach function in an Iter.
var ErrStop = errors.New("stop iter")

// EncodedObjectStorer generic storage of objects.
type EncodedObjectStorer interface {
	// NewEncodedObject returns a new no initialized EncodedObject.
	NewEncodedObject() plumbing.EncodedObject
	// SetEncodedObject saves an object into the storage, the object should
	// be create with the NewEncodedObject, method, and file if the type
	// is not supported.
	SetEncodedObject(plumbing.EncodedObject) (plumbing.Hash, error)
	// EncodedObject gets an object by hash with the given
	// plumbing.ObjectType. Implementors should return
	// (nil, plumbing.ErrObjectNotFound) if an object cannot be found.
	EncodedObject(plumbing.ObjectType, plumbing.Hash) (plumbing.EncodedObject, error)
	// IterEncodedObjects returns a EncodedObjectIter for the given
	// plumbing.ObjectType. The iterator returned is not thread-safe, it
	// should be used in the same thread as the repository.
	IterEncodedObjects(plumbing.ObjectType) (EncodedObjectIter, error)
	// HasEncodedObject returns plumbing.ErrObjectNotFound if the object doesn't
	// exist. If exists, error will be nil.
	HasEncodedObject(plumbing.Hash) error
	// EncodedObjectSize returns the plaintext size of the encoded object.
	EncodedObjectSize(plumbing.Hash) (int64, error)
}

// RawObjectStorer is an optional interface for EncodedObjectStorer
// implementations that can write a new encoded object without first
// buffering it in memory, for use with large objects.
type RawObjectStorer interface {
	// RawObjectWriter returns an io.WriteCloser that the caller should
	// write the object content to. The object is stored only once
	// Close returns a nil error.
	RawObjectWriter(t plumbing.ObjectType, size int64) (w io.WriteCloser, err error)
}

// DeltaObjectStorer is implemented by storers that can return delta
// objects without resolving them against their base.
type DeltaObjectStorer interface {
	// DeltaObject is the same as EncodedObject, but it also provides
	// delta objects without resolving them against their base.
	DeltaObject(plumbing.ObjectType, plumbing.Hash) (plumbing.EncodedObject, error)
}

// Transaction is an in-progress write operation to an EncodedObjectStorer
// that can be committed or rolled back as a unit.
type Transaction interface {
	SetEncodedObject(plumbing.EncodedObject) (plumbing.Hash, error)
	EncodedObject(plumbing.ObjectType, plumbing.Hash) (plumbing.EncodedObject, error)
	Commit() error
	Rollback() error
}

// Transactioner is implemented by storers that support object writes
// grouped into an atomic, rollback-able transaction.
type Transactioner interface {
	Begin() Transaction
}

// PackfileWriter is implemented by storers that can write a packfile
// directly, bypassing the object-by-object SetEncodedObject path.
type PackfileWriter interface {
	// PackfileWriter returns a writer for the whole packfile plus its
	// index. It's expected that the user writes the whole packfile and
	// closes the writer.
	PackfileWriter() (io.WriteCloser, error)
}

// EncodedObjectIter is a generic closable interface for iterating over
// EncodedObject.
type EncodedObjectIter interface {
	Next() (plumbing.EncodedObject, error)
	ForEach(func(plumbing.EncodedObject) error) error
	Close()
}

type encodedObjectSliceIter struct {
	series []plumbing.EncodedObject
}

// NewEncodedObjectSliceIter returns an object iterator for the given slice of
// objects.
func NewEncodedObjectSliceIter(series []plumbing.EncodedObject) EncodedObjectIter {
	return &encodedObjectSliceIter{series: series}
}

func (iter *encodedObjectSliceIter) Next() (plumbing.EncodedObject, error) {
	if len(iter.series) == 0 {
		return nil, io.EOF
	}

	obj := iter.series[0]
	iter.series = iter.series[1:]
	return obj, nil
}

func (iter *encodedObjectSliceIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for _, o := range iter.series {
		if err := cb(o); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (iter *encodedObjectSliceIter) Close() {
	iter.series = nil
}

type encodedObjectLookupIter struct {
	storer EncodedObjectStorer
	t      plumbing.ObjectType
	series []plumbing.Hash
	pos    int
}

// NewEncodedObjectLookupIter returns an object iterator given a Storer and a
// slice of object hashes.
func NewEncodedObjectLookupIter(
	storer EncodedObjectStorer, t plumbing.ObjectType, series []plumbing.Hash,
) EncodedObjectIter {
	return &encodedObjectLookupIter{storer: storer, t: t, series: series}
}

func (iter *encodedObjectLookupIter) Next() (plumbing.EncodedObject, error) {
	if iter.pos >= len(iter.series) {
		return nil, io.EOF
	}

	obj, err := iter.storer.EncodedObject(iter.t, iter.series[iter.pos])
	if err != nil {
		return nil, err
	}

	iter.pos++
	return obj, err
}

func (iter *encodedObjectLookupIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for {
		obj, err := iter.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(obj); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (iter *encodedObjectLookupIter) Close() {
	iter.pos = len(iter.series)
}

type multiEncodedObjectIter struct {
	iters []EncodedObjectIter
	pos   int
}

// NewMultiEncodedObjectIter returns an iterator that traverses several
// EncodedObjectIter in order, as if they were a single concatenated one.
func NewMultiEncodedObjectIter(iters []EncodedObjectIter) EncodedObjectIter {
	return &multiEncodedObjectIter{iters: iters}
}

func (iter *multiEncodedObjectIter) Next() (plumbing.EncodedObject, error) {
	if iter.pos >= len(iter.iters) {
		return nil, io.EOF
	}

	obj, err := iter.iters[iter.pos].Next()
	if err == io.EOF {
		iter.pos++
		return iter.Next()
	}
	return obj, err
}

func (iter *multiEncodedObjectIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for {
		obj, err := iter.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(obj); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
}

func (iter *multiEncodedObjectIter) Close() {
	for _, i := range iter.iters {
		i.Close()
	}
}
