package memory

import (
	"errors"
	"io"
	"time"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// ErrUnsupportedObjectType is returned by SetEncodedObject for a type
// outside commit/tree/blob/tag.
var ErrUnsupportedObjectType = errors.New("unsupported object type")

// ObjectStorage is an in-memory, non-persistent implementation of
// storer.EncodedObjectStorer. It exists mainly for tests and for
// building a pack entirely in memory before it's written out.
type ObjectStorage struct {
	format  hash.ObjectFormat
	Objects map[plumbing.Hash]plumbing.EncodedObject
	Commits map[plumbing.Hash]plumbing.EncodedObject
	Trees   map[plumbing.Hash]plumbing.EncodedObject
	Blobs   map[plumbing.Hash]plumbing.EncodedObject
	Tags    map[plumbing.Hash]plumbing.EncodedObject
}

func newObjectStorage(f hash.ObjectFormat) ObjectStorage {
	return ObjectStorage{
		format:  f,
		Objects: make(map[plumbing.Hash]plumbing.EncodedObject),
		Commits: make(map[plumbing.Hash]plumbing.EncodedObject),
		Trees:   make(map[plumbing.Hash]plumbing.EncodedObject),
		Blobs:   make(map[plumbing.Hash]plumbing.EncodedObject),
		Tags:    make(map[plumbing.Hash]plumbing.EncodedObject),
	}
}

// NewEncodedObject returns a new, unpopulated MemoryObject.
func (o *ObjectStorage) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject stores obj, keyed by its own Hash, and indexes it
// by type.
func (o *ObjectStorage) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	h := obj.Hash()
	o.Objects[h] = obj

	switch obj.Type() {
	case plumbing.CommitObject:
		o.Commits[h] = obj
	case plumbing.TreeObject:
		o.Trees[h] = obj
	case plumbing.BlobObject:
		o.Blobs[h] = obj
	case plumbing.TagObject:
		o.Tags[h] = obj
	default:
		return h, ErrUnsupportedObjectType
	}

	return h, nil
}

// HasEncodedObject reports whether h is stored.
func (o *ObjectStorage) HasEncodedObject(h plumbing.Hash) error {
	if _, ok := o.Objects[h]; !ok {
		return plumbing.ErrObjectNotFound
	}
	return nil
}

// EncodedObjectSize returns the plaintext size of the object at h.
func (o *ObjectStorage) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	obj, ok := o.Objects[h]
	if !ok {
		return 0, plumbing.ErrObjectNotFound
	}
	return obj.Size(), nil
}

// EncodedObject returns the object at h, checked against t unless t is
// plumbing.AnyObject.
func (o *ObjectStorage) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, ok := o.Objects[h]
	if !ok || (t != plumbing.AnyObject && obj.Type() != t) {
		return nil, plumbing.ErrObjectNotFound
	}
	return obj, nil
}

// IterEncodedObjects returns an iterator over every stored object of
// type t, or every object if t is plumbing.AnyObject.
func (o *ObjectStorage) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	var series []plumbing.EncodedObject
	switch t {
	case plumbing.AnyObject:
		series = flatten(o.Objects)
	case plumbing.CommitObject:
		series = flatten(o.Commits)
	case plumbing.TreeObject:
		series = flatten(o.Trees)
	case plumbing.BlobObject:
		series = flatten(o.Blobs)
	case plumbing.TagObject:
		series = flatten(o.Tags)
	}

	return storer.NewEncodedObjectSliceIter(series), nil
}

func flatten(m map[plumbing.Hash]plumbing.EncodedObject) []plumbing.EncodedObject {
	out := make([]plumbing.EncodedObject, 0, len(m))
	for _, obj := range m {
		out = append(out, obj)
	}
	return out
}

// ForEachObjectHash calls fun for every stored object hash, stopping
// early without error if fun returns storer.ErrStop.
func (o *ObjectStorage) ForEachObjectHash(fun func(plumbing.Hash) error) error {
	for h := range o.Objects {
		if err := fun(h); err != nil {
			if errors.Is(err, storer.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

type lazyCloser struct {
	storage *ObjectStorage
	obj     plumbing.EncodedObject
	closer  io.Closer
}

func (c *lazyCloser) Close() error {
	if err := c.closer.Close(); err != nil {
		return err
	}
	_, err := c.storage.SetEncodedObject(c.obj)
	return err
}

type rawObjectWriter struct {
	io.Writer
	closer io.Closer
}

func (w *rawObjectWriter) Close() error { return w.closer.Close() }

// RawObjectWriter returns a writer that, once closed, stores the object
// it was written to under its computed hash.
func (o *ObjectStorage) RawObjectWriter(t plumbing.ObjectType, size int64) (io.WriteCloser, error) {
	obj := o.NewEncodedObject()
	obj.SetType(t)
	obj.SetSize(size)

	w, err := obj.Writer()
	if err != nil {
		return nil, err
	}

	return &rawObjectWriter{
		Writer: w,
		closer: &lazyCloser{storage: o, obj: obj, closer: w},
	}, nil
}

// Begin starts a transaction buffering writes until Commit.
func (o *ObjectStorage) Begin() storer.Transaction {
	return &txObjectStorage{
		storage: o,
		objects: make(map[plumbing.Hash]plumbing.EncodedObject),
	}
}

type txObjectStorage struct {
	storage *ObjectStorage
	objects map[plumbing.Hash]plumbing.EncodedObject
}

func (tx *txObjectStorage) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	h := obj.Hash()
	tx.objects[h] = obj
	return h, nil
}

func (tx *txObjectStorage) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	if obj, ok := tx.objects[h]; ok && (t == plumbing.AnyObject || obj.Type() == t) {
		return obj, nil
	}
	return tx.storage.EncodedObject(t, h)
}

func (tx *txObjectStorage) Commit() error {
	for _, obj := range tx.objects {
		if _, err := tx.storage.SetEncodedObject(obj); err != nil {
			return err
		}
	}
	return nil
}

func (tx *txObjectStorage) Rollback() error {
	tx.objects = nil
	return nil
}

var errNotSupported = errors.New("not supported by in-memory storage")

// ObjectPacks always returns an empty list: in-memory storage never
// groups objects into packs.
func (o *ObjectStorage) ObjectPacks() ([]plumbing.Hash, error) { return nil, nil }

// DeleteOldObjectPackAndIndex is a no-op for in-memory storage.
func (o *ObjectStorage) DeleteOldObjectPackAndIndex(plumbing.Hash, time.Time) error { return nil }

// LooseObjectTime returns errNotSupported: in-memory storage has no
// notion of a loose object's mtime.
func (o *ObjectStorage) LooseObjectTime(plumbing.Hash) (time.Time, error) {
	return time.Time{}, errNotSupported
}

// DeleteLooseObject returns errNotSupported: in-memory storage has no
// loose objects to delete.
func (o *ObjectStorage) DeleteLooseObject(plumbing.Hash) error { return errNotSupported }
