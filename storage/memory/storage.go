// Package memory implements an in-memory, non-persistent
// storer.EncodedObjectStorer, useful for tests and for staging a set of
// objects before packing them.
package memory

// Storage is an in-memory object store. Unlike the filesystem backend
// it never groups objects into packs on its own; its main uses are
// tests and holding the working set that a pack writer is about to
// emit.
type Storage struct {
	ObjectStorage
	options options
}

// NewStorage returns an empty in-memory Storage.
func NewStorage(o ...StorageOption) *Storage {
	opts := newOptions()
	for _, opt := range o {
		opt(&opts)
	}

	return &Storage{
		options:       opts,
		ObjectStorage: newObjectStorage(opts.objectFormat),
	}
}
