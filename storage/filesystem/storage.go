// Package filesystem is a storage backend that persists objects to
// disk in the standard loose-object-plus-pack layout.
package filesystem

import (
	"github.com/go-git/go-billy/v5"

	"github.com/sourcegit-oss/packvault/plumbing/cache"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
	"github.com/sourcegit-oss/packvault/storage/filesystem/dotgit"
)

// Storage is an object store that keeps its objects on disk, inside
// the given filesystem, in the standard objects/ layout: loose objects
// fanned out by hash prefix, plus any number of packs under
// objects/pack.
type Storage struct {
	fs  billy.Filesystem
	dir *dotgit.DotGit

	ObjectStorage
}

// Options holds configuration for the storage.
type Options struct {
	// KeepDescriptors makes file descriptors for opened packs be
	// reused rather than closed after every read. Callers must call
	// Close() to release them.
	KeepDescriptors bool
	// MaxOpenDescriptors is the max number of pack file descriptors to
	// keep open at once when KeepDescriptors is false. Zero means packs
	// are closed immediately after each read.
	MaxOpenDescriptors int
}

// NewStorage returns a new Storage backed by the given filesystem and
// cache, storing objects in the given hash format.
func NewStorage(fs billy.Filesystem, format hash.ObjectFormat, objectCache cache.Object) *Storage {
	return NewStorageWithOptions(fs, format, objectCache, Options{})
}

// NewStorageWithOptions returns a new Storage with extra options.
func NewStorageWithOptions(fs billy.Filesystem, format hash.ObjectFormat, objectCache cache.Object, ops Options) *Storage {
	dir := dotgit.New(fs, format)

	if objectCache == nil {
		objectCache = cache.NewObjectLRUDefault()
	}

	return &Storage{
		fs:  fs,
		dir: dir,

		ObjectStorage: *NewObjectStorageWithOptions(dir, objectCache, ops),
	}
}

// Filesystem returns the underlying filesystem.
func (s *Storage) Filesystem() billy.Filesystem {
	return s.fs
}

// Init creates the on-disk directory layout, ready to receive objects.
func (s *Storage) Init() error {
	return s.dir.Init()
}
