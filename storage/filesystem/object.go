// Package filesystem is a storage backend that persists objects to
// disk in the standard loose-object-plus-pack layout.
package filesystem

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/cache"
	"github.com/sourcegit-oss/packvault/plumbing/format/idxfile"
	"github.com/sourcegit-oss/packvault/plumbing/format/objfile"
	"github.com/sourcegit-oss/packvault/plumbing/format/packfile"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
	"github.com/sourcegit-oss/packvault/storage/filesystem/dotgit"
)

// ObjectStorage is an implementation of storer.EncodedObjectStorer that
// looks an object up first among loose objects, then across every pack
// under the repository's objects directory.
type ObjectStorage struct {
	options Options

	// objectCache caches recently loaded objects and delta bases.
	objectCache cache.Object

	dir   *dotgit.DotGit
	index map[plumbing.Hash]idxfile.Index
	muI   sync.RWMutex

	packList    []plumbing.Hash
	packListIdx int
	packfiles   map[plumbing.Hash]*packfile.Packfile
	muP         sync.RWMutex
}

// NewObjectStorage creates a new ObjectStorage with the given .git
// directory and cache.
func NewObjectStorage(dir *dotgit.DotGit, objectCache cache.Object) *ObjectStorage {
	return NewObjectStorageWithOptions(dir, objectCache, Options{})
}

// NewObjectStorageWithOptions creates a new ObjectStorage with extra
// options.
func NewObjectStorageWithOptions(dir *dotgit.DotGit, objectCache cache.Object, ops Options) *ObjectStorage {
	return &ObjectStorage{
		options:     ops,
		objectCache: objectCache,
		dir:         dir,
	}
}

func (s *ObjectStorage) requireIndex() error {
	s.muI.RLock()
	if s.index != nil {
		s.muI.RUnlock()
		return nil
	}
	s.muI.RUnlock()

	s.muI.Lock()
	defer s.muI.Unlock()

	if s.index != nil {
		return nil
	}

	s.index = make(map[plumbing.Hash]idxfile.Index)
	packs, err := s.dir.ObjectPacks()
	if err != nil {
		return err
	}

	for _, h := range packs {
		if err := s.loadIdxFile(h); err != nil {
			return err
		}
	}

	return nil
}

// Reindex forces the next lookup to rescan the pack directory, useful
// if packs changed on disk out-of-band.
func (s *ObjectStorage) Reindex() {
	s.muI.Lock()
	defer s.muI.Unlock()
	s.index = nil
}

func (s *ObjectStorage) loadIdxFile(h plumbing.Hash) error {
	f, err := s.dir.ObjectPackIdx(h)
	if err != nil {
		return err
	}

	idx, err := idxfile.NewReaderAtIndex(f, h.Size())
	if err != nil {
		return err
	}

	s.index[h] = idx
	return nil
}

// NewEncodedObject returns a new, empty MemoryObject.
func (s *ObjectStorage) NewEncodedObject() plumbing.EncodedObject {
	return plumbing.NewMemoryObject()
}

// RawObjectWriter returns a writer for a new loose object whose type
// and declared size are already known, avoiding an in-memory buffer.
func (s *ObjectStorage) RawObjectWriter(t plumbing.ObjectType, sz int64) (io.WriteCloser, error) {
	ow, err := s.dir.NewObject()
	if err != nil {
		return nil, err
	}

	if err := ow.WriteHeader(t, sz); err != nil {
		return nil, err
	}

	return ow, nil
}

// WritePack writes the given hashes, resolved from store, into a
// single new pack, delta-compressing against the given window.
// This is distinct from storer.PackfileWriter, which streams an
// already-encoded pack straight to disk; WritePack builds one from
// scratch via the delta selector.
func (s *ObjectStorage) WritePack(store storer.EncodedObjectStorer, hashes []plumbing.Hash, windowSize uint, useRefDeltas bool) (plumbing.Hash, error) {
	if err := s.requireIndex(); err != nil {
		return plumbing.ZeroHash, err
	}

	checksum, err := s.dir.NewObjectPack(store, hashes, windowSize, useRefDeltas)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	s.Reindex()
	return checksum, nil
}

// WritePackWithOptions is WritePack generalized over a full
// packfile.WriterOptions: a nonzero opts.PackSizeLimit splits the
// output across as many packs as the limit requires, and opts also
// carries the configurable chain depth, parallel search, compression
// level, and memory/cache caps that WritePack's fixed signature can't
// express. It returns the checksum of every pack written, in order.
func (s *ObjectStorage) WritePackWithOptions(store storer.EncodedObjectStorer, hashes []plumbing.Hash, opts packfile.WriterOptions) ([]plumbing.Hash, error) {
	if err := s.requireIndex(); err != nil {
		return nil, err
	}

	checksums, err := s.dir.NewObjectPackWithOptions(store, hashes, opts)
	if err != nil {
		return nil, err
	}

	s.Reindex()
	return checksums, nil
}

// WritePackFromCandidates is WritePackWithOptions for callers that have
// already built a packfile.ObjectTable directly, e.g. to register
// preferred delta bases before packing.
func (s *ObjectStorage) WritePackFromCandidates(store storer.EncodedObjectStorer, table *packfile.ObjectTable, opts packfile.WriterOptions) ([]plumbing.Hash, error) {
	if err := s.requireIndex(); err != nil {
		return nil, err
	}

	checksums, err := s.dir.NewObjectPackFromCandidates(store, table, opts)
	if err != nil {
		return nil, err
	}

	s.Reindex()
	return checksums, nil
}

// SetEncodedObject writes a new loose object to storage.
func (s *ObjectStorage) SetEncodedObject(o plumbing.EncodedObject) (plumbing.Hash, error) {
	if o.Type() == plumbing.OFSDeltaObject || o.Type() == plumbing.REFDeltaObject {
		return plumbing.ZeroHash, plumbing.ErrInvalidType
	}

	ow, err := s.dir.NewObject()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	or, err := o.Reader()
	if err != nil {
		_ = ow.Close()
		return plumbing.ZeroHash, err
	}
	defer or.Close()

	if err := ow.WriteHeader(o.Type(), o.Size()); err != nil {
		_ = ow.Close()
		return plumbing.ZeroHash, err
	}

	if _, err := io.Copy(ow, or); err != nil {
		_ = ow.Close()
		return plumbing.ZeroHash, err
	}

	if err := ow.Close(); err != nil {
		return plumbing.ZeroHash, err
	}

	return o.Hash(), nil
}

// HasEncodedObject returns nil if the object exists, without reading
// its content.
func (s *ObjectStorage) HasEncodedObject(h plumbing.Hash) error {
	f, err := s.dir.Object(h)
	if err == nil {
		return f.Close()
	}
	if !os.IsNotExist(err) {
		return err
	}

	if err := s.requireIndex(); err != nil {
		return err
	}
	if _, offset := s.findObjectInPackfile(h); offset != -1 {
		return nil
	}
	return plumbing.ErrObjectNotFound
}

// EncodedObjectSize returns the plaintext size of h. For a loose object
// only its header is read; a packed object is read (and any delta
// chain resolved) in full.
func (s *ObjectStorage) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	size, err := s.encodedObjectSizeFromUnpacked(h)
	if err == nil {
		return size, nil
	}
	if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return 0, err
	}

	return s.encodedObjectSizeFromPackfile(h)
}

func (s *ObjectStorage) encodedObjectSizeFromUnpacked(h plumbing.Hash) (int64, error) {
	f, err := s.dir.Object(h)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, plumbing.ErrObjectNotFound
		}
		return 0, err
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	_, size, err := r.Header()
	return size, err
}

func (s *ObjectStorage) encodedObjectSizeFromPackfile(h plumbing.Hash) (int64, error) {
	if err := s.requireIndex(); err != nil {
		return 0, err
	}

	pack, offset := s.findObjectInPackfile(h)
	if offset == -1 {
		return 0, plumbing.ErrObjectNotFound
	}

	s.muI.RLock()
	idx := s.index[pack]
	s.muI.RUnlock()

	p, err := s.packfile(idx, pack)
	if err != nil {
		return 0, err
	}
	if !s.options.KeepDescriptors {
		defer p.Close()
	}

	obj, err := p.GetByOffset(offset)
	if err != nil {
		return 0, err
	}
	return obj.Size(), nil
}

// EncodedObject returns the object with the given hash, checking loose
// storage before packs.
func (s *ObjectStorage) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, err := s.getFromUnpacked(h)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		obj, err = s.getFromPackfile(h)
	}
	if err != nil {
		return nil, err
	}

	if t != plumbing.AnyObject && obj.Type() != t {
		return nil, plumbing.ErrObjectNotFound
	}

	return obj, nil
}

// DeltaObject is like EncodedObject, except that a packed object is read
// by its offset in the pack. A delta entry is returned already resolved against its base; the
// unresolved delta is not available through this method.
func (s *ObjectStorage) DeltaObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, err := s.getFromUnpacked(h)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		if err := s.requireIndex(); err != nil {
			return nil, err
		}

		pack, offset := s.findObjectInPackfile(h)
		if offset == -1 {
			return nil, plumbing.ErrObjectNotFound
		}

		s.muI.RLock()
		idx := s.index[pack]
		s.muI.RUnlock()

		p, perr := s.packfile(idx, pack)
		if perr != nil {
			return nil, perr
		}
		if !s.options.KeepDescriptors {
			defer p.Close()
		}

		obj, err = p.GetByOffset(offset)
	}
	if err != nil {
		return nil, err
	}

	if t != plumbing.AnyObject && obj.Type() != t {
		return nil, plumbing.ErrObjectNotFound
	}

	return obj, nil
}

func (s *ObjectStorage) getFromUnpacked(h plumbing.Hash) (plumbing.EncodedObject, error) {
	if cached, ok := s.objectCache.Get(h); ok {
		return cached, nil
	}

	f, err := s.dir.Object(h)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.ErrObjectNotFound
		}
		return nil, err
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	t, size, err := r.Header()
	if err != nil {
		return nil, err
	}

	obj := s.NewEncodedObject()
	obj.SetType(t)
	obj.SetSize(size)

	w, err := obj.Writer()
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if _, err := io.Copy(w, r); err != nil {
		return nil, err
	}

	s.objectCache.Put(obj)
	return obj, nil
}

func (s *ObjectStorage) getFromPackfile(h plumbing.Hash) (plumbing.EncodedObject, error) {
	if err := s.requireIndex(); err != nil {
		return nil, err
	}

	pack, offset := s.findObjectInPackfile(h)
	if offset == -1 {
		return nil, plumbing.ErrObjectNotFound
	}

	s.muI.RLock()
	idx := s.index[pack]
	s.muI.RUnlock()

	p, err := s.packfile(idx, pack)
	if err != nil {
		return nil, err
	}
	if !s.options.KeepDescriptors {
		defer p.Close()
	}

	return p.Get(h)
}

func (s *ObjectStorage) findObjectInPackfile(h plumbing.Hash) (plumbing.Hash, int64) {
	s.muI.RLock()
	defer s.muI.RUnlock()

	for pack, idx := range s.index {
		offset, err := idx.FindOffset(h)
		if err == nil {
			return pack, offset
		}
	}

	return plumbing.ZeroHash, -1
}

func (s *ObjectStorage) packfile(idx idxfile.Index, pack plumbing.Hash) (*packfile.Packfile, error) {
	if p := s.packfileFromCache(pack); p != nil {
		return p, nil
	}

	f, err := s.dir.ObjectPack(pack)
	if err != nil {
		return nil, err
	}

	p := packfile.NewPackfile(idx, f)

	return p, s.storePackfileInCache(pack, p)
}

func (s *ObjectStorage) packfileFromCache(hash plumbing.Hash) *packfile.Packfile {
	s.muP.Lock()
	defer s.muP.Unlock()

	if s.packfiles == nil {
		if s.options.KeepDescriptors {
			s.packfiles = make(map[plumbing.Hash]*packfile.Packfile)
		} else if s.options.MaxOpenDescriptors > 0 {
			s.packList = make([]plumbing.Hash, s.options.MaxOpenDescriptors)
			s.packfiles = make(map[plumbing.Hash]*packfile.Packfile, s.options.MaxOpenDescriptors)
		}
	}

	return s.packfiles[hash]
}

func (s *ObjectStorage) storePackfileInCache(hash plumbing.Hash, p *packfile.Packfile) error {
	s.muP.Lock()
	defer s.muP.Unlock()

	if s.options.KeepDescriptors {
		s.packfiles[hash] = p
		return nil
	}

	if s.options.MaxOpenDescriptors <= 0 {
		return nil
	}

	if s.packListIdx >= len(s.packList) {
		s.packListIdx = 0
	}

	if next := s.packList[s.packListIdx]; !next.IsZero() {
		open := s.packfiles[next]
		delete(s.packfiles, next)
		if open != nil {
			if err := open.Close(); err != nil {
				return err
			}
		}
	}

	s.packList[s.packListIdx] = hash
	s.packfiles[hash] = p
	s.packListIdx++

	return nil
}

// HashesWithPrefix returns every object, loose or packed, whose hash
// starts with prefix.
func (s *ObjectStorage) HashesWithPrefix(prefix []byte) ([]plumbing.Hash, error) {
	hashes, err := s.dir.ObjectsWithPrefix(prefix)
	if err != nil {
		return nil, err
	}
	seen := hashSet(hashes)

	if err := s.requireIndex(); err != nil {
		return nil, err
	}

	s.muI.RLock()
	defer s.muI.RUnlock()
	for _, idx := range s.index {
		ei, err := idx.Entries()
		if err != nil {
			return nil, err
		}
		for {
			e, err := ei.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			}
			if !e.Hash.HasPrefix(prefix) {
				continue
			}
			if _, ok := seen[e.Hash]; ok {
				continue
			}
			hashes = append(hashes, e.Hash)
			seen[e.Hash] = struct{}{}
		}
		ei.Close()
	}

	return hashes, nil
}

// IterEncodedObjects returns an iterator over every object of type t,
// loose objects first, then every pack in turn.
func (s *ObjectStorage) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	objects, err := s.dir.Objects()
	if err != nil {
		return nil, err
	}

	seen := hashSet(objects)
	var iters []storer.EncodedObjectIter
	if len(objects) != 0 {
		iters = append(iters, &objectsIter{s: s, t: t, h: objects})
	}

	packi, err := s.buildPackfileIters(t, seen)
	if err != nil {
		return nil, err
	}

	iters = append(iters, packi)
	return storer.NewMultiEncodedObjectIter(iters), nil
}

func (s *ObjectStorage) buildPackfileIters(t plumbing.ObjectType, seen map[plumbing.Hash]struct{}) (storer.EncodedObjectIter, error) {
	if err := s.requireIndex(); err != nil {
		return nil, err
	}

	packs, err := s.dir.ObjectPacks()
	if err != nil {
		return nil, err
	}

	return &lazyPackfilesIter{
		hashes: packs,
		open: func(h plumbing.Hash) (storer.EncodedObjectIter, error) {
			s.muI.RLock()
			idx := s.index[h]
			s.muI.RUnlock()

			f, err := s.dir.ObjectPack(h)
			if err != nil {
				return nil, err
			}

			return newPackfileIter(f, idx, t, seen, s.options.KeepDescriptors)
		},
	}, nil
}

// Close releases any packfiles kept open by KeepDescriptors or
// MaxOpenDescriptors.
func (s *ObjectStorage) Close() error {
	s.muP.Lock()
	defer s.muP.Unlock()

	var firstErr error
	for _, p := range s.packfiles {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.packfiles = nil

	return firstErr
}

// ForEachObjectHash calls fun for every loose object hash.
func (s *ObjectStorage) ForEachObjectHash(fun func(plumbing.Hash) error) error {
	return s.dir.ForEachObjectHash(fun)
}

// LooseObjectTime returns the modification time of the loose object h.
func (s *ObjectStorage) LooseObjectTime(h plumbing.Hash) (time.Time, error) {
	fi, err := s.dir.ObjectStat(h)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// DeleteLooseObject removes the loose object h from disk.
func (s *ObjectStorage) DeleteLooseObject(h plumbing.Hash) error {
	return s.dir.ObjectDelete(h)
}

// ObjectPacks returns the checksum of every pack on disk.
func (s *ObjectStorage) ObjectPacks() ([]plumbing.Hash, error) {
	return s.dir.ObjectPacks()
}

// DeleteOldObjectPackAndIndex removes the pack (and its index and
// reverse index) identified by h, provided it predates t.
func (s *ObjectStorage) DeleteOldObjectPackAndIndex(h plumbing.Hash, t time.Time) error {
	s.Reindex()
	return s.dir.DeleteOldObjectPackAndIndex(h, t)
}

func hashSet(l []plumbing.Hash) map[plumbing.Hash]struct{} {
	m := make(map[plumbing.Hash]struct{}, len(l))
	for _, h := range l {
		m[h] = struct{}{}
	}
	return m
}
