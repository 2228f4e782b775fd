package filesystem

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/cache"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

type ObjectStorageSuite struct {
	suite.Suite
}

func TestObjectStorageSuite(t *testing.T) {
	suite.Run(t, new(ObjectStorageSuite))
}

func (s *ObjectStorageSuite) blob(content []byte) plumbing.EncodedObject {
	obj := &plumbing.MemoryObject{}
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	_, err := obj.Write(content)
	s.Require().NoError(err)
	return obj
}

// TestPackedObjectsAreFoundAfterWritePack writes a handful of loose
// objects, packs them, and confirms lookups still resolve every one
// from the new pack, and that IterEncodedObjects sees them as well.
func (s *ObjectStorageSuite) TestPackedObjectsAreFoundAfterWritePack() {
	storage := NewStorage(memfs.New(), hash.SHA1, cache.NewObjectLRUDefault())
	s.Require().NoError(storage.Init())

	var hashes []plumbing.Hash
	for _, c := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		h, err := storage.SetEncodedObject(s.blob(c))
		s.Require().NoError(err)
		hashes = append(hashes, h)
	}

	checksum, err := storage.WritePack(storage, hashes, 10, false)
	s.Require().NoError(err)
	s.False(checksum.IsZero())

	for _, h := range hashes {
		s.Require().NoError(storage.DeleteLooseObject(h))
	}

	for _, h := range hashes {
		obj, err := storage.EncodedObject(plumbing.BlobObject, h)
		s.Require().NoError(err)
		s.Equal(plumbing.BlobObject, obj.Type())
	}

	packs, err := storage.ObjectPacks()
	s.Require().NoError(err)
	s.Equal([]plumbing.Hash{checksum}, packs)

	iter, err := storage.IterEncodedObjects(plumbing.BlobObject)
	s.Require().NoError(err)
	defer iter.Close()

	seen := map[plumbing.Hash]struct{}{}
	s.Require().NoError(iter.ForEach(func(obj plumbing.EncodedObject) error {
		seen[obj.Hash()] = struct{}{}
		return nil
	}))
	for _, h := range hashes {
		s.Contains(seen, h)
	}
}

func (s *ObjectStorageSuite) TestHashesWithPrefixFindsPackedObjects() {
	storage := NewStorage(memfs.New(), hash.SHA1, cache.NewObjectLRUDefault())
	s.Require().NoError(storage.Init())

	h, err := storage.SetEncodedObject(s.blob([]byte("findable")))
	s.Require().NoError(err)

	_, err = storage.WritePack(storage, []plumbing.Hash{h}, 10, false)
	s.Require().NoError(err)
	s.Require().NoError(storage.DeleteLooseObject(h))

	matches, err := storage.HashesWithPrefix(h.Bytes()[:2])
	s.Require().NoError(err)
	s.Contains(matches, h)
}

func (s *ObjectStorageSuite) TestEncodedObjectSizePacked() {
	storage := NewStorage(memfs.New(), hash.SHA1, cache.NewObjectLRUDefault())
	s.Require().NoError(storage.Init())

	content := []byte("size me up")
	h, err := storage.SetEncodedObject(s.blob(content))
	s.Require().NoError(err)

	_, err = storage.WritePack(storage, []plumbing.Hash{h}, 10, false)
	s.Require().NoError(err)
	s.Require().NoError(storage.DeleteLooseObject(h))

	size, err := storage.EncodedObjectSize(h)
	s.Require().NoError(err)
	s.Equal(int64(len(content)), size)
}
