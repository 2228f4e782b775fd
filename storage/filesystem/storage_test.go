package filesystem

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/cache"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

type StorageSuite struct {
	suite.Suite
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) newStorage() *Storage {
	return NewStorage(memfs.New(), hash.SHA1, cache.NewObjectLRUDefault())
}

func (s *StorageSuite) TestImplementsInterfaces() {
	storage := s.newStorage()

	var _ storer.EncodedObjectStorer = storage
	var _ storer.RawObjectStorer = storage
	var _ storer.DeltaObjectStorer = storage
}

func (s *StorageSuite) TestFilesystem() {
	fs := memfs.New()
	storage := NewStorage(fs, hash.SHA1, cache.NewObjectLRUDefault())
	s.Same(fs, storage.Filesystem())
}

func (s *StorageSuite) TestInitCreatesObjectsDirectory() {
	storage := s.newStorage()
	s.Require().NoError(storage.Init())

	fi, err := storage.Filesystem().Stat("objects/pack")
	s.Require().NoError(err)
	s.True(fi.IsDir())
}

func (s *StorageSuite) TestSetAndGetEncodedObjectRoundTrips() {
	storage := s.newStorage()
	s.Require().NoError(storage.Init())

	obj := storage.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	content := []byte("round trip content")
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	s.Require().NoError(err)
	_, err = w.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(w.Close())

	h, err := storage.SetEncodedObject(obj)
	s.Require().NoError(err)

	got, err := storage.EncodedObject(plumbing.BlobObject, h)
	s.Require().NoError(err)
	s.Equal(int64(len(content)), got.Size())

	s.Require().NoError(storage.HasEncodedObject(h))
}

func (s *StorageSuite) TestEncodedObjectNotFound() {
	storage := s.newStorage()
	s.Require().NoError(storage.Init())

	_, err := storage.EncodedObject(plumbing.AnyObject, plumbing.NewHash("aaaa0000000000000000000000000000000000aa"))
	s.ErrorIs(err, plumbing.ErrObjectNotFound)
}
