package memory

import (
	"io"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
)

type StorageSuite struct {
	suite.Suite
	s *Storage
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.s = NewStorage()
}

func newTestBlob(s *StorageSuite, content string) plumbing.EncodedObject {
	obj := s.s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))

	w, err := obj.Writer()
	s.Require().NoError(err)
	_, err = w.Write([]byte(content))
	s.Require().NoError(err)
	s.Require().NoError(w.Close())

	return obj
}

func (s *StorageSuite) TestSetAndGetEncodedObject() {
	obj := newTestBlob(s, "hello")
	h, err := s.s.SetEncodedObject(obj)
	s.Require().NoError(err)

	got, err := s.s.EncodedObject(plumbing.BlobObject, h)
	s.Require().NoError(err)
	s.Equal(obj, got)

	_, err = s.s.EncodedObject(plumbing.TreeObject, h)
	s.ErrorIs(err, plumbing.ErrObjectNotFound)
}

func (s *StorageSuite) TestHasAndSizeEncodedObject() {
	obj := newTestBlob(s, "world")
	h, err := s.s.SetEncodedObject(obj)
	s.Require().NoError(err)

	s.Require().NoError(s.s.HasEncodedObject(h))
	s.ErrorIs(s.s.HasEncodedObject(plumbing.ZeroHash), plumbing.ErrObjectNotFound)

	sz, err := s.s.EncodedObjectSize(h)
	s.Require().NoError(err)
	s.Equal(int64(5), sz)
}

func (s *StorageSuite) TestIterEncodedObjects() {
	_, err := s.s.SetEncodedObject(newTestBlob(s, "a"))
	s.Require().NoError(err)
	_, err = s.s.SetEncodedObject(newTestBlob(s, "b"))
	s.Require().NoError(err)

	iter, err := s.s.IterEncodedObjects(plumbing.BlobObject)
	s.Require().NoError(err)

	count := 0
	for {
		_, err := iter.Next()
		if err == io.EOF {
			break
		}
		s.Require().NoError(err)
		count++
	}
	s.Equal(2, count)
}

func (s *StorageSuite) TestRawObjectWriter() {
	w, err := s.s.RawObjectWriter(plumbing.BlobObject, 3)
	s.Require().NoError(err)
	_, err = w.Write([]byte("abc"))
	s.Require().NoError(err)
	s.Require().NoError(w.Close())

	s.Equal(1, len(s.s.Objects))
}

func (s *StorageSuite) TestTransactionCommit() {
	tx := s.s.Begin()
	h, err := tx.SetEncodedObject(newTestBlob(s, "staged"))
	s.Require().NoError(err)

	_, err = s.s.EncodedObject(plumbing.AnyObject, h)
	s.ErrorIs(err, plumbing.ErrObjectNotFound)

	s.Require().NoError(tx.Commit())

	_, err = s.s.EncodedObject(plumbing.AnyObject, h)
	s.Require().NoError(err)
}

func (s *StorageSuite) TestTransactionRollback() {
	tx := s.s.Begin()
	h, err := tx.SetEncodedObject(newTestBlob(s, "discarded"))
	s.Require().NoError(err)

	s.Require().NoError(tx.Rollback())
	s.Require().NoError(tx.Commit())

	_, err = s.s.EncodedObject(plumbing.AnyObject, h)
	s.ErrorIs(err, plumbing.ErrObjectNotFound)
}
