package dotgit

import (
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
	"github.com/sourcegit-oss/packvault/storage/memory"
)

type DotGitSuite struct {
	suite.Suite
}

func TestDotGitSuite(t *testing.T) {
	suite.Run(t, new(DotGitSuite))
}

func (s *DotGitSuite) newDotGit() *DotGit {
	fs := memfs.New()
	d := New(fs, hash.SHA1)
	s.Require().NoError(d.Init())
	return d
}

func (s *DotGitSuite) writeObject(d *DotGit, content []byte) plumbing.Hash {
	w, err := d.NewObject()
	s.Require().NoError(err)

	s.Require().NoError(w.WriteHeader(plumbing.BlobObject, int64(len(content))))
	_, err = w.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(w.Close())

	return w.Hash()
}

func (s *DotGitSuite) TestNewObjectRoundTrips() {
	d := s.newDotGit()
	h := s.writeObject(d, []byte("hello loose object"))

	f, err := d.Object(h)
	s.Require().NoError(err)
	defer f.Close()

	got, err := io.ReadAll(f)
	s.Require().NoError(err)
	s.NotEmpty(got)
}

func (s *DotGitSuite) TestObjectsListsEveryLooseObject() {
	d := s.newDotGit()
	h1 := s.writeObject(d, []byte("first"))
	h2 := s.writeObject(d, []byte("second, a bit longer"))

	objs, err := d.Objects()
	s.Require().NoError(err)
	s.ElementsMatch([]plumbing.Hash{h1, h2}, objs)
}

func (s *DotGitSuite) TestObjectDeleteRemovesLooseObject() {
	d := s.newDotGit()
	h := s.writeObject(d, []byte("to be deleted"))

	s.Require().NoError(d.ObjectDelete(h))

	_, err := d.Object(h)
	s.Error(err)
}

func (s *DotGitSuite) TestNewObjectPackWritesPackIdxAndRev() {
	d := s.newDotGit()
	store := memory.NewStorage()

	var hashes []plumbing.Hash
	for _, c := range [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")} {
		obj := &plumbing.MemoryObject{}
		obj.SetType(plumbing.BlobObject)
		obj.SetSize(int64(len(c)))
		_, err := obj.Write(c)
		s.Require().NoError(err)

		h, err := store.SetEncodedObject(obj)
		s.Require().NoError(err)
		hashes = append(hashes, h)
	}

	checksum, err := d.NewObjectPack(store, hashes, 10, false)
	s.Require().NoError(err)
	s.False(checksum.IsZero())

	packs, err := d.ObjectPacks()
	s.Require().NoError(err)
	s.Equal([]plumbing.Hash{checksum}, packs)

	pack, err := d.ObjectPack(checksum)
	s.Require().NoError(err)
	s.Require().NoError(pack.Close())

	idx, err := d.ObjectPackIdx(checksum)
	s.Require().NoError(err)
	s.Require().NoError(idx.Close())

	rev, err := d.ObjectPackRev(checksum)
	s.Require().NoError(err)
	s.Require().NoError(rev.Close())
}

func (s *DotGitSuite) TestObjectPackNotFound() {
	d := s.newDotGit()

	_, err := d.ObjectPack(plumbing.NewHash("aaaa0000000000000000000000000000000000aa"))
	s.ErrorIs(err, ErrPackfileNotFound)

	_, err = d.ObjectPackIdx(plumbing.NewHash("aaaa0000000000000000000000000000000000aa"))
	s.ErrorIs(err, ErrIdxNotFound)
}
