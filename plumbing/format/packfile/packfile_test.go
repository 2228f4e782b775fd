package packfile

import (
	"bytes"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/format/idxfile"
	"github.com/sourcegit-oss/packvault/storage/memory"
)

type PackfileSuite struct {
	suite.Suite
}

func TestPackfileSuite(t *testing.T) {
	suite.Run(t, new(PackfileSuite))
}

// buildPackfile writes a pack containing a handful of blobs, two of
// them similar enough to trigger delta compression, and returns a
// Packfile plus the original contents keyed by hash.
func (s *PackfileSuite) buildPackfile(windowSize uint) (*Packfile, map[plumbing.Hash][]byte) {
	store := memory.NewStorage()

	contents := map[plumbing.Hash][]byte{}
	var hashes []plumbing.Hash
	for _, c := range [][]byte{
		bytes.Repeat([]byte("base blob content, repeated many times. "), 40),
		append(bytes.Repeat([]byte("base blob content, repeated many times. "), 40), []byte("a little bit extra")...),
		[]byte("an unrelated, much shorter blob"),
	} {
		obj := &plumbing.MemoryObject{}
		obj.SetType(plumbing.BlobObject)
		obj.SetSize(int64(len(c)))
		_, err := obj.Write(c)
		s.Require().NoError(err)

		h, err := store.SetEncodedObject(obj)
		s.Require().NoError(err)

		hashes = append(hashes, h)
		contents[h] = c
	}

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf, store, false)
	_, err := enc.Encode(hashes, windowSize)
	s.Require().NoError(err)

	w := &idxfile.Writer{}
	for _, h := range hashes {
		w.Add(h, enc.Offsets()[h], enc.CRCs()[h])
	}
	idx, err := w.CreateIndex()
	s.Require().NoError(err)

	fs := memfs.New()
	f, err := fs.Create("pack")
	s.Require().NoError(err)
	_, err = f.Write(buf.Bytes())
	s.Require().NoError(err)
	_, err = f.Seek(0, 0)
	s.Require().NoError(err)

	return NewPackfile(idx, f), contents
}

func (s *PackfileSuite) TestGetResolvesEveryObject() {
	pf, contents := s.buildPackfile(10)
	defer pf.Close()

	for h, want := range contents {
		obj, err := pf.Get(h)
		s.Require().NoError(err)
		s.Equal(plumbing.BlobObject, obj.Type())
		s.Equal(int64(len(want)), obj.Size())

		r, err := obj.Reader()
		s.Require().NoError(err)
		got := new(bytes.Buffer)
		_, err = got.ReadFrom(r)
		s.Require().NoError(err)
		s.Require().NoError(r.Close())
		s.Equal(want, got.Bytes())
	}
}

func (s *PackfileSuite) TestGetWithoutDeltaCompression() {
	pf, contents := s.buildPackfile(0)
	defer pf.Close()

	for h, want := range contents {
		obj, err := pf.Get(h)
		s.Require().NoError(err)

		r, err := obj.Reader()
		s.Require().NoError(err)
		got := new(bytes.Buffer)
		_, err = got.ReadFrom(r)
		s.Require().NoError(err)
		s.Require().NoError(r.Close())
		s.Equal(want, got.Bytes())
	}
}

func (s *PackfileSuite) TestGetAllIteratesEveryObject() {
	pf, contents := s.buildPackfile(10)
	defer pf.Close()

	iter, err := pf.GetAll()
	s.Require().NoError(err)
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(obj plumbing.EncodedObject) error {
		count++
		s.Equal(plumbing.BlobObject, obj.Type())
		return nil
	})
	s.Require().NoError(err)
	s.Equal(len(contents), count)
}

func (s *PackfileSuite) TestID() {
	pf, _ := s.buildPackfile(10)
	defer pf.Close()

	id, err := pf.ID()
	s.Require().NoError(err)
	s.False(id.IsZero())
}

// TestGetReturnsErrDeltaTooDeepOnPathologicalChain builds a pack whose
// objects form one long ref-delta chain, each one delta-encoded against
// the previous, deep enough to cross maxDeltaChainDepth. The writer's
// own delta search never produces chains this long (walk's depth cap
// keeps ordinary packs shallow), so this bypasses ObjectsToPack
// entirely and hands a hand-built chain straight to encode, to exercise
// the reader's independent safety net against a pathological or
// corrupt pack.
func (s *PackfileSuite) TestGetReturnsErrDeltaTooDeepOnPathologicalChain() {
	store := memory.NewStorage()

	const depth = maxDeltaChainDepth + 8

	hashes := make([]plumbing.Hash, depth+1)
	for i := 0; i <= depth; i++ {
		content := bytes.Repeat([]byte("x"), 50+i)
		obj := &plumbing.MemoryObject{}
		obj.SetType(plumbing.BlobObject)
		obj.SetSize(int64(len(content)))
		_, err := obj.Write(content)
		s.Require().NoError(err)

		h, err := store.SetEncodedObject(obj)
		s.Require().NoError(err)
		hashes[i] = h
	}

	selector := newDeltaSelector(store)
	otp := make([]*ObjectToPack, depth+1)
	otp[0] = newObjectToPack(store.Objects[hashes[0]])

	for i := 1; i <= depth; i++ {
		prevBase := otp[i-1]
		target := store.Objects[hashes[i]]

		deltaBytes, err := selector.delta(prevBase, newObjectToPack(target))
		s.Require().NoError(err)

		deltaObj := &plumbing.MemoryObject{}
		deltaObj.SetType(target.Type())
		deltaObj.SetSize(int64(len(deltaBytes)))
		_, err = deltaObj.Write(deltaBytes)
		s.Require().NoError(err)

		otp[i] = newDeltaObjectToPack(prevBase, target, deltaObj)
	}

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf, store, true) // ref-delta: resolution follows hashes, not offsets
	_, err := enc.encode(otp)
	s.Require().NoError(err)

	w := &idxfile.Writer{}
	for _, h := range hashes {
		w.Add(h, enc.Offsets()[h], enc.CRCs()[h])
	}
	idx, err := w.CreateIndex()
	s.Require().NoError(err)

	fs := memfs.New()
	f, err := fs.Create("pack")
	s.Require().NoError(err)
	_, err = f.Write(buf.Bytes())
	s.Require().NoError(err)
	_, err = f.Seek(0, 0)
	s.Require().NoError(err)

	pf := NewPackfile(idx, f)
	defer pf.Close()

	_, err = pf.Get(hashes[depth])
	s.ErrorIs(err, ErrDeltaTooDeep)
}
