package idxfile

import (
	"bytes"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
)

type IdxfileSuite struct {
	suite.Suite
}

func TestIdxfileSuite(t *testing.T) {
	suite.Run(t, new(IdxfileSuite))
}

func (s *IdxfileSuite) buildIndex() (*MemoryIndex, map[string]object) {
	w := &Writer{}
	entries := map[string]object{
		"aa": {hash: plumbing.NewHash("aaaa0000000000000000000000000000000000aa"), offset: 12, crc: 1},
		"ab": {hash: plumbing.NewHash("aabb0000000000000000000000000000000000bb"), offset: 34, crc: 2},
		"bb": {hash: plumbing.NewHash("bbbb0000000000000000000000000000000000cc"), offset: 1 << 33, crc: 3},
	}
	for _, o := range entries {
		w.Add(o.hash, o.offset, o.crc)
	}
	w.Checksum(plumbing.NewHash("cccc0000000000000000000000000000000000dd"))

	idx, err := w.CreateIndex()
	s.Require().NoError(err)
	return idx, entries
}

func (s *IdxfileSuite) TestWriterCreateIndex() {
	idx, entries := s.buildIndex()

	count, err := idx.Count()
	s.Require().NoError(err)
	s.Equal(int64(3), count)

	for _, o := range entries {
		ok, err := idx.Contains(o.hash)
		s.Require().NoError(err)
		s.True(ok)

		off, err := idx.FindOffset(o.hash)
		s.Require().NoError(err)
		s.Equal(o.offset, off)

		crc, err := idx.FindCRC32(o.hash)
		s.Require().NoError(err)
		s.Equal(o.crc, crc)

		h, err := idx.FindHash(o.offset)
		s.Require().NoError(err)
		s.True(h.Equal(o.hash))
	}

	missing, err := idx.Contains(plumbing.NewHash("ffff0000000000000000000000000000000000ff"))
	s.Require().NoError(err)
	s.False(missing)
}

func (s *IdxfileSuite) TestEntriesAscendingHash() {
	idx, _ := s.buildIndex()

	iter, err := idx.Entries()
	s.Require().NoError(err)
	defer iter.Close()

	var last plumbing.Hash
	count := 0
	for {
		e, err := iter.Next()
		if err == io.EOF {
			break
		}
		s.Require().NoError(err)
		s.True(bytesLessOrEqual(last, e.Hash))
		last = e.Hash
		count++
	}
	s.Equal(3, count)
}

func bytesLessOrEqual(a, b plumbing.Hash) bool {
	if a.IsZero() {
		return true
	}
	return a.Compare(b.Bytes()) <= 0
}

func (s *IdxfileSuite) TestEncodeThenReadBack() {
	idx, entries := s.buildIndex()

	buf := new(bytes.Buffer)
	_, err := NewEncoder(buf).Encode(idx)
	s.Require().NoError(err)

	ri, err := NewReaderAtIndex(newByteIndexFile(buf.Bytes()), 20)
	s.Require().NoError(err)
	defer ri.Close()

	count, err := ri.Count()
	s.Require().NoError(err)
	s.Equal(int64(3), count)

	for _, o := range entries {
		off, err := ri.FindOffset(o.hash)
		s.Require().NoError(err)
		s.Equal(o.offset, off)

		crc, err := ri.FindCRC32(o.hash)
		s.Require().NoError(err)
		s.Equal(o.crc, crc)
	}
}

type byteIndexFile struct {
	*bytes.Reader
	data []byte
}

func newByteIndexFile(data []byte) *byteIndexFile {
	return &byteIndexFile{Reader: bytes.NewReader(data), data: data}
}

func (f *byteIndexFile) Close() error { return nil }

func (f *byteIndexFile) Stat() (fs.FileInfo, error) {
	return byteIndexFileInfo{size: int64(len(f.data))}, nil
}

type byteIndexFileInfo struct{ size int64 }

func (i byteIndexFileInfo) Name() string      { return "pack.idx" }
func (i byteIndexFileInfo) Size() int64       { return i.size }
func (i byteIndexFileInfo) Mode() fs.FileMode  { return 0 }
func (i byteIndexFileInfo) ModTime() time.Time { return time.Time{} }
func (i byteIndexFileInfo) IsDir() bool        { return false }
func (i byteIndexFileInfo) Sys() interface{}   { return nil }
