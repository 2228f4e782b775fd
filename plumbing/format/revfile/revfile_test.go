package revfile

import (
	"bufio"
	"bytes"
	"crypto"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/format/idxfile"
)

type RevfileSuite struct {
	suite.Suite
}

func TestRevfileSuite(t *testing.T) {
	suite.Run(t, new(RevfileSuite))
}

func (s *RevfileSuite) buildIndex() *idxfile.MemoryIndex {
	w := &idxfile.Writer{}
	w.Add(plumbing.NewHash("aaaa0000000000000000000000000000000000aa"), 12, 1)
	w.Add(plumbing.NewHash("aabb0000000000000000000000000000000000bb"), 400, 2)
	w.Add(plumbing.NewHash("bbbb0000000000000000000000000000000000cc"), 34, 3)
	w.Checksum(plumbing.NewHash("cccc0000000000000000000000000000000000dd"))

	idx, err := w.CreateIndex()
	s.Require().NoError(err)
	return idx
}

func (s *RevfileSuite) TestEncodeDecodeRoundTrip() {
	idx := s.buildIndex()

	buf := new(bytes.Buffer)
	s.Require().NoError(NewEncoder(buf, crypto.SHA1.New()).Encode(idx))

	count, err := idx.Count()
	s.Require().NoError(err)

	d := NewDecoder(bufio.NewReader(buf), count, idx.PackfileChecksum)

	out := make(chan uint32)
	done := make(chan error, 1)
	go func() { done <- d.Decode(out) }()

	var positions []uint32
	for p := range out {
		positions = append(positions, p)
	}
	s.Require().NoError(<-done)
	s.Len(positions, int(count))
}

func (s *RevfileSuite) TestReaderAtRevIndexValidatesChecksums() {
	idx := s.buildIndex()

	buf := new(bytes.Buffer)
	s.Require().NoError(NewEncoder(buf, crypto.SHA1.New()).Encode(idx))

	count, err := idx.Count()
	s.Require().NoError(err)

	ri, err := NewReaderAtRevIndex(newMockRevFile(buf.Bytes()), 20, count)
	s.Require().NoError(err)
	defer ri.Close()

	s.Equal(count, ri.Count())
	s.Require().NoError(ri.ValidateChecksums(idx.PackfileChecksum.Bytes()))
}

func (s *RevfileSuite) TestReaderAtRevIndexRejectsBadSignature() {
	_, err := NewReaderAtRevIndex(newMockRevFile(bytes.Repeat([]byte{0}, 64)), 20, 1)
	s.Error(err)
}
