package packfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/storage/memory"
)

type ScannerSuite struct {
	suite.Suite
}

func TestScannerSuite(t *testing.T) {
	suite.Run(t, new(ScannerSuite))
}

func (s *ScannerSuite) buildPack(windowSize uint) ([]byte, []plumbing.Hash) {
	store := memory.NewStorage()

	var hashes []plumbing.Hash
	for _, content := range [][]byte{
		bytes.Repeat([]byte("alpha content "), 50),
		bytes.Repeat([]byte("alpha content "), 50)[:600],
	} {
		obj := &plumbing.MemoryObject{}
		obj.SetType(plumbing.BlobObject)
		obj.SetSize(int64(len(content)))
		_, err := obj.Write(content)
		s.Require().NoError(err)

		h, err := store.SetEncodedObject(obj)
		s.Require().NoError(err)
		hashes = append(hashes, h)
	}

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf, store, false)
	_, err := enc.Encode(hashes, windowSize)
	s.Require().NoError(err)

	return buf.Bytes(), hashes
}

func (s *ScannerSuite) TestHeader() {
	data, hashes := s.buildPack(10)

	sc := NewScanner(bytes.NewReader(data))
	version, count, err := sc.Header()
	s.Require().NoError(err)
	s.Equal(uint32(VersionSupported), version)
	s.Equal(uint32(len(hashes)), count)
}

func (s *ScannerSuite) TestSequentialDecodeRoundTrip() {
	data, _ := s.buildPack(10)

	sc := NewScanner(bytes.NewReader(data))
	_, count, err := sc.Header()
	s.Require().NoError(err)

	for i := uint32(0); i < count; i++ {
		oh, err := sc.NextObjectHeader()
		s.Require().NoError(err)
		s.Positive(oh.Size)

		var buf bytes.Buffer
		_, crc, err := sc.NextObject(&buf)
		s.Require().NoError(err)
		s.NotZero(crc)

		switch oh.Type {
		case plumbing.BlobObject, plumbing.OFSDeltaObject, plumbing.REFDeltaObject:
		default:
			s.Failf("unexpected object type", "%v", oh.Type)
		}
	}

	footer, err := sc.Footer()
	s.Require().NoError(err)
	s.False(footer.IsZero())
}

func (s *ScannerSuite) TestBadSignature() {
	sc := NewScanner(bytes.NewReader([]byte("not-a-pack-file-at-all")))
	_, _, err := sc.Header()
	s.ErrorIs(err, ErrBadSignature)
}

func (s *ScannerSuite) TestSeekFromStart() {
	data, _ := s.buildPack(10)

	sc := NewScanner(bytes.NewReader(data))
	_, _, err := sc.Header()
	s.Require().NoError(err)

	first, err := sc.NextObjectHeader()
	s.Require().NoError(err)
	s.Require().NoError(sc.SeekFromStart(first.Offset))

	again, err := sc.NextObjectHeader()
	s.Require().NoError(err)
	s.Equal(first.Offset, again.Offset)
	s.Equal(first.Type, again.Type)
}
