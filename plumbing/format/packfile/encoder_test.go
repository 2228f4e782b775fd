package packfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/storage/memory"
)

type EncoderSuite struct {
	suite.Suite
}

func TestEncoderSuite(t *testing.T) {
	suite.Run(t, new(EncoderSuite))
}

// blob stores content in store and returns its hash.
func (s *EncoderSuite) blob(store *memory.Storage, content []byte) plumbing.Hash {
	obj := &plumbing.MemoryObject{}
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	_, err := obj.Write(content)
	s.Require().NoError(err)

	h, err := store.SetEncodedObject(obj)
	s.Require().NoError(err)
	return h
}

// TestEncodeSplitRespectsPackSizeLimit builds enough blobs that a tight
// PackSizeLimit must force more than one pack, and checks that every
// pack stays within the cap and that the union of their hash sets
// covers every input object exactly once.
func (s *EncoderSuite) TestEncodeSplitRespectsPackSizeLimit() {
	store := memory.NewStorage()
	table := NewObjectTable(store)

	var want []plumbing.Hash
	for i := 0; i < 12; i++ {
		h := s.blob(store, bytes.Repeat([]byte{byte('a' + i)}, 200))
		_, err := table.AddCandidate(h, "", false)
		s.Require().NoError(err)
		want = append(want, h)
	}

	opts := DefaultWriterOptions()
	opts.Window = 0 // keep entries independent so size estimates are exact
	opts.PackSizeLimit = 512

	var buffers []*bytes.Buffer
	newWriter := func() (io.Writer, error) {
		buf := new(bytes.Buffer)
		buffers = append(buffers, buf)
		return buf, nil
	}

	results, err := EncodeSplit(newWriter, store, table, opts)
	s.Require().NoError(err)
	s.Require().Greater(len(results), 1, "a tight PackSizeLimit should force more than one pack")

	seen := map[plumbing.Hash]bool{}
	for i, res := range results {
		s.Require().NotEmpty(res.Hashes)
		for _, h := range res.Hashes {
			s.False(seen[h], "hash %s emitted in more than one pack", h)
			seen[h] = true
		}

		// Every pack's buffered bytes must actually have been written.
		s.NotEmpty(buffers[i].Bytes())
		s.LessOrEqual(int64(buffers[i].Len()), opts.PackSizeLimit, "pack %d exceeds PackSizeLimit", i)
	}

	s.Len(seen, len(want))
	for _, h := range want {
		s.True(seen[h], "hash %s missing from split-pack output", h)
	}
}

// TestEncodeCandidatesHonorsPreferredBase checks that a candidate
// registered with exclude=true (a preferred base) is never written into
// the output pack: the pack header counts only the other candidate.
func (s *EncoderSuite) TestEncodeCandidatesHonorsPreferredBase() {
	store := memory.NewStorage()

	base := bytes.Repeat([]byte("shared content, repeated many times. "), 40)
	target := append(append([]byte{}, base...), []byte("a little extra on the end")...)

	baseHash := s.blob(store, base)
	targetHash := s.blob(store, target)

	table := NewObjectTable(store)
	_, err := table.AddCandidate(baseHash, "", true) // preferred base, excluded
	s.Require().NoError(err)
	_, err = table.AddCandidate(targetHash, "", false)
	s.Require().NoError(err)

	opts := DefaultWriterOptions()

	buf := new(bytes.Buffer)
	checksum, err := EncodeCandidates(buf, store, table, opts)
	s.Require().NoError(err)
	s.False(checksum.IsZero())

	// Only targetHash's bytes were written as an entry: re-derive the
	// pack's object count from its header bytes directly.
	data := buf.Bytes()
	s.Require().GreaterOrEqual(len(data), 12)
	count := int(data[8])<<24 | int(data[9])<<16 | int(data[10])<<8 | int(data[11])
	s.Equal(1, count, "preferred-base candidate must not occupy a slot in the pack header count")

	s.NotEqual(baseHash, targetHash)
}

// TestEncodeCandidatesWithoutPreferredBaseRoundTrips is a control: with
// no preferred base, both objects land in the pack and both come back
// out through Packfile.Get.
func (s *EncoderSuite) TestEncodeCandidatesWithoutPreferredBaseRoundTrips() {
	store := memory.NewStorage()

	a := s.blob(store, bytes.Repeat([]byte("alpha "), 50))
	b := s.blob(store, bytes.Repeat([]byte("bravo "), 50))

	table := NewObjectTable(store)
	_, err := table.AddCandidate(a, "", false)
	s.Require().NoError(err)
	_, err = table.AddCandidate(b, "", false)
	s.Require().NoError(err)

	opts := DefaultWriterOptions()
	opts.Window = 0

	buf := new(bytes.Buffer)
	_, err = EncodeCandidates(buf, store, table, opts)
	s.Require().NoError(err)

	data := buf.Bytes()
	count := int(data[8])<<24 | int(data[9])<<16 | int(data[10])<<8 | int(data[11])
	s.Equal(2, count)
}

// TestNewEncoderWithOptionsUsesConfiguredCompression checks that an
// explicit Compression level is actually threaded into the zlib writer
// instead of silently falling back to the package default, by comparing
// output size at two different levels for highly compressible content.
func (s *EncoderSuite) TestNewEncoderWithOptionsUsesConfiguredCompression() {
	store := memory.NewStorage()
	h := s.blob(store, bytes.Repeat([]byte{'z'}, 100000))

	table := NewObjectTable(store)
	_, err := table.AddCandidate(h, "", false)
	s.Require().NoError(err)

	opts := DefaultWriterOptions()
	opts.Window = 0

	opts.Compression = 0 // zlib.NoCompression
	noCompBuf := new(bytes.Buffer)
	_, err = EncodeCandidates(noCompBuf, store, table, opts)
	s.Require().NoError(err)

	opts.Compression = 9 // zlib.BestCompression
	bestCompBuf := new(bytes.Buffer)
	_, err = EncodeCandidates(bestCompBuf, store, table, opts)
	s.Require().NoError(err)

	s.Greater(noCompBuf.Len(), bestCompBuf.Len(), "a configured best-compression level should beat no-compression on highly redundant input")
}
