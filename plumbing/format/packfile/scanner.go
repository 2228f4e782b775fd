package packfile

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	gohash "hash"
	"hash/crc32"
	"io"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

var (
	// ErrBadSignature is returned by Header when the pack's magic bytes
	// don't read "PACK".
	ErrBadSignature = errors.New("malformed pack file signature")
	// ErrMalformedPackfile is returned when the pack format is invalid.
	ErrMalformedPackfile = errors.New("malformed pack file")
	// ErrUnsupportedVersion is returned by Header when the pack version
	// differs from VersionSupported.
	ErrUnsupportedVersion = errors.New("unsupported packfile version")
	// ErrSeekNotSupported is returned when Seek is called on a Scanner
	// whose underlying reader isn't an io.ReadSeeker.
	ErrSeekNotSupported = errors.New("packfile: seek not supported")
)

// ObjectHeader describes one object record: its type, pack-relative
// byte offset, inflated size, and, for delta records, the reference to
// their base (by hash for ref-delta, by backward offset for
// ofs-delta).
type ObjectHeader struct {
	Type            plumbing.ObjectType
	Offset          int64
	Size            int64
	Reference       plumbing.Hash
	OffsetReference int64
}

// Scanner provides sequential and random access to the objects stored
// in a pack file: a 12-byte header ("PACK", version, object count),
// one variable-length record per object, and a trailing whole-pack
// checksum.
type Scanner struct {
	r        *scannerReader
	packhash gohash.Hash
	crc      gohash.Hash32
}

// NewScanner returns a Scanner reading from r. If r is also an
// io.ReadSeeker, SeekFromStart becomes available for random access.
func NewScanner(r io.Reader) *Scanner {
	crc := crc32.NewIEEE()
	packhash := hash.New(hash.SHA1)
	sr := newScannerReader(r, io.MultiWriter(crc, packhash))

	return &Scanner{r: sr, packhash: packhash, crc: crc}
}

// Header reads and validates the pack's signature and version,
// returning the version and the number of objects it holds.
func (s *Scanner) Header() (version, count uint32, err error) {
	var sig [4]byte
	if _, err := io.ReadFull(s.r, sig[:]); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if sig != signature {
		return 0, 0, ErrBadSignature
	}

	version, err = readUint32(s.r)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: cannot read version: %v", ErrMalformedPackfile, err)
	}
	if version != VersionSupported {
		return 0, 0, ErrUnsupportedVersion
	}

	count, err = readUint32(s.r)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: cannot read object count: %v", ErrMalformedPackfile, err)
	}

	return version, count, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

// NextObjectHeader reads the next object record's header: its type,
// size, and (if it is a delta) its base reference. Call NextObject
// immediately afterward to read the record's inflated content.
func (s *Scanner) NextObjectHeader() (*ObjectHeader, error) {
	offset := s.r.offset
	s.r.Flush()
	s.crc.Reset()

	first, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}

	typ := objectType(first)
	size, err := decodeVariableLengthSize(first, s.r)
	if err != nil {
		return nil, err
	}

	oh := &ObjectHeader{Offset: offset, Type: typ, Size: int64(size)}

	switch typ {
	case plumbing.OFSDeltaObject:
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		back, err := decodeOfsDelta(b, s.r)
		if err != nil {
			return nil, err
		}
		oh.OffsetReference = offset - back
	case plumbing.REFDeltaObject:
		oh.Reference.ResetBySize(hash.SHA1Size)
		if _, err := oh.Reference.ReadFrom(s.r); err != nil {
			return nil, err
		}
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
	default:
		return nil, fmt.Errorf("%w: invalid object type %d", ErrMalformedPackfile, typ)
	}

	return oh, nil
}

// NextObject inflates the current object record's zlib-compressed
// content into w, returning its size and CRC-32 checksum (computed
// over the record's compressed bytes, header included).
func (s *Scanner) NextObject(w io.Writer) (size int64, crc uint32, err error) {
	zr, err := zlib.NewReader(s.r)
	if err != nil {
		return 0, 0, fmt.Errorf("packfile: zlib: %w", err)
	}
	defer zr.Close()

	size, err = io.Copy(w, zr)
	if err != nil {
		return size, 0, err
	}

	s.r.Flush()
	return size, s.crc.Sum32(), nil
}

// SeekFromStart repositions the scanner to the given pack-relative
// byte offset, for random access via an index. It requires the
// underlying reader to be an io.ReadSeeker.
func (s *Scanner) SeekFromStart(offset int64) error {
	_, err := s.r.Seek(offset, io.SeekStart)
	return err
}

// Footer reads and verifies the pack's trailing checksum against the
// hash accumulated over every byte read so far, returning the
// checksum.
func (s *Scanner) Footer() (plumbing.Hash, error) {
	s.r.Flush()
	sum := s.packhash.Sum(nil)

	buf := make([]byte, len(sum))
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: cannot read checksum: %v", ErrMalformedPackfile, err)
	}

	if !bytes.Equal(sum, buf) {
		return plumbing.ZeroHash, fmt.Errorf("%w: checksum mismatch", ErrMalformedPackfile)
	}

	id, ok := plumbing.FromBytes(sum)
	if !ok {
		return plumbing.ZeroHash, fmt.Errorf("%w: unexpected digest width %d", ErrMalformedPackfile, len(sum))
	}

	return id, nil
}
