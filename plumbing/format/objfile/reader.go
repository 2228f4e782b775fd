package objfile

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// Reader reads the content of a loose object file: it inflates the
// zlib stream, parses the "<type> <size>\0" header and then makes the
// payload available through Read, while independently re-hashing
// everything read so the caller can confirm the object's identity
// against the path it was read from.
type Reader struct {
	zr     io.ReadCloser
	br     *bufio.Reader
	hasher plumbing.Hasher

	format hash.ObjectFormat
	typ    plumbing.ObjectType
	size   int64
	read   int64

	headerRead bool
}

// NewReader returns a Reader over a zlib-compressed loose object stream.
// The object format defaults to SHA1; callers expecting SHA256 digests
// should use NewReaderWithFormat.
func NewReader(r io.Reader) (*Reader, error) {
	return NewReaderWithFormat(r, hash.SHA1)
}

// NewReaderWithFormat is like NewReader but hashes the payload under the
// given object format.
func NewReaderWithFormat(r io.Reader, f hash.ObjectFormat) (*Reader, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}

	return &Reader{
		zr:     zr,
		br:     bufio.NewReader(zr),
		format: f,
	}, nil
}

// Header parses and returns the object's type and declared size. Read
// calls it first if it has not been called yet.
func (r *Reader) Header() (t plumbing.ObjectType, size int64, err error) {
	if r.headerRead {
		return r.typ, r.size, nil
	}

	typB, err := r.br.ReadString(' ')
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}
	typ, err := plumbing.ParseObjectType(typB[:len(typB)-1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}

	szB, err := r.br.ReadString(0)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}
	size, err = strconv.ParseInt(szB[:len(szB)-1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}

	r.typ = typ
	r.size = size
	r.headerRead = true

	r.hasher = plumbing.NewHasher(r.format, typ, size)

	return typ, size, nil
}

// Read implements io.Reader over the object's payload, re-hashing every
// byte returned.
func (r *Reader) Read(p []byte) (int, error) {
	if !r.headerRead {
		if _, _, err := r.Header(); err != nil {
			return 0, err
		}
	}

	n, err := r.br.Read(p)
	if n > 0 {
		r.hasher.Write(p[:n])
		r.read += int64(n)
	}
	return n, err
}

// Hash returns the ObjectID computed so far over type, size and
// whatever of the payload has been read. Call it after fully draining
// Read to get the object's final identifier.
func (r *Reader) Hash() plumbing.Hash {
	return r.hasher.Sum()
}

// Close releases the underlying zlib reader.
func (r *Reader) Close() error {
	return r.zr.Close()
}
