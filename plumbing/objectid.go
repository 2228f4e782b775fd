package plumbing

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// ObjectID is the identifier of an object in the store: the digest of
// "<type> <size>\0<payload>" under the object's hash.ObjectFormat. It
// holds enough bytes for the widest supported digest (SHA256); objects
// hashed under a narrower format (SHA1) simply leave the tail unused.
type ObjectID struct {
	hash   [hash.SHA256Size]byte
	format hash.ObjectFormat
}

// ZeroHash is the zero-valued ObjectID, under the default (SHA1) format.
var ZeroHash ObjectID

// FromHex parses a hexadecimal string and returns an ObjectID. The
// object format is inferred from the length of the input: SHA1HexSize
// decodes to hash.SHA1, SHA256HexSize to hash.SHA256. Any other length,
// or invalid hex, returns ok=false.
func FromHex(in string) (id ObjectID, ok bool) {
	switch len(in) {
	case hash.SHA1HexSize:
		id.format = hash.SHA1
	case hash.SHA256HexSize:
		id.format = hash.SHA256
	default:
		return ObjectID{}, false
	}

	out, err := hex.DecodeString(in)
	if err != nil {
		return ObjectID{}, false
	}

	copy(id.hash[:], out)
	return id, true
}

// FromBytes creates an ObjectID from a raw digest. The object format is
// inferred from the length of the input.
func FromBytes(in []byte) (id ObjectID, ok bool) {
	switch len(in) {
	case hash.SHA1Size:
		id.format = hash.SHA1
	case hash.SHA256Size:
		id.format = hash.SHA256
	default:
		return ObjectID{}, false
	}

	copy(id.hash[:], in)
	return id, true
}

// NewHash parses a hexadecimal hash representation, returning a zero
// ObjectID on malformed input.
func NewHash(s string) ObjectID {
	id, _ := FromHex(s)
	return id
}

// Format returns the object format (hash function) this ID was computed
// under.
func (s ObjectID) Format() hash.ObjectFormat {
	return s.format
}

// Size returns the digest width, in bytes, of this ObjectID.
func (s ObjectID) Size() int {
	return s.format.Size()
}

// HexSize returns the digest width, in hexadecimal characters.
func (s ObjectID) HexSize() int {
	return s.format.HexSize()
}

// IsZero reports whether every byte of the digest is zero.
func (s ObjectID) IsZero() bool {
	var zero [hash.SHA256Size]byte
	return bytes.Equal(s.hash[:s.Size()], zero[:s.Size()])
}

// Bytes returns the raw digest bytes, sized to this ObjectID's format.
func (s ObjectID) Bytes() []byte {
	out := make([]byte, s.Size())
	copy(out, s.hash[:s.Size()])
	return out
}

// Compare compares the ObjectID's digest against a slice of raw bytes,
// following the semantics of bytes.Compare.
func (s ObjectID) Compare(b []byte) int {
	return bytes.Compare(s.hash[:s.Size()], b)
}

// Equal reports whether two ObjectIDs carry the same digest bytes under
// the same format.
func (s ObjectID) Equal(other ObjectID) bool {
	return s.format == other.format && bytes.Equal(s.hash[:s.Size()], other.hash[:other.Size()])
}

// HasPrefix reports whether the ObjectID's digest starts with the given
// raw byte prefix.
func (s ObjectID) HasPrefix(prefix []byte) bool {
	return bytes.HasPrefix(s.hash[:s.Size()], prefix)
}

// String returns the lowercase hexadecimal representation of the digest.
func (s ObjectID) String() string {
	return hex.EncodeToString(s.hash[:s.Size()])
}

func (s ObjectID) GoString() string {
	return fmt.Sprintf("plumbing.ObjectID(%q)", s.String())
}

// Write implements io.Writer, copying up to Size() bytes of p into the
// digest. The object format defaults from the length of p the first
// time Write is called on a zero-valued ObjectID.
func (s *ObjectID) Write(p []byte) (int, error) {
	if s.format == hash.UnsetObjectFormat {
		if len(p) == hash.SHA256Size {
			s.format = hash.SHA256
		} else {
			s.format = hash.SHA1
		}
	}
	n := copy(s.hash[:s.Size()], p)
	return n, nil
}

// ReadFrom reads Size() bytes from r into the digest.
func (s *ObjectID) ReadFrom(r io.Reader) (int64, error) {
	if s.format == hash.UnsetObjectFormat {
		s.format = hash.SHA1
	}
	if err := binary.Read(r, binary.BigEndian, s.hash[:s.Size()]); err != nil {
		return 0, fmt.Errorf("read object id: %w", err)
	}
	return int64(s.Size()), nil
}

// WriteTo writes the digest's Size() bytes to w.
func (s ObjectID) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.BigEndian, s.hash[:s.Size()]); err != nil {
		return 0, err
	}
	return int64(s.Size()), nil
}

// ResetBySize clears the digest and sets the object format matching the
// given digest width (20 selects SHA1, 32 selects SHA256).
func (s *ObjectID) ResetBySize(idSize int) {
	if idSize == hash.SHA256Size {
		s.format = hash.SHA256
	} else {
		s.format = hash.SHA1
	}
	s.hash = [hash.SHA256Size]byte{}
}

// Hash is an alias retained for readability at call sites that think in
// terms of "the object's hash" rather than "the object's identifier".
type Hash = ObjectID

// HashesSort sorts a slice of ObjectIDs in increasing digest order, as
// required of the pack index's sorted OID table. Duplicates are kept.
func HashesSort(a []Hash) {
	sortHashes(a)
}
