package plumbing

import (
	"fmt"
	gohash "hash"
	"strconv"
	"sync"

	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// ErrUnsupportedObjectFormat is returned when an ObjectHasher is
// requested for an unrecognised hash.ObjectFormat.
var ErrUnsupportedObjectFormat = fmt.Errorf("unsupported object format")

// Hasher computes hashes over a single object's "<type> <size>\0payload"
// header-plus-content stream. The type and size are written as the
// header at construction (or Reset), so they must be known before any
// payload is written.
type Hasher struct {
	gohash.Hash
	format hash.ObjectFormat
}

// NewHasher returns a Hasher for the given object format, and resets it
// ready to hash an object of the given type and size.
func NewHasher(f hash.ObjectFormat, t ObjectType, size int64) Hasher {
	h := Hasher{format: f, Hash: hash.New(f)}
	h.Reset(t, size)
	return h
}

// Reset rewinds the hasher and rewrites the object header, ready for
// the payload to be written next.
func (h Hasher) Reset(t ObjectType, size int64) {
	h.Hash.Reset()
	h.Write(t.Bytes())
	h.Write([]byte(" "))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
}

// Sum returns the computed ObjectID.
func (h Hasher) Sum() (id Hash) {
	id.format = h.format
	_, _ = id.Write(h.Hash.Sum(nil))
	return id
}

// ObjectHasher is a thread-safe variant of Hasher that computes the
// ObjectID for a complete, already in-memory payload in one call,
// instead of being written to incrementally.
type ObjectHasher struct {
	hasher gohash.Hash
	m      sync.Mutex
	format hash.ObjectFormat
}

// FromObjectFormat returns an ObjectHasher for the given object format.
func FromObjectFormat(f hash.ObjectFormat) (*ObjectHasher, error) {
	switch f {
	case hash.SHA1, hash.SHA256:
		return &ObjectHasher{hasher: hash.New(f), format: f}, nil
	default:
		return nil, ErrUnsupportedObjectFormat
	}
}

// FromHash returns an ObjectHasher matching the digest width of h.
func FromHash(h gohash.Hash) (*ObjectHasher, error) {
	switch h.Size() {
	case hash.SHA1Size:
		return FromObjectFormat(hash.SHA1)
	case hash.SHA256Size:
		return FromObjectFormat(hash.SHA256)
	default:
		return nil, fmt.Errorf("%w: digest width %d", ErrUnsupportedObjectFormat, h.Size())
	}
}

// Compute returns the ObjectID for the given object type and payload.
func (h *ObjectHasher) Compute(ot ObjectType, d []byte) (ObjectID, error) {
	h.m.Lock()
	defer h.m.Unlock()

	h.hasher.Reset()
	writeObjectHeader(h.hasher, ot, int64(len(d)))
	if _, err := h.hasher.Write(d); err != nil {
		return ObjectID{}, fmt.Errorf("compute object id: %w", err)
	}

	var out ObjectID
	out.format = h.format
	_, _ = out.Write(h.hasher.Sum(nil))
	return out, nil
}

func writeObjectHeader(h gohash.Hash, ot ObjectType, size int64) {
	h.Write(ot.Bytes())
	h.Write([]byte(" "))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
}
