// Package hash provides the hash primitives used to compute object
// identifiers: hash function registration/selection and the digest
// widths for each supported object format.
package hash

import (
	"crypto"
	"errors"
	"fmt"
	"hash"

	"github.com/pjbgf/sha1cd"
)

// Digest sizes, in bytes and in hexadecimal-string length, for each
// supported object format.
const (
	SHA1Size      = 20
	SHA1HexSize   = SHA1Size * 2
	SHA256Size    = 32
	SHA256HexSize = SHA256Size * 2
)

// ErrUnsupportedHashFunction is returned by RegisterHash for any
// crypto.Hash value other than SHA1 or SHA256.
var ErrUnsupportedHashFunction = errors.New("unsupported hash function")

// ObjectFormat selects the hash function used to derive object
// identifiers. The zero value (UnsetObjectFormat) behaves as SHA1, so
// that an unset ObjectFormat on an ObjectID still resolves to a valid
// 20-byte digest.
type ObjectFormat uint8

const (
	UnsetObjectFormat ObjectFormat = iota
	SHA1
	SHA256
)

// Size returns the digest width, in bytes, for the object format.
func (f ObjectFormat) Size() int {
	if f == SHA256 {
		return SHA256Size
	}
	return SHA1Size
}

// HexSize returns the digest width, in hexadecimal characters, for the
// object format.
func (f ObjectFormat) HexSize() int {
	return f.Size() * 2
}

func (f ObjectFormat) String() string {
	switch f {
	case SHA256:
		return "sha256"
	default:
		return "sha1"
	}
}

// algos maps a crypto.Hash identifier to the constructor used to build
// a new hash.Hash of that kind. SHA1 defaults to the collision-detecting
// implementation; callers that need a different implementation can
// override it via RegisterHash.
var algos = map[crypto.Hash]func() hash.Hash{}

func init() {
	reset()
}

func reset() {
	algos[crypto.SHA1] = sha1cd.New
	algos[crypto.SHA256] = crypto.SHA256.New
}

// RegisterHash overrides the hash.Hash constructor used for a given
// crypto.Hash. Only SHA1 and SHA256 are supported.
func RegisterHash(h crypto.Hash, f func() hash.Hash) error {
	if f == nil {
		return fmt.Errorf("cannot register hash: constructor is nil")
	}
	switch h {
	case crypto.SHA1, crypto.SHA256:
		algos[h] = f
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedHashFunction, h)
	}
	return nil
}

// New returns a new hash.Hash for the given object format.
func New(f ObjectFormat) hash.Hash {
	if f == SHA256 {
		return algos[crypto.SHA256]()
	}
	return algos[crypto.SHA1]()
}
