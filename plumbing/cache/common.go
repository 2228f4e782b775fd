// Package cache implements the bounded, size-budgeted caches used by the
// pack reader: a cache of decoded objects, a cache of raw delta-base
// byte buffers, and (in window.go) a cache of pinned mmap windows over
// pack files.
package cache

import "github.com/sourcegit-oss/packvault/plumbing"

// FileSize is a size budget, expressed in bytes.
type FileSize int64

const (
	Byte FileSize = 1 << (iota * 10)
	KiByte
	MiByte
	GiByte
)

// DefaultMaxSize is the default size budget used by NewObjectLRUDefault
// and NewBufferLRUDefault.
const DefaultMaxSize FileSize = 96 * MiByte

// Object is a bounded cache of decoded objects, keyed by their ObjectID.
// Implementations must be safe for concurrent use.
type Object interface {
	Put(o plumbing.EncodedObject)
	Get(k plumbing.Hash) (plumbing.EncodedObject, bool)
	Clear()
}

// Buffer is a bounded cache of raw byte buffers keyed by an arbitrary
// int64 (typically a packed representation of pack id and byte offset),
// used to avoid re-inflating a shared delta-chain base. Implementations
// must be safe for concurrent use.
type Buffer interface {
	Put(key int64, buf []byte)
	Get(key int64) ([]byte, bool)
	Clear()
}
