// Package idxfile implements encoding and decoding of pack index (.idx)
// files: the fanout table, sorted object table, CRC32 table and
// 32/64-bit offset tables that let a reader locate any object inside a
// sibling pack file without scanning it sequentially.
package idxfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// VersionSupported is the only pack index version this package reads
// and writes.
const VersionSupported = 2

const fanout = 256

// noMapping marks a fanout bucket that holds no objects.
const noMapping = -1

// isO64Mask marks a 32-bit offset table entry as an index into the
// 64-bit overflow table rather than a literal offset.
const isO64Mask = uint32(1) << 31

var byteOrder = binary.BigEndian

// Entry is a single object's position within a packfile, as recorded
// in its index.
type Entry struct {
	Hash   plumbing.Hash
	Offset uint64
	CRC32  uint32
}

// EntryIter iterates over an Index's entries.
type EntryIter interface {
	Next() (*Entry, error)
	Close() error
}

// Index provides random access to the offset, CRC32 checksum and hash
// of every object recorded in a pack index, without requiring the
// whole structure to be resident in memory.
type Index interface {
	Contains(h plumbing.Hash) (bool, error)
	FindOffset(h plumbing.Hash) (int64, error)
	FindCRC32(h plumbing.Hash) (uint32, error)
	FindHash(offset int64) (plumbing.Hash, error)
	Count() (int64, error)
	Entries() (EntryIter, error)
	EntriesByOffset() (EntryIter, error)
}

type entriesByOffset []*Entry

func (o entriesByOffset) Len() int           { return len(o) }
func (o entriesByOffset) Less(i, j int) bool { return o[i].Offset < o[j].Offset }
func (o entriesByOffset) Swap(i, j int)      { o[i], o[j] = o[j], o[i] }

type idxfileEntryOffsetIter struct {
	entries entriesByOffset
	pos     int
}

func (i *idxfileEntryOffsetIter) Next() (*Entry, error) {
	if i.pos >= len(i.entries) {
		return nil, io.EOF
	}

	e := i.entries[i.pos]
	i.pos++
	return e, nil
}

func (i *idxfileEntryOffsetIter) Close() error {
	i.pos = len(i.entries)
	return nil
}

// MemoryIndex is a fully in-memory pack index, bucketed the way the
// on-disk v2 format is: a 256-entry fanout table splitting objects by
// the first byte of their hash, with hashes, CRC32s and offsets kept
// sorted within each bucket.
type MemoryIndex struct {
	Version       uint32
	Fanout        [fanout]uint32
	FanoutMapping [fanout]int

	// Names, CRC32 and Offset32 are indexed by FanoutMapping[b], one
	// slice per populated bucket; within a bucket the three are kept
	// in lockstep, one hashSize/4/4-byte record per object.
	Names    [][]byte
	CRC32    [][]byte
	Offset32 [][]byte
	// Offset64 holds the 64-bit offsets referenced by an Offset32
	// entry whose top bit is set, in the order they were appended.
	Offset64 []byte

	PackfileChecksum plumbing.Hash
	IdxChecksum      plumbing.Hash

	hashSize int
}

// NewMemoryIndex returns an empty MemoryIndex ready to have entries
// added via a Writer.
func NewMemoryIndex() *MemoryIndex {
	idx := &MemoryIndex{Version: VersionSupported, hashSize: hash.SHA1Size}
	for i := range idx.FanoutMapping {
		idx.FanoutMapping[i] = noMapping
	}
	return idx
}

var _ Index = (*MemoryIndex)(nil)

func (idx *MemoryIndex) effectiveHashSize() int {
	if idx.hashSize != 0 {
		return idx.hashSize
	}
	if s := idx.PackfileChecksum.Size(); s != 0 {
		return s
	}
	return hash.SHA1Size
}

func (idx *MemoryIndex) findHashIndex(h plumbing.Hash) (bucket, pos int, ok bool) {
	first := h.Bytes()[0]
	bucket = idx.FanoutMapping[first]
	if bucket == noMapping || bucket >= len(idx.Names) {
		return 0, 0, false
	}

	hashSize := idx.effectiveHashSize()
	data := idx.Names[bucket]
	if hashSize == 0 {
		return 0, 0, false
	}
	n := len(data) / hashSize
	want := h.Bytes()

	pos = sort.Search(n, func(i int) bool {
		return bytes.Compare(data[i*hashSize:(i+1)*hashSize], want) >= 0
	})

	if pos >= n || !bytes.Equal(data[pos*hashSize:(pos+1)*hashSize], want) {
		return 0, 0, false
	}

	return bucket, pos, true
}

// Contains implements Index.
func (idx *MemoryIndex) Contains(h plumbing.Hash) (bool, error) {
	_, _, ok := idx.findHashIndex(h)
	return ok, nil
}

// FindOffset implements Index.
func (idx *MemoryIndex) FindOffset(h plumbing.Hash) (int64, error) {
	bucket, pos, ok := idx.findHashIndex(h)
	if !ok {
		return 0, plumbing.ErrObjectNotFound
	}

	off32 := byteOrder.Uint32(idx.Offset32[bucket][pos*4 : pos*4+4])
	if off32&isO64Mask == 0 {
		return int64(off32), nil
	}

	o64 := off32 &^ isO64Mask
	start := int(o64) * 8
	if start+8 > len(idx.Offset64) {
		return 0, plumbing.ErrObjectNotFound
	}
	return int64(byteOrder.Uint64(idx.Offset64[start : start+8])), nil
}

// FindCRC32 implements Index.
func (idx *MemoryIndex) FindCRC32(h plumbing.Hash) (uint32, error) {
	bucket, pos, ok := idx.findHashIndex(h)
	if !ok {
		return 0, plumbing.ErrObjectNotFound
	}

	return byteOrder.Uint32(idx.CRC32[bucket][pos*4 : pos*4+4]), nil
}

// FindHash implements Index. It scans the entries in hash order on
// every call, O(n) in the number of indexed objects; no reverse
// lookup table is built or kept between calls.
func (idx *MemoryIndex) FindHash(offset int64) (plumbing.Hash, error) {
	iter, err := idx.Entries()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer iter.Close()

	for {
		e, err := iter.Next()
		if err == io.EOF {
			return plumbing.ZeroHash, plumbing.ErrObjectNotFound
		}
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if int64(e.Offset) == offset {
			return e.Hash, nil
		}
	}
}

// Count implements Index.
func (idx *MemoryIndex) Count() (int64, error) {
	return int64(idx.Fanout[fanout-1]), nil
}

// Entries implements Index, iterating in ascending hash order.
func (idx *MemoryIndex) Entries() (EntryIter, error) {
	return &memoryEntryIter{idx: idx}, nil
}

// EntriesByOffset implements Index, iterating in ascending pack
// offset order.
func (idx *MemoryIndex) EntriesByOffset() (EntryIter, error) {
	count, _ := idx.Count()
	entries := make(entriesByOffset, 0, count)

	iter, err := idx.Entries()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for {
		e, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.Sort(entries)
	return &idxfileEntryOffsetIter{entries: entries}, nil
}

type memoryEntryIter struct {
	idx    *MemoryIndex
	bucket int
	pos    int
}

func (i *memoryEntryIter) Next() (*Entry, error) {
	hashSize := i.idx.effectiveHashSize()

	for i.bucket < len(i.idx.Names) {
		data := i.idx.Names[i.bucket]
		n := len(data) / hashSize
		if i.pos >= n {
			i.bucket++
			i.pos = 0
			continue
		}

		var h plumbing.Hash
		h.ResetBySize(hashSize)
		_, _ = h.Write(data[i.pos*hashSize : (i.pos+1)*hashSize])

		off32 := byteOrder.Uint32(i.idx.Offset32[i.bucket][i.pos*4 : i.pos*4+4])
		crc := byteOrder.Uint32(i.idx.CRC32[i.bucket][i.pos*4 : i.pos*4+4])

		offset := uint64(off32)
		if off32&isO64Mask != 0 {
			o64 := off32 &^ isO64Mask
			start := int(o64) * 8
			offset = byteOrder.Uint64(i.idx.Offset64[start : start+8])
		}

		i.pos++
		return &Entry{Hash: h, Offset: offset, CRC32: crc}, nil
	}

	return nil, io.EOF
}

func (i *memoryEntryIter) Close() error {
	i.bucket = len(i.idx.Names)
	return nil
}
