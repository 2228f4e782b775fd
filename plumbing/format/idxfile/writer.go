package idxfile

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/sourcegit-oss/packvault/plumbing"
)

type object struct {
	hash   plumbing.Hash
	offset int64
	crc    uint32
}

type objects []object

func (o objects) Len() int      { return len(o) }
func (o objects) Swap(i, j int) { o[i], o[j] = o[j], o[i] }
func (o objects) Less(i, j int) bool {
	return bytes.Compare(o[i].hash.Bytes(), o[j].hash.Bytes()) < 0
}

// Writer accumulates (hash, offset, CRC32) triples observed while a
// pack is written or scanned, and assembles them into a MemoryIndex.
type Writer struct {
	count    uint32
	checksum plumbing.Hash
	objects  objects
}

// Add appends a new entry.
func (w *Writer) Add(h plumbing.Hash, offset int64, crc uint32) {
	w.objects = append(w.objects, object{h, offset, crc})
	w.count++
}

// Checksum records the packfile's trailing checksum, copied into the
// resulting index's PackfileChecksum field.
func (w *Writer) Checksum(h plumbing.Hash) {
	w.checksum = h
}

// CreateIndex assembles a MemoryIndex from the entries added so far,
// sorted by hash and bucketed into the 256-entry fanout table.
func (w *Writer) CreateIndex() (*MemoryIndex, error) {
	idx := NewMemoryIndex()
	sort.Sort(w.objects)

	last := -1
	bucket := -1
	for i, o := range w.objects {
		fan := int(o.hash.Bytes()[0])

		for j := last + 1; j < fan; j++ {
			idx.Fanout[j] = uint32(i)
		}
		idx.Fanout[fan] = uint32(i + 1)

		if last != fan {
			bucket++
			idx.FanoutMapping[fan] = bucket
			last = fan

			idx.Names = append(idx.Names, nil)
			idx.Offset32 = append(idx.Offset32, nil)
			idx.CRC32 = append(idx.CRC32, nil)
		}

		idx.Names[bucket] = append(idx.Names[bucket], o.hash.Bytes()...)

		var off32 uint32
		if o.offset > math.MaxInt32 {
			o64Idx := len(idx.Offset64) / 8
			off32 = isO64Mask | uint32(o64Idx)

			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(o.offset))
			idx.Offset64 = append(idx.Offset64, buf[:]...)
		} else {
			off32 = uint32(o.offset)
		}

		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], off32)
		idx.Offset32[bucket] = append(idx.Offset32[bucket], buf[:]...)

		binary.BigEndian.PutUint32(buf[:], o.crc)
		idx.CRC32[bucket] = append(idx.CRC32[bucket], buf[:]...)
	}

	for j := last + 1; j < fanout; j++ {
		idx.Fanout[j] = uint32(len(w.objects))
	}

	idx.PackfileChecksum = w.checksum

	return idx, nil
}
