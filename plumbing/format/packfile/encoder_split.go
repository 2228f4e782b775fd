package packfile

import (
	"io"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// PackResult describes one pack written by EncodeSplit: its digest,
// the hashes of every object it holds (in the order they were
// written), and the offset/CRC bookkeeping needed to build that pack's
// index.
type PackResult struct {
	Checksum plumbing.Hash
	Hashes   []plumbing.Hash
	Offsets  map[plumbing.Hash]int64
	CRCs     map[plumbing.Hash]uint32
}

// EncodeCandidates runs the WriterOptions-driven candidate table
// through delta search (Component G/H) and writes the result as a
// single pack to w, the way Encode does for a plain hash list. It is
// the entry point for callers that need preferred-base candidates,
// configurable chain depth, parallel search, or the memory/cache caps
// that a bare Encode cannot express.
func EncodeCandidates(w io.Writer, s storer.EncodedObjectStorer, table *ObjectTable, opts WriterOptions) (plumbing.Hash, error) {
	enc := NewEncoderWithOptions(w, s, opts)

	objects, err := enc.selector.ObjectsToPackFromTable(table, opts)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return enc.encode(objects)
}

// EncodeSplit runs the candidate table through delta search and emits
// the result across as many packs as opts.PackSizeLimit requires:
// objects are grouped, in their post-search order, so that no pack's
// estimated size (header + payload lengths, plus a trailing digest)
// exceeds the limit unless a single object alone is wider than it, in
// which case that object gets a pack to itself. newWriter is called
// once per pack actually written, in order; EncodeSplit returns one
// PackResult per pack. With opts.PackSizeLimit == 0 it always produces
// exactly one pack.
func EncodeSplit(newWriter func() (io.Writer, error), s storer.EncodedObjectStorer, table *ObjectTable, opts WriterOptions) ([]PackResult, error) {
	selector := newDeltaSelector(s)

	objects, err := selector.ObjectsToPackFromTable(table, opts)
	if err != nil {
		return nil, err
	}

	groups := groupBySizeLimit(objects, opts, !opts.AllowOfsDelta)

	results := make([]PackResult, 0, len(groups))
	for _, group := range groups {
		w, err := newWriter()
		if err != nil {
			return nil, err
		}

		enc := NewEncoderWithOptions(w, s, opts)
		checksum, err := enc.encode(group)
		if err != nil {
			return nil, err
		}

		hashes := make([]plumbing.Hash, 0, len(group))
		for _, o := range group {
			if !o.PreferredBase {
				hashes = append(hashes, o.Original.Hash())
			}
		}

		results = append(results, PackResult{
			Checksum: checksum,
			Hashes:   hashes,
			Offsets:  enc.Offsets(),
			CRCs:     enc.CRCs(),
		})
	}

	return results, nil
}

// trailerWidth is the SHA1 digest appended to every pack as its own
// checksum.
const trailerWidth = 20

// groupBySizeLimit partitions objects (in order) into pack-sized
// groups: a running offset estimate accumulates header length plus
// payload length for every non-preferred-base entry, closing the
// current group and starting a new one whenever the next entry would
// cross opts.PackSizeLimit, unless the current group is still empty
// (a single oversized object always gets its own pack). With
// opts.PackSizeLimit <= 0, every object lands in one group.
func groupBySizeLimit(objects []*ObjectToPack, opts WriterOptions, useRefDeltas bool) [][]*ObjectToPack {
	if opts.PackSizeLimit <= 0 {
		return [][]*ObjectToPack{objects}
	}

	var groups [][]*ObjectToPack
	var cur []*ObjectToPack
	var offset int64 = 12 // signature + version + object count

	for _, o := range objects {
		// preferred_base entries are never emitted, in this pack or any
		// other, so they contribute nothing to the size estimate and
		// don't need to occupy a slot in any group.
		if o.PreferredBase {
			continue
		}

		estimate := estimatedEntryLen(o, useRefDeltas)

		if len(cur) > 0 && offset+estimate+trailerWidth >= opts.PackSizeLimit {
			groups = append(groups, cur)
			cur = nil
			offset = 12
		}

		cur = append(cur, o)
		offset += estimate
	}

	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	return groups
}

// estimatedEntryLen estimates the on-disk width of o's record: its
// object header (type plus size varint, extended for a delta base
// reference) plus its uncompressed payload length. The true written
// size is usually smaller once deflate runs, which is why callers
// treat opts.PackSizeLimit as a soft cap with some epsilon.
func estimatedEntryLen(o *ObjectToPack, useRefDeltas bool) int64 {
	typ := o.Object.Type()
	var extra int

	if o.IsDelta() {
		if useRefDeltas || o.Base.PreferredBase {
			typ = plumbing.REFDeltaObject
			extra = 20
		} else {
			typ = plumbing.OFSDeltaObject
			extra = 9
		}
	}

	return int64(len(encodeObjectHeader(typ, o.Object.Size()))+extra) + o.Object.Size()
}
