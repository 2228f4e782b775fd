package packfile

import (
	"io"
	"sort"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// maxDepth bounds how long a delta chain is allowed to grow; walk never
// produces an entry whose Depth exceeds it.
const maxDepth = 50

// minDeltaOverhead is the rough number of bytes a delta's own two
// leading size varints and at least one instruction cost; a candidate
// delta has to beat this before it's worth the chain-depth it adds.
const minDeltaOverhead = 10

// deltaSelector resolves a set of object hashes into a set of pack
// candidates and, where deltaWindowSize > 0, decides which of them are
// worth delta-encoding against one another.
type deltaSelector struct {
	storer storer.EncodedObjectStorer
}

func newDeltaSelector(s storer.EncodedObjectStorer) *deltaSelector {
	return &deltaSelector{storer: s}
}

// ObjectsToPack resolves hashes into ObjectToPack entries, sorts them to
// maximize the chance similar objects end up near each other, and, if
// deltaWindowSize is nonzero, runs the sliding-window delta search over
// the sorted result.
func (dw *deltaSelector) ObjectsToPack(hashes []plumbing.Hash, deltaWindowSize uint) ([]*ObjectToPack, error) {
	otp, err := dw.objectsToPack(hashes, deltaWindowSize)
	if err != nil {
		return nil, err
	}

	if deltaWindowSize == 0 {
		return otp, nil
	}

	dw.sort(otp)

	if err := dw.walk(otp, deltaWindowSize); err != nil {
		return nil, err
	}

	return otp, nil
}

// objectsToPack resolves hashes into ObjectToPack entries, in the order
// given, without sorting or attempting any delta encoding.
func (dw *deltaSelector) objectsToPack(hashes []plumbing.Hash, _ uint) ([]*ObjectToPack, error) {
	otp := make([]*ObjectToPack, 0, len(hashes))
	for _, h := range hashes {
		o, err := dw.storer.EncodedObject(plumbing.AnyObject, h)
		if err != nil {
			return nil, err
		}

		otp = append(otp, newObjectToPack(o))
	}

	return otp, nil
}

// sort orders candidates by descending object type, then by descending
// size within each type, so that delta search considers objects of the
// same kind (and closest in size) as neighbors.
func (dw *deltaSelector) sort(otp []*ObjectToPack) {
	sort.Slice(otp, func(i, j int) bool {
		a, b := otp[i], otp[j]
		if a.Type() != b.Type() {
			return a.Type() > b.Type()
		}
		return a.Size() > b.Size()
	})
}

// walk runs a sliding-window delta search over otp, which must already
// be sorted: for each entry it considers, as a delta base, each of the
// up to deltaWindowSize entries immediately preceding it, and adopts
// whichever produces the smallest acceptable delta.
func (dw *deltaSelector) walk(otp []*ObjectToPack, deltaWindowSize uint) error {
	if deltaWindowSize == 0 {
		return nil
	}

	for i, target := range otp {
		start := 0
		if i > int(deltaWindowSize) {
			start = i - int(deltaWindowSize)
		}

		var bestBase *ObjectToPack
		var bestDelta []byte

		for j := i - 1; j >= start; j-- {
			base := otp[j]
			if base.Type() != target.Type() {
				continue
			}
			// A base much smaller than the target rarely yields a
			// worthwhile delta; git uses the same rule of thumb.
			if target.Size() < base.Size()/32 {
				continue
			}

			depth := 0
			if base.IsDelta() {
				depth = base.Depth + 1
			}

			limit := dw.deltaSizeLimit(target.Size(), base.Size(), depth, bestDelta != nil)
			if limit <= 0 {
				continue
			}

			delta, err := dw.delta(base, target)
			if err != nil {
				return err
			}
			if delta == nil {
				continue
			}
			if int64(len(delta)) > limit {
				continue
			}
			if bestDelta == nil || len(delta) < len(bestDelta) {
				bestBase = base
				bestDelta = delta
			}
		}

		if bestBase == nil {
			continue
		}

		deltaObj := &plumbing.MemoryObject{}
		deltaObj.SetType(target.Type())
		deltaObj.SetSize(int64(len(bestDelta)))
		if _, err := deltaObj.Write(bestDelta); err != nil {
			return err
		}

		otp[i] = newDeltaObjectToPack(bestBase, target.Original, deltaObj)
	}

	return nil
}

// sortFull orders candidates by (kind, name_hash, preferred_base, size
// desc), the ordering a fully-optioned pack write uses once candidates
// carry a NameHash and PreferredBase flag. ObjectsToPack's plain sort
// stays as-is for callers that never populate those fields.
func (dw *deltaSelector) sortFull(otp []*ObjectToPack) {
	sort.Slice(otp, func(i, j int) bool {
		a, b := otp[i], otp[j]
		if a.Type() != b.Type() {
			return a.Type() > b.Type()
		}
		if a.NameHash != b.NameHash {
			return a.NameHash < b.NameHash
		}
		if a.PreferredBase != b.PreferredBase {
			return a.PreferredBase
		}
		return a.Size() > b.Size()
	})
}

// ObjectsToPackFromTable runs the full Component G/H pipeline over the
// candidates already registered in table: ordering by
// (kind, name_hash, preferred_base, size desc), then a sliding-window
// delta search bound by opts (window, depth, a window-memory cap, delta
// cache admission, and, with opts.Threads > 1, a parallel search
// partitioned across workers).
func (dw *deltaSelector) ObjectsToPackFromTable(table *ObjectTable, opts WriterOptions) ([]*ObjectToPack, error) {
	otp := table.Entries()

	if opts.Window == 0 {
		return otp, nil
	}

	dw.sortFull(otp)

	search := &deltaSearch{selector: dw, opts: normalizeOptions(opts)}
	if err := search.run(otp); err != nil {
		return nil, err
	}

	return otp, nil
}

// delta computes the delta instruction stream that reproduces target's
// content from base's content.
func (dw *deltaSelector) delta(base, target *ObjectToPack) ([]byte, error) {
	baseBuf, err := readAll(base.Original)
	if err != nil {
		return nil, err
	}

	targetBuf, err := readAll(target.Original)
	if err != nil {
		return nil, err
	}

	return DiffDelta(baseBuf, targetBuf), nil
}

func readAll(o plumbing.EncodedObject) ([]byte, error) {
	r, err := o.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// deltaSizeLimit bounds how large an acceptable delta against a base of
// baseSize may be for an object of targetSize, given the chain depth
// the resulting entry would sit at and whether a smaller delta has
// already been found. It shrinks toward zero as depth approaches
// maxDepth, and always requires beating the delta's own encoding
// overhead.
func (dw *deltaSelector) deltaSizeLimit(targetSize, baseSize int64, depth int, hasBestDelta bool) int64 {
	return deltaSizeLimitWithDepthCap(targetSize, baseSize, depth, hasBestDelta, maxDepth)
}

// deltaSizeLimitWithDepthCap is deltaSizeLimit generalized over a
// caller-supplied depth cap, so the WriterOptions-driven search path
// can honor a configured Depth instead of the package default.
func deltaSizeLimitWithDepthCap(targetSize, baseSize int64, depth int, hasBestDelta bool, depthCap int) int64 {
	if depth >= depthCap {
		return 0
	}

	remaining := int64(depthCap - depth)
	limit := targetSize * remaining / int64(depthCap)

	if hasBestDelta {
		limit -= limit / 16
	}

	// A delta can never usefully exceed the smaller of the two objects
	// it sits between, less the overhead of its own encoding.
	ceiling := targetSize
	if baseSize < ceiling {
		ceiling = baseSize
	}
	ceiling -= minDeltaOverhead

	if limit > ceiling {
		limit = ceiling
	}
	if limit < 0 {
		return 0
	}

	return limit
}
