package packfile

import (
	"sync"
	"sync/atomic"

	"github.com/sourcegit-oss/packvault/plumbing"
)

// deltaSearch runs the WriterOptions-driven sliding-window delta search
// (Component H) over a sorted candidate slice, optionally partitioned
// across concurrent workers. It owns the three pieces of state the
// search's parallel mode shares across workers: the object store access
// used to inflate payloads, the delta-cache byte accounting, and a
// progress counter, each behind its own mutex (the progress counter
// uses an atomic instead, which gives the same exclusion without a
// separate lock).
type deltaSearch struct {
	selector *deltaSelector
	opts     WriterOptions

	storeMu   sync.Mutex
	cacheMu   sync.Mutex
	cacheUsed int64
	progress  atomic.Int64
}

// run searches otp for delta opportunities in place. With
// opts.Threads <= 1 (or too few candidates to split), it searches the
// whole slice on the calling goroutine; otherwise it partitions otp
// into contiguous chunks aligned on NameHash boundaries and runs one
// worker per chunk, each against its own window.
func (ds *deltaSearch) run(otp []*ObjectToPack) error {
	if ds.opts.Threads <= 1 || len(otp) < ds.opts.Threads {
		return ds.searchRange(otp, 0, len(otp))
	}

	chunks := partitionByNameHash(otp, ds.opts.Threads)

	var wg sync.WaitGroup
	errs := make([]error, len(chunks))
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, lo, hi int) {
			defer wg.Done()
			errs[i] = ds.searchRange(otp, lo, hi)
		}(i, c[0], c[1])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// partitionByNameHash splits otp into up to threads contiguous chunks
// of roughly even size, never splitting a run of equal NameHash values
// across two chunks.
func partitionByNameHash(otp []*ObjectToPack, threads int) [][2]int {
	n := len(otp)
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		return [][2]int{{0, n}}
	}

	chunkSize := n / threads
	if chunkSize == 0 {
		chunkSize = 1
	}

	var chunks [][2]int
	start := 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			for end < n && otp[end].NameHash == otp[end-1].NameHash {
				end++
			}
		}
		chunks = append(chunks, [2]int{start, end})
		start = end
	}

	return chunks
}

// searchRange runs the sliding-window search over otp[lo:hi], using
// only entries in that range as both targets and bases: each worker's
// window never reaches into another worker's chunk, so no entry is
// ever read or written by more than one goroutine.
func (ds *deltaSearch) searchRange(otp []*ObjectToPack, lo, hi int) error {
	window := int(ds.opts.Window)
	depthCap := ds.opts.Depth

	for i := lo; i < hi; i++ {
		target := otp[i]
		if target.NoTryDelta {
			ds.progress.Add(1)
			continue
		}

		start := lo
		if i-window > start {
			start = i - window
		}

		if ds.opts.WindowMemory > 0 {
			start = ds.shrinkToMemoryCap(otp, start, i)
		}

		bestBase, bestDelta, err := ds.bestDelta(otp, target, start, i, depthCap)
		if err != nil {
			return err
		}

		if bestBase == nil {
			ds.progress.Add(1)
			continue
		}

		deltaObj := &plumbing.MemoryObject{}
		deltaObj.SetType(target.Type())
		deltaObj.SetSize(int64(len(bestDelta)))
		if _, err := deltaObj.Write(bestDelta); err != nil {
			return err
		}

		packed := newDeltaObjectToPack(bestBase, target.Original, deltaObj)
		packed.NameHash = target.NameHash
		packed.PreferredBase = target.PreferredBase
		packed.NoTryDelta = target.NoTryDelta
		packed.DeltaSize = int64(len(bestDelta))
		if ds.admitToCache(bestBase.Size(), target.Size(), int64(len(bestDelta))) {
			packed.DeltaData = bestDelta
		}

		otp[i] = packed
		ds.progress.Add(1)
	}

	return nil
}

// shrinkToMemoryCap returns the smallest start >= the caller-supplied
// start such that the cumulative size of otp[start:i] (the payloads a
// window holding those entries would need inflated) is at or under
// opts.WindowMemory, freeing the window's tail entry by entry until it
// fits. The window is never narrowed below one entry, so a single
// entry larger than the cap is still kept.
func (ds *deltaSearch) shrinkToMemoryCap(otp []*ObjectToPack, start, i int) int {
	var mem int64
	for j := start; j < i; j++ {
		mem += otp[j].Size()
	}

	for start < i-1 && mem > ds.opts.WindowMemory {
		mem -= otp[start].Size()
		start++
	}

	return start
}

// bestDelta tries every candidate base in otp[start:i] against target,
// as deltaSelector.walk does, and returns whichever produces the
// smallest acceptable delta.
func (ds *deltaSearch) bestDelta(otp []*ObjectToPack, target *ObjectToPack, start, i, depthCap int) (*ObjectToPack, []byte, error) {
	var bestBase *ObjectToPack
	var bestDelta []byte

	for j := i - 1; j >= start; j-- {
		base := otp[j]
		if base.Type() != target.Type() {
			continue
		}
		if target.Size() < base.Size()/32 {
			continue
		}

		depth := 0
		if base.IsDelta() {
			depth = base.Depth + 1
		}
		if depth >= depthCap {
			continue
		}

		limit := deltaSizeLimitWithDepthCap(target.Size(), base.Size(), depth, bestDelta != nil, depthCap)
		if limit <= 0 {
			continue
		}

		ds.storeMu.Lock()
		delta, err := ds.selector.delta(base, target)
		ds.storeMu.Unlock()
		if err != nil {
			return nil, nil, err
		}
		if delta == nil || int64(len(delta)) > limit {
			continue
		}
		if bestDelta == nil || len(delta) < len(bestDelta) {
			bestBase = base
			bestDelta = delta
		}
	}

	return bestBase, bestDelta, nil
}

// admitToCache applies the delta-cache admission heuristic: a delta is
// retained if doing so keeps total cache usage under DeltaCacheSize,
// and either the delta itself is small or the objects it sits between
// are large relative to it.
func (ds *deltaSearch) admitToCache(srcSize, trgSize, deltaSize int64) bool {
	if ds.opts.DeltaCacheSize == 0 {
		return true
	}

	ds.cacheMu.Lock()
	defer ds.cacheMu.Unlock()

	if ds.cacheUsed+deltaSize > ds.opts.DeltaCacheSize {
		return false
	}

	small := deltaSize < ds.opts.DeltaCacheLimit
	large := (srcSize>>20)+(trgSize>>21) > deltaSize>>10
	if !small && !large {
		return false
	}

	ds.cacheUsed += deltaSize
	return true
}
