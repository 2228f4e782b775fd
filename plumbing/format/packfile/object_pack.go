package packfile

import (
	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// ObjectToPack is a candidate pack entry: either a full object, or an
// object encoded as a delta against another ObjectToPack already queued
// for the same pack.
type ObjectToPack struct {
	// Object is what gets written to the pack: the full object for a
	// non-delta entry, or the delta-encoded stand-in once walk has
	// chosen a base for it.
	Object plumbing.EncodedObject
	// Original is the object's real, non-delta content. It stays
	// available after Object is replaced by a delta so later entries
	// can still use this one as a delta base.
	Original plumbing.EncodedObject
	// Base is the ObjectToPack this entry is delta-encoded against, or
	// nil for a non-delta entry.
	Base *ObjectToPack
	// Depth is the length of the delta chain ending at this entry: 0
	// for a non-delta entry, Base.Depth+1 otherwise.
	Depth int

	// NameHash is a 32-bit hint derived from the candidate's path,
	// used to cluster similar objects together before delta search and
	// to align parallel-worker chunk boundaries.
	NameHash uint32
	// PreferredBase marks an entry that exists to serve as a delta
	// base only; the writer never emits it on its own.
	PreferredBase bool
	// NoTryDelta marks a path the caller has flagged as not worth
	// delta-encoding (e.g. already-compressed content); the entry is
	// still usable as a base for others.
	NoTryDelta bool

	// DeltaSize is the size, in bytes, of the chosen delta, if any.
	DeltaSize int64
	// DeltaData optionally caches the chosen delta's bytes so emission
	// can reuse them without recomputing; left nil when the delta
	// cache admission heuristic declines to retain it.
	DeltaData []byte
}

// newObjectToPack wraps o as a non-delta pack candidate.
func newObjectToPack(o plumbing.EncodedObject) *ObjectToPack {
	return &ObjectToPack{Object: o, Original: o}
}

// newDeltaObjectToPack wraps delta, the delta-encoded stand-in for
// original, as a pack candidate chained off base.
func newDeltaObjectToPack(base *ObjectToPack, original, delta plumbing.EncodedObject) *ObjectToPack {
	return &ObjectToPack{
		Object:   delta,
		Original: original,
		Base:     base,
		Depth:    base.Depth + 1,
	}
}

// IsDelta reports whether this entry is encoded as a delta against
// another ObjectToPack.
func (o *ObjectToPack) IsDelta() bool {
	return o.Base != nil
}

// Type returns the object's real, non-delta type.
func (o *ObjectToPack) Type() plumbing.ObjectType {
	return o.Original.Type()
}

// Size returns the object's real, non-delta size.
func (o *ObjectToPack) Size() int64 {
	return o.Original.Size()
}

// Hash returns the object's real identity, unaffected by delta-encoding.
func (o *ObjectToPack) Hash() plumbing.Hash {
	return o.Original.Hash()
}

// maxPreferredBaseSlots bounds the preferred-base tree cache: once full,
// a new registration only succeeds by displacing an entry whose
// reference count has dropped to zero.
const maxPreferredBaseSlots = 256

// preferredBaseCache tracks objects registered purely as delta bases.
// Each slot is reference-counted so a base stays available for as long
// as something still points at it.
type preferredBaseCache struct {
	refs  map[plumbing.Hash]int
	order []plumbing.Hash
}

func newPreferredBaseCache() *preferredBaseCache {
	return &preferredBaseCache{refs: make(map[plumbing.Hash]int)}
}

// retain registers h as a preferred base, reusing a zero-ref slot once
// the cache is full. It reports whether h now holds a slot.
func (c *preferredBaseCache) retain(h plumbing.Hash) bool {
	if _, ok := c.refs[h]; ok {
		c.refs[h]++
		return true
	}

	if len(c.refs) < maxPreferredBaseSlots {
		c.refs[h] = 1
		c.order = append(c.order, h)
		return true
	}

	for i, old := range c.order {
		if c.refs[old] == 0 {
			delete(c.refs, old)
			c.refs[h] = 1
			c.order[i] = h
			return true
		}
	}

	return false
}

// ObjectTable deduplicates pack candidates by hash and maintains the
// preferred-base tree cache behind the add_candidate producer API.
type ObjectTable struct {
	store   storer.EncodedObjectStorer
	index   map[plumbing.Hash]int
	entries []*ObjectToPack
	bases   *preferredBaseCache
}

// NewObjectTable returns an empty candidate table backed by store.
func NewObjectTable(store storer.EncodedObjectStorer) *ObjectTable {
	return &ObjectTable{
		store: store,
		index: make(map[plumbing.Hash]int),
		bases: newPreferredBaseCache(),
	}
}

// AddCandidate registers oid as a pack candidate, deriving its
// NameHash from nameHint. exclude=true registers the object as a
// preferred delta base only: it takes a slot in the preferred-base
// tree cache when one is free or reusable, and is never emitted. Adding an already-registered oid
// merges into the existing entry; if it was previously excluded and
// this call is not, PreferredBase is cleared since the object is now
// wanted for emission too.
func (t *ObjectTable) AddCandidate(oid plumbing.Hash, nameHint string, exclude bool) (*ObjectToPack, error) {
	if idx, ok := t.index[oid]; ok {
		e := t.entries[idx]
		if nameHint != "" {
			e.NameHash = computeNameHash(nameHint)
		}
		if exclude {
			t.bases.retain(oid)
		} else {
			e.PreferredBase = false
		}
		return e, nil
	}

	obj, err := t.store.EncodedObject(plumbing.AnyObject, oid)
	if err != nil {
		return nil, err
	}

	e := newObjectToPack(obj)
	e.NameHash = computeNameHash(nameHint)
	e.PreferredBase = exclude
	if exclude {
		t.bases.retain(oid)
	}

	t.index[oid] = len(t.entries)
	t.entries = append(t.entries, e)

	return e, nil
}

// Entries returns every candidate registered so far, in registration
// order.
func (t *ObjectTable) Entries() []*ObjectToPack {
	return t.entries
}

// computeNameHash derives a 32-bit grouping hint from a candidate's
// path hint (e.g. its tree entry name), using at most its last 16
// non-whitespace bytes. Bytes nearer the end of the name weigh more
// heavily, so objects that share a trailing run of characters (commonly
// a file extension) hash close together.
func computeNameHash(name string) uint32 {
	if name == "" {
		return 0
	}

	tail := make([]byte, 0, 16)
	for i := len(name) - 1; i >= 0 && len(tail) < 16; i-- {
		c := name[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			break
		}
		tail = append(tail, c)
	}

	var hash uint32
	for i := len(tail) - 1; i >= 0; i-- {
		hash = (hash >> 2) + (uint32(tail[i]) << 24)
	}

	return hash
}
