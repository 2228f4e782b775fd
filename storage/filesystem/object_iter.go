package filesystem

import (
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/format/idxfile"
	"github.com/sourcegit-oss/packvault/plumbing/format/packfile"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// lazyPackfilesIter iterates the objects of a sequence of packs,
// opening each pack only once the previous one has been drained.
type lazyPackfilesIter struct {
	hashes []plumbing.Hash
	open   func(h plumbing.Hash) (storer.EncodedObjectIter, error)
	cur    storer.EncodedObjectIter
}

func (it *lazyPackfilesIter) Next() (plumbing.EncodedObject, error) {
	for {
		if it.cur == nil {
			if len(it.hashes) == 0 {
				return nil, io.EOF
			}
			h := it.hashes[0]
			it.hashes = it.hashes[1:]

			sub, err := it.open(h)
			if err != nil {
				return nil, err
			}
			it.cur = sub
		}

		obj, err := it.cur.Next()
		if err == io.EOF {
			it.cur.Close()
			it.cur = nil
			continue
		} else if err != nil {
			return nil, err
		}
		return obj, nil
	}
}

func (it *lazyPackfilesIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for {
		obj, err := it.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := cb(obj); err != nil {
			return err
		}
	}
}

func (it *lazyPackfilesIter) Close() {
	if it.cur != nil {
		it.cur.Close()
		it.cur = nil
	}
	it.hashes = nil
}

// packfileIter iterates every object of a single pack, filtering by
// type and skipping hashes already seen in an earlier loose scan or
// an earlier pack.
type packfileIter struct {
	pack     billy.File
	iter     storer.EncodedObjectIter
	t        plumbing.ObjectType
	seen     map[plumbing.Hash]struct{}
	keepPack bool
}

func newPackfileIter(f billy.File, idx idxfile.Index, t plumbing.ObjectType, seen map[plumbing.Hash]struct{}, keepPack bool) (storer.EncodedObjectIter, error) {
	p := packfile.NewPackfile(idx, f)

	iter, err := p.GetAll()
	if err != nil {
		return nil, err
	}

	return &packfileIter{
		pack:     f,
		iter:     iter,
		t:        t,
		seen:     seen,
		keepPack: keepPack,
	}, nil
}

func (it *packfileIter) Next() (plumbing.EncodedObject, error) {
	for {
		obj, err := it.iter.Next()
		if err != nil {
			return nil, err
		}

		if _, ok := it.seen[obj.Hash()]; ok {
			continue
		}
		it.seen[obj.Hash()] = struct{}{}

		if it.t != plumbing.AnyObject && obj.Type() != it.t {
			continue
		}

		return obj, nil
	}
}

func (it *packfileIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for {
		obj, err := it.Next()
		if err != nil {
			if err == io.EOF {
				it.Close()
				return nil
			}
			return err
		}

		if err := cb(obj); err != nil {
			return err
		}
	}
}

func (it *packfileIter) Close() {
	it.iter.Close()
	if !it.keepPack {
		_ = it.pack.Close()
	}
}

// objectsIter iterates the loose objects named in h, filtering by type.
type objectsIter struct {
	s *ObjectStorage
	t plumbing.ObjectType
	h []plumbing.Hash
}

func (it *objectsIter) Next() (plumbing.EncodedObject, error) {
	if len(it.h) == 0 {
		return nil, io.EOF
	}

	h := it.h[0]
	it.h = it.h[1:]

	obj, err := it.s.getFromUnpacked(h)
	if err != nil {
		return nil, err
	}

	if it.t != plumbing.AnyObject && obj.Type() != it.t {
		return it.Next()
	}

	return obj, nil
}

func (it *objectsIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for {
		obj, err := it.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := cb(obj); err != nil {
			return err
		}
	}
}

func (it *objectsIter) Close() {
	it.h = nil
}
