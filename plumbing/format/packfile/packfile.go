package packfile

import (
	"bytes"
	"fmt"
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/cache"
	"github.com/sourcegit-oss/packvault/plumbing/format/idxfile"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// Packfile gives random and sequential access to the objects stored in
// a single pack, resolving delta chains against other entries of the
// same pack; bases stored outside the pack are not looked up.
type Packfile struct {
	idxfile.Index
	billy.File
	s              *Scanner
	deltaBaseCache cache.Object
	offsetToHash   map[int64]plumbing.Hash
}

// NewPackfile returns a Packfile over the pack stored in file, using
// index to resolve hashes and offsets.
func NewPackfile(index idxfile.Index, file billy.File) *Packfile {
	return &Packfile{
		Index:          index,
		File:           file,
		s:              NewScanner(file),
		deltaBaseCache: cache.NewObjectLRUDefault(),
		offsetToHash:   make(map[int64]plumbing.Hash),
	}
}

// Get retrieves the encoded object with the given hash.
func (p *Packfile) Get(h plumbing.Hash) (plumbing.EncodedObject, error) {
	offset, err := p.FindOffset(h)
	if err != nil {
		return nil, err
	}

	return p.GetByOffset(offset)
}

// GetByOffset retrieves the encoded object stored at the given
// pack-relative byte offset.
func (p *Packfile) GetByOffset(offset int64) (plumbing.EncodedObject, error) {
	if h, ok := p.offsetToHash[offset]; ok {
		if obj, ok := p.deltaBaseCache.Get(h); ok {
			return obj, nil
		}
	}

	if err := p.s.SeekFromStart(offset); err != nil {
		return nil, err
	}

	return p.nextObject()
}

// maxDeltaChainDepth bounds how many delta layers nextObject will
// unwind before giving up; a pathological or corrupt chain returns
// ErrDeltaTooDeep instead of growing the resolution work without
// bound.
const maxDeltaChainDepth = 4096

func (p *Packfile) nextObject() (plumbing.EncodedObject, error) {
	oh, err := p.s.NextObjectHeader()
	if err != nil {
		return nil, err
	}

	switch oh.Type {
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
		obj := &plumbing.MemoryObject{}
		obj.SetSize(oh.Size)
		obj.SetType(oh.Type)
		if err := p.fillRegularObjectContent(obj); err != nil {
			return obj, err
		}
		p.offsetToHash[oh.Offset] = obj.Hash()
		return obj, nil
	case plumbing.REFDeltaObject, plumbing.OFSDeltaObject:
		return p.resolveDeltaChain(oh)
	default:
		return nil, fmt.Errorf("packfile: invalid object type %d", oh.Type)
	}
}

func (p *Packfile) fillRegularObjectContent(obj plumbing.EncodedObject) error {
	w, err := obj.Writer()
	if err != nil {
		return err
	}
	defer w.Close()

	_, _, err = p.s.NextObject(w)
	return err
}

// deltaLayer holds one link of a delta chain: the delta instruction
// stream read from the pack and the pack offset it was read from, kept
// around so the resolved object can be indexed by offset once unwound.
type deltaLayer struct {
	offset int64
	data   []byte
}

// resolveDeltaChain walks a chain of ref/ofs delta objects down to its
// base, reading one layer per iteration rather than recursing through
// nextObject/Get/GetByOffset, then unwinds the chain by applying each
// delta in turn from the base back up to the originally requested
// object. oh is the header of the first (outermost) delta layer, whose
// payload has not yet been read from the scanner.
func (p *Packfile) resolveDeltaChain(oh *ObjectHeader) (plumbing.EncodedObject, error) {
	buf := new(bytes.Buffer)
	if _, _, err := p.s.NextObject(buf); err != nil {
		return nil, err
	}
	// Reading the bases moves the scanner; sequential reads (GetAll)
	// resume from the end of this entry.
	next := p.s.r.offset

	layers := []deltaLayer{{offset: oh.Offset, data: buf.Bytes()}}
	typ, ref, offsetRef := oh.Type, oh.Reference, oh.OffsetReference

	var base plumbing.EncodedObject
	for {
		if len(layers) > maxDeltaChainDepth {
			return nil, ErrDeltaTooDeep
		}

		var baseOffset int64
		if typ == plumbing.REFDeltaObject {
			if b, ok := p.cacheGet(ref); ok {
				base = b
				break
			}
			off, err := p.FindOffset(ref)
			if err != nil {
				return nil, err
			}
			baseOffset = off
		} else {
			baseOffset = offsetRef
			if h, found := p.offsetToHash[baseOffset]; found {
				if b, ok := p.cacheGet(h); ok {
					base = b
					break
				}
			}
		}

		if err := p.s.SeekFromStart(baseOffset); err != nil {
			return nil, err
		}

		boh, err := p.s.NextObjectHeader()
		if err != nil {
			return nil, err
		}

		switch boh.Type {
		case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
			bobj := &plumbing.MemoryObject{}
			bobj.SetSize(boh.Size)
			bobj.SetType(boh.Type)
			if err := p.fillRegularObjectContent(bobj); err != nil {
				return nil, err
			}
			p.offsetToHash[boh.Offset] = bobj.Hash()
			base = bobj
		case plumbing.REFDeltaObject, plumbing.OFSDeltaObject:
			bbuf := new(bytes.Buffer)
			if _, _, err := p.s.NextObject(bbuf); err != nil {
				return nil, err
			}
			layers = append(layers, deltaLayer{offset: boh.Offset, data: bbuf.Bytes()})
			typ, ref, offsetRef = boh.Type, boh.Reference, boh.OffsetReference
			continue
		default:
			return nil, fmt.Errorf("packfile: invalid object type %d", boh.Type)
		}
		break
	}

	for i := len(layers) - 1; i >= 0; i-- {
		obj := &plumbing.MemoryObject{}
		obj.SetType(base.Type())
		if err := ApplyDelta(obj, base, layers[i].data); err != nil {
			return nil, err
		}
		p.offsetToHash[layers[i].offset] = obj.Hash()
		p.cachePut(obj)
		base = obj
	}

	if err := p.s.SeekFromStart(next); err != nil {
		return nil, err
	}

	return base, nil
}

func (p *Packfile) cacheGet(h plumbing.Hash) (plumbing.EncodedObject, bool) {
	if p.deltaBaseCache == nil {
		return nil, false
	}
	return p.deltaBaseCache.Get(h)
}

func (p *Packfile) cachePut(obj plumbing.EncodedObject) {
	if p.deltaBaseCache == nil {
		return
	}
	p.deltaBaseCache.Put(obj)
}

// GetAll returns an iterator over every object in the pack, in the
// order they appear within it.
func (p *Packfile) GetAll() (storer.EncodedObjectIter, error) {
	s := NewScanner(p.File)
	_, count, err := s.Header()
	if err != nil {
		return nil, err
	}

	return &objectIter{
		d:     &Packfile{Index: p.Index, s: s, deltaBaseCache: p.deltaBaseCache, offsetToHash: p.offsetToHash},
		count: int(count),
	}, nil
}

// ID returns the pack's own checksum, stored in its trailing 20 bytes.
func (p *Packfile) ID() (plumbing.Hash, error) {
	if _, err := p.File.Seek(-20, io.SeekEnd); err != nil {
		return plumbing.ZeroHash, err
	}

	buf := make([]byte, 20)
	if _, err := io.ReadFull(p.File, buf); err != nil {
		return plumbing.ZeroHash, err
	}

	id, ok := plumbing.FromBytes(buf)
	if !ok {
		return plumbing.ZeroHash, fmt.Errorf("packfile: unexpected checksum width")
	}
	return id, nil
}

// Close releases the pack's underlying file.
func (p *Packfile) Close() error {
	if p.File == nil {
		return nil
	}
	return p.File.Close()
}

type objectDecoder interface {
	nextObject() (plumbing.EncodedObject, error)
}

type objectIter struct {
	d     objectDecoder
	count int
	pos   int
}

func (i *objectIter) Next() (plumbing.EncodedObject, error) {
	if i.pos >= i.count {
		return nil, io.EOF
	}

	i.pos++
	return i.d.nextObject()
}

func (i *objectIter) ForEach(f func(plumbing.EncodedObject) error) error {
	for {
		o, err := i.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := f(o); err != nil {
			return err
		}
	}
}

func (i *objectIter) Close() {
	i.pos = i.count
}
