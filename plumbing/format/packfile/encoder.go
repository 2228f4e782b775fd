package packfile

import (
	"compress/zlib"
	"fmt"
	gohash "hash"
	"hash/crc32"
	"io"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// signature is the 4-byte magic every pack file starts with.
var signature = [4]byte{'P', 'A', 'C', 'K'}

// VersionSupported is the only pack format version this module writes
// or reads.
const VersionSupported = 2

// Encoder writes a set of objects, resolved from a storer.EncodedObjectStorer
// and optionally delta-compressed against one another, out as a single
// pack file.
type Encoder struct {
	storer       storer.EncodedObjectStorer
	selector     *deltaSelector
	w            *offsetWriter
	zw           *zlib.Writer
	hasher       gohash.Hash
	format       hash.ObjectFormat
	useRefDeltas bool
	offsets      map[plumbing.Hash]int64
	crcs         map[plumbing.Hash]uint32
	crc          gohash.Hash32
}

// Offsets returns, for every hash written so far, its pack-relative
// byte offset. Used to build a pack index alongside the pack itself.
func (e *Encoder) Offsets() map[plumbing.Hash]int64 {
	return e.offsets
}

// CRCs returns, for every hash written so far, the CRC-32 checksum of
// its on-disk record (header plus compressed body). Used to build a
// pack index alongside the pack itself.
func (e *Encoder) CRCs() map[plumbing.Hash]uint32 {
	return e.crcs
}

// NewEncoder returns an Encoder writing to w, resolving objects from s.
// When useRefDeltas is true, delta entries reference their base by
// hash (ref-delta); otherwise they reference it by backward byte
// offset within the same pack (ofs-delta), which is smaller but only
// valid once the base has already been written.
func NewEncoder(w io.Writer, s storer.EncodedObjectStorer, useRefDeltas bool) *Encoder {
	return NewEncoderWithOptions(w, s, WriterOptions{
		Compression:   zlib.DefaultCompression,
		AllowOfsDelta: !useRefDeltas,
	})
}

// NewEncoderWithOptions returns an Encoder writing to w, resolving
// objects from s, using opts.Compression as the zlib level for every
// payload and opts.AllowOfsDelta to decide between ofs-delta and
// ref-delta encoding. An invalid Compression level falls back to
// zlib.DefaultCompression.
func NewEncoderWithOptions(w io.Writer, s storer.EncodedObjectStorer, opts WriterOptions) *Encoder {
	h := hash.New(hash.SHA1)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, h, crc)
	ow := newOffsetWriter(mw)

	level := opts.Compression
	zw, err := zlib.NewWriterLevel(mw, level)
	if err != nil {
		zw = zlib.NewWriter(mw)
	}

	return &Encoder{
		storer:       s,
		selector:     newDeltaSelector(s),
		w:            ow,
		zw:           zw,
		hasher:       h,
		format:       hash.SHA1,
		useRefDeltas: !opts.AllowOfsDelta,
		offsets:      make(map[plumbing.Hash]int64),
		crcs:         make(map[plumbing.Hash]uint32),
		crc:          crc,
	}
}

// Encode resolves hashes into objects, runs the sliding-window delta
// search over them with the given window size (0 disables delta
// compression), and writes the resulting pack, returning its digest.
func (e *Encoder) Encode(hashes []plumbing.Hash, deltaWindowSize uint) (plumbing.Hash, error) {
	objects, err := e.selector.ObjectsToPack(hashes, deltaWindowSize)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return e.encode(objects)
}

func (e *Encoder) encode(objects []*ObjectToPack) (plumbing.Hash, error) {
	count := 0
	for _, o := range objects {
		if !o.PreferredBase {
			count++
		}
	}

	if err := e.head(count); err != nil {
		return plumbing.ZeroHash, err
	}

	// ofs-delta entries need their base already written, which the
	// delta selector guarantees by construction: walk only ever chains
	// an entry to one earlier in the same slice. preferred_base
	// entries exist only to serve as a delta base and are never
	// themselves emitted.
	for _, o := range objects {
		if o.PreferredBase {
			continue
		}
		if err := e.entry(o); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	return e.footer()
}

func (e *Encoder) head(numEntries int) error {
	if _, err := e.w.Write(signature[:]); err != nil {
		return err
	}

	var buf [8]byte
	buf[0] = byte(VersionSupported >> 24)
	buf[1] = byte(VersionSupported >> 16)
	buf[2] = byte(VersionSupported >> 8)
	buf[3] = byte(VersionSupported)
	buf[4] = byte(numEntries >> 24)
	buf[5] = byte(numEntries >> 16)
	buf[6] = byte(numEntries >> 8)
	buf[7] = byte(numEntries)

	_, err := e.w.Write(buf[:])
	return err
}

func (e *Encoder) entry(o *ObjectToPack) error {
	offset := e.w.Offset()
	e.crc.Reset()

	typ := o.Object.Type()
	if o.IsDelta() {
		// A preferred-base entry is never emitted into this pack, so an
		// ofs-delta's backward byte offset would have nothing to point
		// at; fall back to ref-delta whenever the base isn't going to
		// be on disk alongside it.
		if e.useRefDeltas || o.Base.PreferredBase {
			typ = plumbing.REFDeltaObject
		} else {
			typ = plumbing.OFSDeltaObject
		}
	}

	if _, err := e.w.Write(encodeObjectHeader(typ, o.Object.Size())); err != nil {
		return err
	}

	e.offsets[o.Original.Hash()] = offset

	if err := e.writeDeltaHeaderIfAny(o, typ, offset); err != nil {
		return err
	}

	e.zw.Reset(e.w)
	r, err := o.Object.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := io.Copy(e.zw, r); err != nil {
		return err
	}

	if err := e.zw.Close(); err != nil {
		return err
	}

	e.crcs[o.Original.Hash()] = e.crc.Sum32()
	return nil
}

func (e *Encoder) writeDeltaHeaderIfAny(o *ObjectToPack, typ plumbing.ObjectType, offset int64) error {
	if !o.IsDelta() {
		return nil
	}

	switch typ {
	case plumbing.OFSDeltaObject:
		return e.writeOfsDeltaHeader(offset, o.Base.Original.Hash())
	case plumbing.REFDeltaObject:
		return e.writeRefDeltaHeader(o.Base.Original.Hash())
	}

	return nil
}

func (e *Encoder) writeRefDeltaHeader(base plumbing.Hash) error {
	_, err := e.w.Write(base.Bytes())
	return err
}

func (e *Encoder) writeOfsDeltaHeader(deltaOffset int64, base plumbing.Hash) error {
	baseOffset, ok := e.offsets[base]
	if !ok {
		return fmt.Errorf("packfile: delta base not yet written: %s", base)
	}

	_, err := e.w.Write(encodeOfsDelta(deltaOffset - baseOffset))
	return err
}

func (e *Encoder) footer() (plumbing.Hash, error) {
	sum := e.hasher.Sum(nil)

	id, ok := plumbing.FromBytes(sum)
	if !ok {
		return plumbing.ZeroHash, fmt.Errorf("packfile: unexpected digest width %d", len(sum))
	}

	_, err := e.w.Write(sum)
	return id, err
}

// offsetWriter wraps an io.Writer, tracking how many bytes have been
// written through it so entries can record their pack-relative offset.
type offsetWriter struct {
	w      io.Writer
	offset int64
}

func newOffsetWriter(w io.Writer) *offsetWriter {
	return &offsetWriter{w: w}
}

func (ow *offsetWriter) Write(p []byte) (int, error) {
	n, err := ow.w.Write(p)
	ow.offset += int64(n)
	return n, err
}

func (ow *offsetWriter) Offset() int64 {
	return ow.offset
}
