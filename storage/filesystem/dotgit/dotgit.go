// Package dotgit manages the on-disk object store layout under a
// repository's objects directory: loose objects fanned out by the
// first two hex digits of their hash, and packs plus their indexes and
// reverse indexes under objects/pack.
package dotgit

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/format/idxfile"
	"github.com/sourcegit-oss/packvault/plumbing/format/packfile"
	"github.com/sourcegit-oss/packvault/plumbing/format/revfile"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

const (
	objectsPath = "objects"
	packPath    = "pack"

	packExt = ".pack"
	idxExt  = ".idx"
	revExt  = ".rev"
)

// ErrIdxNotFound is returned when a pack's index file cannot be found.
var ErrIdxNotFound = errors.New("idx file not found")

// ErrPackfileNotFound is returned when a pack file cannot be found.
var ErrPackfileNotFound = errors.New("packfile not found")

// DotGit represents the on-disk object store of a repository. The zero
// value is not safe to use; call New.
type DotGit struct {
	fs     billy.Filesystem
	format hash.ObjectFormat
}

// New returns a DotGit backed by fs, hashing loose objects and pack
// checksums under the given object format.
func New(fs billy.Filesystem, format hash.ObjectFormat) *DotGit {
	return &DotGit{fs: fs, format: format}
}

// Fs returns the underlying filesystem.
func (d *DotGit) Fs() billy.Filesystem {
	return d.fs
}

func (d *DotGit) packDir() string {
	return d.fs.Join(objectsPath, packPath)
}

// Object returns the named loose object's file, opened for reading. It
// returns an error satisfying os.IsNotExist if the object doesn't
// exist as a loose object.
func (d *DotGit) Object(h plumbing.Hash) (billy.File, error) {
	hex := h.String()
	path := d.fs.Join(objectsPath, hex[0:2], hex[2:h.HexSize()])
	return d.fs.Open(path)
}

// ObjectStat returns the loose object file's info, notably its
// modification time.
func (d *DotGit) ObjectStat(h plumbing.Hash) (fs.FileInfo, error) {
	hex := h.String()
	path := d.fs.Join(objectsPath, hex[0:2], hex[2:h.HexSize()])
	return d.fs.Stat(path)
}

// ObjectDelete removes the given loose object from disk.
func (d *DotGit) ObjectDelete(h plumbing.Hash) error {
	hex := h.String()
	path := d.fs.Join(objectsPath, hex[0:2], hex[2:h.HexSize()])
	return d.fs.Remove(path)
}

// NewObject returns a writer for a new loose object. The object's final
// name is only known once the header and content have been written and
// Close is called, at which point it's renamed into its fanout
// directory.
func (d *DotGit) NewObject() (*ObjectWriter, error) {
	return newObjectWriter(d.fs, d.format)
}

// Objects returns the hash of every loose object under objects/.
func (d *DotGit) Objects() ([]plumbing.Hash, error) {
	var objects []plumbing.Hash
	err := d.forEachLooseObject(func(h plumbing.Hash) error {
		objects = append(objects, h)
		return nil
	})
	return objects, err
}

// ObjectsWithPrefix returns the hash of every loose object whose hash
// starts with the given prefix.
func (d *DotGit) ObjectsWithPrefix(prefix []byte) ([]plumbing.Hash, error) {
	var objects []plumbing.Hash
	err := d.forEachLooseObject(func(h plumbing.Hash) error {
		if h.HasPrefix(prefix) {
			objects = append(objects, h)
		}
		return nil
	})
	return objects, err
}

// ForEachObjectHash calls fun for every loose object hash, stopping
// early (without error) if fun returns storer.ErrStop.
func (d *DotGit) ForEachObjectHash(fun func(plumbing.Hash) error) error {
	err := d.forEachLooseObject(fun)
	if errors.Is(err, storer.ErrStop) {
		return nil
	}
	return err
}

func (d *DotGit) forEachLooseObject(fun func(plumbing.Hash) error) error {
	fis, err := d.fs.ReadDir(objectsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, fi := range fis {
		if !fi.IsDir() || len(fi.Name()) != 2 || !isHex(fi.Name()) {
			continue
		}

		base := fi.Name()
		entries, err := d.fs.ReadDir(d.fs.Join(objectsPath, base))
		if err != nil {
			return err
		}

		for _, e := range entries {
			h := plumbing.NewHash(base + e.Name())
			if err := fun(h); err != nil {
				return err
			}
		}
	}

	return nil
}

// ObjectPacks returns the checksum of every pack under objects/pack.
func (d *DotGit) ObjectPacks() ([]plumbing.Hash, error) {
	fis, err := d.fs.ReadDir(d.packDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var packs []plumbing.Hash
	for _, fi := range fis {
		name := fi.Name()
		if !strings.HasSuffix(name, packExt) {
			continue
		}
		// pack-<hash>.pack
		hex := name[len("pack-") : len(name)-len(packExt)]
		packs = append(packs, plumbing.NewHash(hex))
	}

	return packs, nil
}

// ObjectPack opens the pack file for the given checksum.
func (d *DotGit) ObjectPack(h plumbing.Hash) (billy.File, error) {
	path := d.fs.Join(d.packDir(), fmt.Sprintf("pack-%s%s", h, packExt))
	f, err := d.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPackfileNotFound
		}
		return nil, err
	}
	return f, nil
}

// ObjectPackIdx opens the index file for the given pack checksum.
func (d *DotGit) ObjectPackIdx(h plumbing.Hash) (billy.File, error) {
	path := d.fs.Join(d.packDir(), fmt.Sprintf("pack-%s%s", h, idxExt))
	f, err := d.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIdxNotFound
		}
		return nil, err
	}
	return f, nil
}

// ObjectPackRev opens the reverse index file for the given pack
// checksum, if one was written alongside it.
func (d *DotGit) ObjectPackRev(h plumbing.Hash) (billy.File, error) {
	path := d.fs.Join(d.packDir(), fmt.Sprintf("pack-%s%s", h, revExt))
	return d.fs.Open(path)
}

// DeleteOldObjectPackAndIndex removes the pack, index and reverse index
// files for checksum h, provided the pack predates t.
func (d *DotGit) DeleteOldObjectPackAndIndex(h plumbing.Hash, t time.Time) error {
	base := d.fs.Join(d.packDir(), fmt.Sprintf("pack-%s", h))

	if !t.IsZero() {
		fi, err := d.fs.Stat(base + packExt)
		if err != nil {
			return err
		}
		if fi.ModTime().After(t) {
			return nil
		}
	}

	for _, ext := range []string{packExt, idxExt, revExt} {
		if err := d.fs.Remove(base + ext); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

// NewObjectPack writes a new pack file containing the given objects,
// resolved from store and optionally delta-compressed against one
// another, plus its index and reverse index, and returns the pack's
// checksum. It is NewObjectPackWithOptions with a single unbounded
// pack: every object is already known up front, so the pack can be
// encoded straight to its final byte layout in one synchronous pass.
func (d *DotGit) NewObjectPack(store storer.EncodedObjectStorer, hashes []plumbing.Hash, windowSize uint, useRefDeltas bool) (plumbing.Hash, error) {
	opts := packfile.DefaultWriterOptions()
	opts.Window = windowSize
	opts.AllowOfsDelta = !useRefDeltas

	checksums, err := d.NewObjectPackWithOptions(store, hashes, opts)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return checksums[0], nil
}

// NewObjectPackWithOptions writes store's hashes into one or more pack
// files according to opts, splitting across packs whenever
// opts.PackSizeLimit is nonzero and the next object would cross it,
// and returns the checksum of each pack written, in order. Every
// temporary pack file is cleaned up if any step fails.
func (d *DotGit) NewObjectPackWithOptions(store storer.EncodedObjectStorer, hashes []plumbing.Hash, opts packfile.WriterOptions) ([]plumbing.Hash, error) {
	table := packfile.NewObjectTable(store)
	for _, h := range hashes {
		if _, err := table.AddCandidate(h, "", false); err != nil {
			return nil, err
		}
	}

	return d.newObjectPacksFromTable(store, table, opts)
}

// NewObjectPackFromCandidates is NewObjectPackWithOptions for callers
// that have already built a candidate table directly, e.g. to register
// preferred bases via table.AddCandidate(oid, hint, true) before
// packing.
func (d *DotGit) NewObjectPackFromCandidates(store storer.EncodedObjectStorer, table *packfile.ObjectTable, opts packfile.WriterOptions) ([]plumbing.Hash, error) {
	return d.newObjectPacksFromTable(store, table, opts)
}

func (d *DotGit) newObjectPacksFromTable(store storer.EncodedObjectStorer, table *packfile.ObjectTable, opts packfile.WriterOptions) ([]plumbing.Hash, error) {
	var tempNames []string
	var writers []billy.File

	cleanup := func() {
		for _, fw := range writers {
			_ = fw.Close()
		}
		for _, name := range tempNames {
			_ = d.fs.Remove(name)
		}
	}

	newWriter := func() (io.Writer, error) {
		fw, err := d.fs.TempFile(d.packDir(), "tmp_pack_")
		if err != nil {
			return nil, err
		}
		writers = append(writers, fw)
		tempNames = append(tempNames, fw.Name())
		return fw, nil
	}

	results, err := packfile.EncodeSplit(newWriter, store, table, opts)
	if err != nil {
		cleanup()
		return nil, err
	}

	for _, fw := range writers {
		if err := fw.Close(); err != nil {
			cleanup()
			return nil, err
		}
	}

	checksums := make([]plumbing.Hash, 0, len(results))
	for i, res := range results {
		idx, err := d.buildIndexFromResult(res)
		if err != nil {
			cleanup()
			return nil, err
		}

		base := d.fs.Join(d.packDir(), fmt.Sprintf("pack-%s", res.Checksum))

		if err := d.writeIdx(base+idxExt, idx); err != nil {
			cleanup()
			return nil, err
		}
		if err := d.writeRev(base+revExt, idx); err != nil {
			cleanup()
			return nil, err
		}
		if err := d.fs.Rename(tempNames[i], base+packExt); err != nil {
			cleanup()
			return nil, err
		}
		fixPermissions(d.fs, base+packExt)

		checksums = append(checksums, res.Checksum)
	}

	return checksums, nil
}

func (d *DotGit) buildIndexFromResult(res packfile.PackResult) (*idxfile.MemoryIndex, error) {
	w := &idxfile.Writer{}
	for _, h := range res.Hashes {
		w.Add(h, res.Offsets[h], res.CRCs[h])
	}
	w.Checksum(res.Checksum)

	return w.CreateIndex()
}

func (d *DotGit) writeIdx(path string, idx *idxfile.MemoryIndex) error {
	f, err := d.fs.Create(path)
	if err != nil {
		return err
	}

	if _, err := idxfile.NewEncoder(f).Encode(idx); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	fixPermissions(d.fs, path)
	return nil
}

func (d *DotGit) writeRev(path string, idx *idxfile.MemoryIndex) error {
	f, err := d.fs.Create(path)
	if err != nil {
		return err
	}

	if err := revfile.NewEncoder(f, hash.New(d.format)).Encode(idx); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	fixPermissions(d.fs, path)
	return nil
}

// Init creates the objects/pack directory so loose object and pack
// temp files have somewhere to live.
func (d *DotGit) Init() error {
	return d.fs.MkdirAll(d.packDir(), 0o755)
}

func isHex(s string) bool {
	for _, b := range []byte(s) {
		switch {
		case b >= '0' && b <= '9':
		case b >= 'a' && b <= 'f', b >= 'A' && b <= 'F':
		default:
			return false
		}
	}
	return true
}
