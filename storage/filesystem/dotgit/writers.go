package dotgit

import (
	"github.com/go-git/go-billy/v5"

	"github.com/sourcegit-oss/packvault/plumbing/format/objfile"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// ObjectWriter writes a single loose object to a temp file under
// objects/pack (which always exists once the store is initialized),
// then renames it into its fanout directory once its hash is known.
// If the ObjectWriter is never closed, nothing is written.
type ObjectWriter struct {
	objfile.Writer
	fs billy.Filesystem
	f  billy.File
}

func newObjectWriter(fs billy.Filesystem, format hash.ObjectFormat) (*ObjectWriter, error) {
	f, err := fs.TempFile(fs.Join(objectsPath, packPath), "tmp_obj_")
	if err != nil {
		return nil, err
	}

	return &ObjectWriter{
		Writer: *objfile.NewWriterWithFormat(f, format),
		fs:     fs,
		f:      f,
	}, nil
}

func (w *ObjectWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		return err
	}

	if err := w.f.Close(); err != nil {
		return err
	}

	return w.save()
}

func (w *ObjectWriter) save() error {
	h := w.Hash()
	hex := h.String()

	dir := w.fs.Join(objectsPath, hex[0:2])
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file := w.fs.Join(dir, hex[2:h.HexSize()])
	if err := w.fs.Rename(w.f.Name(), file); err != nil {
		return err
	}
	fixPermissions(w.fs, file)

	return nil
}
