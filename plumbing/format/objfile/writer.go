package objfile

import (
	"compress/zlib"
	"fmt"
	"io"
	"strconv"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

// Writer writes a loose object file: it writes the "<type> <size>\0"
// header followed by the payload through a zlib compressor, hashing
// everything written along the way.
type Writer struct {
	raw    io.Writer
	zw     *zlib.Writer
	hasher plumbing.Hasher

	format hash.ObjectFormat
	size   int64
	written int64

	headerWritten bool
}

// NewWriter returns a Writer hashing under the SHA1 object format.
func NewWriter(w io.Writer) *Writer {
	return NewWriterWithFormat(w, hash.SHA1)
}

// NewWriterWithFormat is like NewWriter but hashes the payload under the
// given object format.
func NewWriterWithFormat(w io.Writer, f hash.ObjectFormat) *Writer {
	return &Writer{raw: w, format: f}
}

// WriteHeader writes the object's "<type> <size>\0" header. It must be
// called exactly once, before any call to Write.
func (w *Writer) WriteHeader(t plumbing.ObjectType, size int64) error {
	if !t.Valid() {
		return plumbing.ErrInvalidType
	}
	if size < 0 {
		return ErrNegativeSize
	}

	w.size = size
	w.hasher = plumbing.NewHasher(w.format, t, size)
	w.zw = zlib.NewWriter(w.raw)

	header := t.Bytes()
	header = append(header, ' ')
	header = append(header, []byte(strconv.FormatInt(size, 10))...)
	header = append(header, 0)

	if _, err := w.zw.Write(header); err != nil {
		return fmt.Errorf("write object header: %w", err)
	}
	w.hasher.Write(header)
	w.headerWritten = true

	return nil
}

// Write writes payload bytes. If p would push the total past the size
// declared to WriteHeader, only the bytes that still fit are written,
// and their count is returned together with ErrOverflow.
func (w *Writer) Write(p []byte) (int, error) {
	if !w.headerWritten {
		return 0, fmt.Errorf("objfile: WriteHeader not called")
	}

	overflow := w.written + int64(len(p)) - w.size
	if overflow > 0 {
		p = p[:int64(len(p))-overflow]
	}

	n, err := w.zw.Write(p)
	if n > 0 {
		w.hasher.Write(p[:n])
		w.written += int64(n)
	}
	if err != nil {
		return n, err
	}
	if overflow > 0 {
		return n, ErrOverflow
	}
	return n, nil
}

// Hash returns the ObjectID computed over everything written so far.
func (w *Writer) Hash() plumbing.Hash {
	return w.hasher.Sum()
}

// Close flushes and closes the zlib stream.
func (w *Writer) Close() error {
	return w.zw.Close()
}
