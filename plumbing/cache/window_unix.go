//go:build darwin || linux

package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"golang.org/x/sys/unix"
)

var (
	// ErrNilFile is returned when MmapSource is asked to map a nil file.
	ErrNilFile = errors.New("cannot mmap: file is nil")
	// ErrNoFileDescriptor is returned when the underlying billy.File
	// doesn't expose a native file descriptor to mmap.
	ErrNoFileDescriptor = errors.New("fs does not support access to file descriptor")
)

// MmapSource is a WindowSource backed by a single whole-file mmap of a
// pack, sliced per window request. The mapping is established lazily
// on the first Mmap call and torn down by Close; individual window
// unmap calls are no-ops, since the whole file stays resident for as
// long as the pack is open.
type MmapSource struct {
	f billy.File

	mu   sync.Mutex
	data []byte
	size int64
}

// NewMmapSource returns a WindowSource that serves windows out of a
// single mmap of f.
func NewMmapSource(f billy.File) *MmapSource {
	return &MmapSource{f: f}
}

var _ WindowSource = (*MmapSource)(nil)

func (m *MmapSource) ensureMapped() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil {
		return nil
	}

	if m.f == nil {
		return ErrNilFile
	}

	info, err := m.f.Stat()
	if err != nil {
		return err
	}

	fd, err := fileDescriptor(m.f)
	if err != nil {
		return err
	}

	data, err := unix.Mmap(int(fd), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	m.size = info.Size()
	return nil
}

// Mmap implements WindowSource.
func (m *MmapSource) Mmap(off, size int64) ([]byte, func() error, error) {
	if err := m.ensureMapped(); err != nil {
		return nil, nil, err
	}

	if off < 0 || size < 0 || off+size > m.size {
		return nil, nil, io.EOF
	}

	return m.data[off : off+size], func() error { return nil }, nil
}

// Close unmaps the file and closes it.
func (m *MmapSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return m.f.Close()
	}

	err := unix.Munmap(m.data)
	m.data = nil
	return errors.Join(err, m.f.Close())
}

// fileDescriptor extracts the native file descriptor from a billy.File.
func fileDescriptor(f billy.File) (uintptr, error) {
	if ffd, ok := f.(billyFileDescriptor); ok {
		if v, ok := ffd.Fd(); ok {
			return v, nil
		}
	}
	if ffd, ok := f.(goFileDescriptor); ok {
		return ffd.Fd(), nil
	}
	return 0, ErrNoFileDescriptor
}

// validateHeader does a quick check that a mapped file's signature and
// version match what's expected, without verifying its checksum.
func validateHeader(mmap []byte, sig []byte, sv uint32, minLen int) error {
	if minLen > len(mmap) {
		return io.EOF
	}
	if !bytes.Equal(sig, mmap[:len(sig)]) {
		return fmt.Errorf("signature mismatch")
	}
	if v := binary.BigEndian.Uint32(mmap[len(sig) : len(sig)+4]); v != sv {
		return fmt.Errorf("unsupported version: %d", v)
	}
	return nil
}

// billyFileDescriptor is implemented by billy.File implementations that
// can report whether they're backed by a native file descriptor.
type billyFileDescriptor interface {
	Fd() (uintptr, bool)
}

// goFileDescriptor is implemented by *os.File and similar.
type goFileDescriptor interface {
	Fd() uintptr
}
