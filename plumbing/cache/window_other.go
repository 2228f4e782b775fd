//go:build !darwin && !linux

package cache

import (
	"errors"

	billy "github.com/go-git/go-billy/v5"
)

// ErrMmapUnsupported is returned on platforms without an mmap-backed
// WindowSource implementation.
var ErrMmapUnsupported = errors.New("mmap window source is only supported on linux or darwin")

// MmapSource is a stub WindowSource on platforms without mmap support;
// every call fails with ErrMmapUnsupported.
type MmapSource struct{}

// NewMmapSource returns a WindowSource that always fails to map.
func NewMmapSource(f billy.File) *MmapSource {
	return &MmapSource{}
}

var _ WindowSource = (*MmapSource)(nil)

// Mmap implements WindowSource.
func (m *MmapSource) Mmap(off, size int64) ([]byte, func() error, error) {
	return nil, nil, ErrMmapUnsupported
}

// Close is a no-op on unsupported platforms.
func (m *MmapSource) Close() error {
	return nil
}
