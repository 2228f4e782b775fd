// Package storage defines the interfaces for storing objects: the
// persistent object model (loose objects and packs) that
// storage/filesystem and storage/memory implement.
package storage

import (
	"time"

	"github.com/sourcegit-oss/packvault/plumbing"
	"github.com/sourcegit-oss/packvault/plumbing/storer"
)

// Storer is the minimal object storage a backend must provide.
type Storer interface {
	storer.EncodedObjectStorer
}

// PackManager is implemented by storers that group objects into packs
// and can enumerate or prune them.
type PackManager interface {
	// ObjectPacks returns the checksum of every pack currently stored.
	ObjectPacks() ([]plumbing.Hash, error)
	// DeleteOldObjectPackAndIndex removes the pack (and its index) with
	// the given checksum, provided it is older than t.
	DeleteOldObjectPackAndIndex(plumbing.Hash, time.Time) error
}

// LooseObjectManager is implemented by storers that keep individual
// loose objects alongside packs and can enumerate or prune them.
type LooseObjectManager interface {
	// LooseObjectTime returns the last-modified time of the loose
	// object with the given hash.
	LooseObjectTime(plumbing.Hash) (time.Time, error)
	// DeleteLooseObject removes the loose object with the given hash.
	DeleteLooseObject(plumbing.Hash) error
}
