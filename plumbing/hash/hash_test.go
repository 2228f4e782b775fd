package hash_test

import (
	"crypto"
	stdhash "hash"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcegit-oss/packvault/plumbing/hash"
)

func TestObjectFormatSizes(t *testing.T) {
	assert.Equal(t, 20, hash.SHA1.Size())
	assert.Equal(t, 40, hash.SHA1.HexSize())
	assert.Equal(t, 32, hash.SHA256.Size())
	assert.Equal(t, 64, hash.SHA256.HexSize())
	assert.Equal(t, 20, hash.UnsetObjectFormat.Size(), "unset format behaves as SHA1")
}

func TestNewProducesWorkingDigests(t *testing.T) {
	h1 := hash.New(hash.SHA1)
	h1.Write([]byte("blob 0\x00"))
	assert.Len(t, h1.Sum(nil), hash.SHA1Size)

	h256 := hash.New(hash.SHA256)
	h256.Write([]byte("blob 0\x00"))
	assert.Len(t, h256.Sum(nil), hash.SHA256Size)
}

func TestRegisterHashRejectsUnsupported(t *testing.T) {
	err := hash.RegisterHash(crypto.MD5, func() stdhash.Hash { return nil })
	require.ErrorIs(t, err, hash.ErrUnsupportedHashFunction)
}
