package objfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
)

type ObjfileSuite struct {
	suite.Suite
}

func TestObjfileSuite(t *testing.T) {
	suite.Run(t, new(ObjfileSuite))
}

func (s *ObjfileSuite) TestRoundTrip() {
	cases := []struct {
		typ     plumbing.ObjectType
		content []byte
	}{
		{plumbing.BlobObject, []byte("hello objfile")},
		{plumbing.BlobObject, []byte("")},
		{plumbing.TreeObject, bytes.Repeat([]byte{'x'}, 4096)},
	}

	for _, c := range cases {
		buf := bytes.NewBuffer(nil)

		w := NewWriter(buf)
		s.Require().NoError(w.WriteHeader(c.typ, int64(len(c.content))))
		n, err := io.Copy(w, bytes.NewReader(c.content))
		s.Require().NoError(err)
		s.Equal(int64(len(c.content)), n)
		s.Require().NoError(w.Close())

		wantHash := w.Hash()

		r, err := NewReader(buf)
		s.Require().NoError(err)

		typ, size, err := r.Header()
		s.Require().NoError(err)
		s.Equal(c.typ, typ)
		s.Equal(int64(len(c.content)), size)

		got, err := io.ReadAll(r)
		s.Require().NoError(err)
		s.Equal(c.content, got)
		s.Equal(wantHash, r.Hash())
		s.Require().NoError(r.Close())
	}
}

func (s *ObjfileSuite) TestWriteOverflow() {
	buf := bytes.NewBuffer(nil)
	w := NewWriter(buf)

	s.Require().NoError(w.WriteHeader(plumbing.BlobObject, 8))

	n, err := w.Write([]byte("1234"))
	s.NoError(err)
	s.Equal(4, n)

	n, err = w.Write([]byte("56789"))
	s.ErrorIs(err, ErrOverflow)
	s.Equal(4, n)
}

func (s *ObjfileSuite) TestWriteHeaderInvalidType() {
	buf := bytes.NewBuffer(nil)
	w := NewWriter(buf)

	err := w.WriteHeader(plumbing.InvalidObject, 8)
	s.ErrorIs(err, plumbing.ErrInvalidType)
}

func (s *ObjfileSuite) TestWriteHeaderNegativeSize() {
	buf := bytes.NewBuffer(nil)
	w := NewWriter(buf)

	s.ErrorIs(w.WriteHeader(plumbing.BlobObject, -1), ErrNegativeSize)
}

func (s *ObjfileSuite) TestReadGarbage() {
	_, err := NewReader(bytes.NewReader([]byte("not zlib data")))
	s.Error(err)
}

func (s *ObjfileSuite) TestReadEmpty() {
	_, err := NewReader(bytes.NewReader(nil))
	s.Error(err)
}

func TestReaderHashMatchesWriterHash(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	w := NewWriter(buf)
	require := assert.New(t)

	content := []byte("another blob")
	require.NoError(w.WriteHeader(plumbing.BlobObject, int64(len(content))))
	_, err := w.Write(content)
	require.NoError(err)
	require.NoError(w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(err)
	_, _, err = r.Header()
	require.NoError(err)
	_, err = io.ReadAll(r)
	require.NoError(err)

	require.Equal(w.Hash().String(), r.Hash().String())
}
