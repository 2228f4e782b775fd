package storage

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/sourcegit-oss/packvault/plumbing"
)

type LimitSuite struct {
	suite.Suite
}

func TestLimitSuite(t *testing.T) {
	suite.Run(t, new(LimitSuite))
}

func (s *LimitSuite) TestLimit() {
	var got []plumbing.EncodedObject

	storer := Limit(&mockStorer{
		SetEncodedObjectFunc: func(obj plumbing.EncodedObject) (plumbing.Hash, error) {
			got = append(got, obj)
			return plumbing.ZeroHash, nil
		},
	}, 100)

	_, err := storer.SetEncodedObject(&mockEncodedObject{size: 40})
	s.Require().NoError(err)
	s.Equal(int64(60), *storer.N)
}

func (s *LimitSuite) TestLimitExceeded() {
	var got []plumbing.EncodedObject

	storer := Limit(&mockStorer{
		SetEncodedObjectFunc: func(obj plumbing.EncodedObject) (plumbing.Hash, error) {
			got = append(got, obj)
			return plumbing.ZeroHash, nil
		},
	}, 100)

	_, err := storer.SetEncodedObject(&mockEncodedObject{size: 40})
	s.Require().NoError(err)

	_, err = storer.SetEncodedObject(&mockEncodedObject{size: 70})
	s.ErrorIs(err, ErrLimitExceeded)

	s.Equal(int64(60), *storer.N)
}

type mockStorer struct {
	Storer

	SetEncodedObjectFunc func(plumbing.EncodedObject) (plumbing.Hash, error)
}

func (m *mockStorer) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	return m.SetEncodedObjectFunc(obj)
}

type mockEncodedObject struct {
	plumbing.EncodedObject

	size int64
}

func (m *mockEncodedObject) Size() int64 { return m.size }
