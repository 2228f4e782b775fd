package packfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DeltaSuite struct {
	suite.Suite
}

func TestDeltaSuite(t *testing.T) {
	suite.Run(t, new(DeltaSuite))
}

func (s *DeltaSuite) TestDiffDeltaRoundTrips() {
	base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 20)
	target := append(append([]byte{}, base...), []byte("one more sentence at the end.")...)

	delta := DiffDelta(base, target)
	got, err := PatchDelta(base, delta)
	s.Require().NoError(err)
	s.Equal(target, got)
}

func (s *DeltaSuite) TestPatchDeltaRejectsTruncatedCopyInstruction() {
	base := []byte("some base content")

	// A lone copy-instruction opcode (top bit set, requesting all four
	// offset bytes) with nothing following it used to run past the
	// end of the delta slice and panic; it must now report
	// ErrInvalidDelta instead.
	delta := []byte{0x8f}

	dst := new(bytes.Buffer)
	err := patchDelta(dst, base, delta)
	s.ErrorIs(err, ErrInvalidDelta)
}

func (s *DeltaSuite) TestPatchDeltaRejectsCopyInstructionMissingTrailingSizeByte() {
	base := []byte("some base content")

	// Requests all four offset bytes and all three size bytes, but
	// supplies only the offset bytes.
	delta := []byte{0xff, 0x00, 0x00, 0x00, 0x00}

	dst := new(bytes.Buffer)
	err := patchDelta(dst, base, delta)
	s.ErrorIs(err, ErrInvalidDelta)
}

func (s *DeltaSuite) TestPatchDeltaRejectsCopyPastSourceEnd() {
	base := []byte("short")

	// A well-formed copy instruction (2-byte offset 0xff00, no size
	// bytes, so a size of 0x10000) that reads past the end of base.
	delta := []byte{0x83, 0x00, 0xff}

	dst := new(bytes.Buffer)
	err := patchDelta(dst, base, delta)
	s.ErrorIs(err, ErrInvalidDelta)
}

func (s *DeltaSuite) TestPatchDeltaRejectsInsertPastDeltaEnd() {
	base := []byte("base")

	// Insert opcode claiming 10 literal bytes follow, but only 2 are
	// actually present.
	delta := []byte{10, 'a', 'b'}

	dst := new(bytes.Buffer)
	err := patchDelta(dst, base, delta)
	s.ErrorIs(err, ErrInvalidDelta)
}

func (s *DeltaSuite) TestPatchDeltaRejectsZeroCommand() {
	dst := new(bytes.Buffer)
	err := patchDelta(dst, []byte("base"), []byte{0x00})
	s.ErrorIs(err, ErrDeltaCmd)
}
