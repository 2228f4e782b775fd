package packfile

import (
	"bytes"
	"errors"
	"io"

	"github.com/sourcegit-oss/packvault/plumbing"
)

var (
	// ErrInvalidDelta is returned when a delta stream cannot be parsed.
	ErrInvalidDelta = errors.New("invalid delta")
	// ErrDeltaCmd is returned when a delta stream contains the reserved
	// zero opcode, which is neither a copy nor an insert instruction.
	ErrDeltaCmd = errors.New("wrong delta command")
)

const maxCopyLen = 0xffff

// DiffDelta returns the delta instruction stream that reproduces target
// when applied against base, using findCopies to locate reusable byte
// ranges of base.
func DiffDelta(base, target []byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint(len(base))))
	buf.Write(encodeLEB128(uint(len(target))))

	spans := findCopies(base, target)

	pos := 0
	for _, sp := range spans {
		if sp.TargetOffset > pos {
			writeInsert(&buf, target[pos:sp.TargetOffset])
		}

		off, length := sp.SourceOffset, sp.Length
		if sp.TargetOffset < pos {
			// A span extended backward can overlap the previous one;
			// copy only the part that is not emitted yet.
			off += pos - sp.TargetOffset
			length -= pos - sp.TargetOffset
		}
		for length > 0 {
			n := length
			if n > maxCopyLen {
				n = maxCopyLen
			}
			buf.Write(encodeCopyOperation(off, n))
			off += n
			length -= n
		}

		if end := sp.TargetOffset + sp.Length; end > pos {
			pos = end
		}
	}

	if pos < len(target) {
		writeInsert(&buf, target[pos:])
	}

	return buf.Bytes()
}

// writeInsert emits one or more insert-literal instructions covering p;
// each instruction carries at most 0x7f bytes of literal payload since
// the low 7 bits of its opcode double as the byte count.
func writeInsert(buf *bytes.Buffer, p []byte) {
	for len(p) > 0 {
		n := len(p)
		if n > 0x7f {
			n = 0x7f
		}
		buf.WriteByte(byte(n))
		buf.Write(p[:n])
		p = p[n:]
	}
}

// encodeCopyOperation encodes a copy instruction: the top bit marks it
// as a copy, and the remaining 7 bits form a presence bitmask for the
// offset's 4 bytes followed by the length's 3 bytes, omitting any that
// are zero.
func encodeCopyOperation(offset, length int) []byte {
	var ret []byte

	var first byte = 0x80
	var encOffset []byte
	for i := uint(0); i < 4; i++ {
		b := byte(offset >> (i * 8))
		if b != 0 {
			first |= 1 << i
			encOffset = append(encOffset, b)
		}
	}

	var encLength []byte
	for i := uint(0); i < 3; i++ {
		b := byte(length >> (i * 8))
		if b != 0 {
			first |= 1 << (4 + i)
			encLength = append(encLength, b)
		}
	}

	ret = append(ret, first)
	ret = append(ret, encOffset...)
	ret = append(ret, encLength...)
	return ret
}

// PatchDelta applies a delta instruction stream produced by DiffDelta to
// src, returning the reconstructed target bytes.
func PatchDelta(src, delta []byte) ([]byte, error) {
	if len(delta) < 4 {
		return nil, ErrInvalidDelta
	}

	srcSz, delta := decodeLEB128(delta)
	if uint(len(src)) != srcSz {
		return nil, ErrInvalidDelta
	}

	targetSz, delta := decodeLEB128(delta)
	dst := bytes.NewBuffer(make([]byte, 0, targetSz))

	if err := patchDelta(dst, src, delta); err != nil {
		return nil, err
	}

	if uint(dst.Len()) != targetSz {
		return nil, ErrInvalidDelta
	}

	return dst.Bytes(), nil
}

// ApplyDelta reconstructs target's content by applying delta against
// base's content.
func ApplyDelta(target, base plumbing.EncodedObject, delta []byte) error {
	baseR, err := base.Reader()
	if err != nil {
		return err
	}
	defer baseR.Close()

	baseBuf, err := io.ReadAll(baseR)
	if err != nil {
		return err
	}

	result, err := PatchDelta(baseBuf, delta)
	if err != nil {
		return err
	}

	target.SetType(base.Type())
	target.SetSize(int64(len(result)))

	w, err := target.Writer()
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = w.Write(result)
	return err
}

// patchDelta walks delta's copy/insert instruction stream, writing the
// reconstructed bytes to dst.
func patchDelta(dst *bytes.Buffer, src, delta []byte) error {
	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		if cmd&0x80 != 0 {
			var off, sz uint
			if cmd&0x01 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				off = uint(delta[0])
				delta = delta[1:]
			}
			if cmd&0x02 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				off |= uint(delta[0]) << 8
				delta = delta[1:]
			}
			if cmd&0x04 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				off |= uint(delta[0]) << 16
				delta = delta[1:]
			}
			if cmd&0x08 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				off |= uint(delta[0]) << 24
				delta = delta[1:]
			}
			if cmd&0x10 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				sz = uint(delta[0])
				delta = delta[1:]
			}
			if cmd&0x20 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				sz |= uint(delta[0]) << 8
				delta = delta[1:]
			}
			if cmd&0x40 != 0 {
				if len(delta) == 0 {
					return ErrInvalidDelta
				}
				sz |= uint(delta[0]) << 16
				delta = delta[1:]
			}
			if sz == 0 {
				sz = maxCopyLen + 1
			}

			if off+sz > uint(len(src)) || off > uint(len(src)) {
				return ErrInvalidDelta
			}
			dst.Write(src[off : off+sz])
		} else if cmd != 0 {
			n := uint(cmd)
			if n > uint(len(delta)) {
				return ErrInvalidDelta
			}
			dst.Write(delta[:n])
			delta = delta[n:]
		} else {
			return ErrDeltaCmd
		}
	}

	return nil
}
