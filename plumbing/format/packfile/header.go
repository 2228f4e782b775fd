package packfile

import (
	"io"

	"github.com/sourcegit-oss/packvault/plumbing"
)

// Object record header encoding: the low 4 bits of the first byte hold
// the low bits of the size, bits 4-6 hold the type code, and bit 7
// signals a size-continuation byte follows, LE 7-bit groups.
const (
	firstLengthBits = uint8(4)
	maskPayload     = 0x7f
	maskContinue    = 0x80
	maskType        = uint8(0x70)
)

// objectType returns the type encoded in the high bits of an object
// record's first header byte.
func objectType(b byte) plumbing.ObjectType {
	return plumbing.ObjectType((b & maskType) >> firstLengthBits)
}

// decodeVariableLengthSize reads the size encoded starting at first,
// continuing through reader for as many 7-bit groups as the
// continuation bit demands.
func decodeVariableLengthSize(first byte, reader io.ByteReader) (uint64, error) {
	size := uint64(first & 0x0F)

	if first&maskContinue != 0 {
		shift := uint(4)
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return 0, err
			}

			size |= uint64(b&0x7F) << shift

			if b&maskContinue == 0 {
				break
			}
			shift += 7
		}
	}
	return size, nil
}

// encodeObjectHeader encodes an object record header: type t and size,
// in the pack's variable-length size-then-type-then-size-continuation
// layout.
func encodeObjectHeader(t plumbing.ObjectType, size int64) []byte {
	var buf []byte

	c := byte(size) & 0x0F
	size >>= 4

	first := c | (byte(t) << firstLengthBits)
	if size != 0 {
		first |= maskContinue
	}
	buf = append(buf, first)

	for size != 0 {
		c = byte(size) & 0x7F
		size >>= 7
		if size != 0 {
			c |= maskContinue
		}
		buf = append(buf, c)
	}

	return buf
}

// decodeLEB128 decodes an unsigned LEB128-encoded number at the start of
// input, returning the value and the unconsumed remainder.
func decodeLEB128(input []byte) (uint, []byte) {
	if len(input) == 0 {
		return 0, input
	}

	var num, sz uint
	var b byte
	for {
		b = input[sz]
		num |= (uint(b) & maskPayload) << (sz * 7)
		sz++

		if uint(b)&maskContinue == 0 || sz == uint(len(input)) {
			break
		}
	}

	return num, input[sz:]
}

// decodeLEB128FromReader is decodeLEB128 reading from an io.ByteReader
// instead of a byte slice.
func decodeLEB128FromReader(input io.ByteReader) (uint, error) {
	var num, sz uint
	for {
		b, err := input.ReadByte()
		if err != nil {
			return 0, err
		}

		num |= (uint(b) & maskPayload) << (sz * 7)
		sz++

		if uint(b)&maskContinue == 0 {
			break
		}
	}

	return num, nil
}

// encodeLEB128 encodes size as an unsigned LEB128 number.
func encodeLEB128(size uint) []byte {
	var ret []byte
	c := size & 0x7f
	size >>= 7
	for size != 0 {
		ret = append(ret, byte(c|0x80))
		c = size & 0x7f
		size >>= 7
	}
	ret = append(ret, byte(c))
	return ret
}

// encodeOfsDelta encodes a negative offset-delta base reference: a
// big-endian base-128 number in which every byte but the last has its
// continuation bit set, and each group after the first implicitly adds
// 1 to the value it carries (so 0 never needs two encodings).
func encodeOfsDelta(offset int64) []byte {
	var b [10]byte
	i := len(b) - 1
	b[i] = byte(offset & 0x7f)
	offset >>= 7
	for offset != 0 {
		offset--
		i--
		b[i] = 0x80 | byte(offset&0x7f)
		offset >>= 7
	}
	return b[i:]
}

// decodeOfsDelta is the inverse of encodeOfsDelta, reading from reader
// starting with the already-consumed first byte.
func decodeOfsDelta(first byte, reader io.ByteReader) (int64, error) {
	offset := int64(first & 0x7f)
	for first&0x80 != 0 {
		b, err := reader.ReadByte()
		if err != nil {
			return 0, err
		}
		first = b
		offset = ((offset + 1) << 7) | int64(b&0x7f)
	}
	return offset, nil
}
