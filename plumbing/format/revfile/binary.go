package revfile

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// hashWrite feeds each item into h, in order, using its natural wire
// encoding (big-endian for uint32, raw bytes for []byte).
func hashWrite(h hash.Hash, items ...any) error {
	for _, item := range items {
		switch v := item.(type) {
		case []byte:
			if _, err := h.Write(v); err != nil {
				return err
			}
		case uint32:
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], v)
			if _, err := h.Write(buf[:]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("revfile: unsupported hash item type %T", v)
		}
	}
	return nil
}
