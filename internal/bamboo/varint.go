// Package bamboo implements the wire encoding of Bamboo log entries: varint
// framing, YAMF-hash headers, Ed25519 signing, and the lipmaa-style skip
// link sequence used to keep certificate pools short (spec.md §6, §9).
package bamboo

import (
	"fmt"
	"io"
)

// putUvarint appends n to buf in unsigned LEB128 form, the variable-length
// integer encoding spec.md §6 specifies for entry fields. No pack library
// exposes a bare LEB128 codec without pulling in an unrelated protocol
// stack (protobuf, etc.), so this is a small hand-rolled stdlib helper
// (see DESIGN.md "stdlib justifications").
func putUvarint(buf []byte, n uint64) []byte {
	for n >= 0x80 {
		buf = append(buf, byte(n)|0x80)
		n >>= 7
	}
	return append(buf, byte(n))
}

// readUvarint reads a LEB128-encoded uint64 from r.
func readUvarint(r io.ByteReader) (uint64, error) {
	var n uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("bamboo: reading varint: %w", err)
		}
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("bamboo: varint overflow")
		}
	}
}
