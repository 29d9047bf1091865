package replication

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single envelope so a misbehaving peer cannot make us
// allocate unbounded memory from a forged length prefix.
const maxFrameSize = 16 << 20

// writeFrame writes b as a length-delimited frame: a big-endian uint32
// byte count followed by b itself (spec.md §6 "length-delimited duplex
// stream").
func writeFrame(w io.Writer, b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("replication: write frame header: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("replication: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-delimited frame written by writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("replication: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("replication: read frame body: %w", err)
	}
	return buf, nil
}
