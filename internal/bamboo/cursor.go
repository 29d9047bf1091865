package bamboo

import (
	"bytes"
	"fmt"
)

// byteCursor is a small forward-only reader over an in-memory entry
// buffer, used by the entry decoder. Entries are small (a few hundred
// bytes), so the whole-buffer-in-memory approach used here avoids the
// complexity of a streaming decoder for no real benefit.
type byteCursor struct {
	r *bytes.Reader
}

func newByteCursor(b []byte) *byteCursor {
	return &byteCursor{r: bytes.NewReader(b)}
}

func (c *byteCursor) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := c.r.Read(buf)
	if err != nil || read != n {
		return nil, fmt.Errorf("bamboo: expected %d bytes, got %d (%v)", n, read, err)
	}
	return buf, nil
}

func (c *byteCursor) readUvarint() (uint64, error) {
	return readUvarint(c.r)
}

func (c *byteCursor) remaining() int {
	return c.r.Len()
}
