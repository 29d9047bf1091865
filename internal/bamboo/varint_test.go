package bamboo

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		buf := putUvarint(nil, v)
		got, err := readUvarint(bufio.NewReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVarintTruncatedErrors(t *testing.T) {
	buf := putUvarint(nil, 1<<20)
	_, err := readUvarint(bufio.NewReader(bytes.NewReader(buf[:1])))
	assert.Error(t, err)
}
