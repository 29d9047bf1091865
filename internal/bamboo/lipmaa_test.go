package bamboo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLipmaaDecreasesStrictly(t *testing.T) {
	for seq := uint64(2); seq < 2000; seq++ {
		got := Lipmaa(seq)
		assert.Lessf(t, got, seq, "Lipmaa(%d) must be < seq", seq)
	}
}

func TestLipmaaOfOneIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), Lipmaa(1))
}

func TestCertificatePoolReachesOneLogarithmically(t *testing.T) {
	for _, seq := range []uint64{2, 3, 7, 100, 1 << 16, 1 << 30} {
		pool := CertificatePoolSeqNums(seq)
		assert.NotEmpty(t, pool)
		assert.Contains(t, pool, seq-1, "pool must include direct backlink")
		assert.Contains(t, pool, uint64(1), "skip chain must reach seq_num 1")
		// Walking the skip chain must reach 1 (or stop producing new
		// members) within a small multiple of log2(seq).
		assert.LessOrEqual(t, len(pool), 2*64)
	}
}

func TestSkiplinkOmittedMatchesLipmaa(t *testing.T) {
	for seq := uint64(1); seq < 5000; seq++ {
		want := seq <= 1 || Lipmaa(seq) == seq-1
		assert.Equal(t, want, SkiplinkOmitted(seq))
	}
}
