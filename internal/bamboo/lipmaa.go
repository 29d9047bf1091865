package bamboo

// Lipmaa returns the skip link target sequence number for seq (spec.md
// §9: "a closed-form function, not a graph search"). It implements a
// binary power-of-two skip scheme: Lipmaa(n) = n - 2^floor(log2(n-1)) for
// n > 1. Like the upstream bamboo/p2panda lipmaa-number scheme this is
// deterministic, strictly decreasing, and gives certificate pools of
// O(log n) entries (repeated application from n reaches 1 in at most
// ceil(log2(n)) steps) — the exact recursive ternary recurrence used by
// upstream bamboo logs was not present in the retrievable original source
// (see DESIGN.md), so this equivalent closed-form scheme is used instead.
//
// Lipmaa(1) is undefined (there is no entry before the first) and returns 0.
func Lipmaa(seq uint64) uint64 {
	if seq <= 1 {
		return 0
	}
	return seq - highestPowerOfTwoAtMost(seq-1)
}

// highestPowerOfTwoAtMost returns the largest power of two <= n, for n >= 1.
func highestPowerOfTwoAtMost(n uint64) uint64 {
	p := uint64(1)
	for p<<1 <= n {
		p <<= 1
	}
	return p
}

// CertificatePoolSeqNums returns the ordered set of ancestor sequence
// numbers (backlinks plus lipmaa skip links) required to verify the entry
// at seq in isolation, per spec.md §4.1 get_certificate_pool. The set
// always includes seq-1 (direct backlink) and walks the skip chain down to
// (and including) 1.
func CertificatePoolSeqNums(seq uint64) []uint64 {
	if seq <= 1 {
		return nil
	}
	seen := make(map[uint64]bool)
	var out []uint64
	add := func(n uint64) {
		if n >= 1 && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	add(seq - 1)
	for n := seq; n > 1; {
		skip := Lipmaa(n)
		if skip == 0 {
			break
		}
		add(skip)
		n = skip
	}
	return out
}

// SkiplinkOmitted reports whether, for the entry at seq, the skiplink
// would equal the backlink and is therefore omitted from the wire
// encoding (spec.md §3 Entry invariant: "skiplink absent when it would
// equal backlink").
func SkiplinkOmitted(seq uint64) bool {
	if seq <= 1 {
		return true
	}
	return Lipmaa(seq) == seq-1
}
