package bamboo

import (
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/types"
	"golang.org/x/crypto/blake2b"
)

// yamfBlake2bHeader is the 2-byte YAMF ("yet another multi-format") header
// identifying a BLAKE2b-256 digest, per spec.md §6 ("BLAKE2b-256 wrapped in
// a 2-byte YAMF header (0x0020)").
var yamfBlake2bHeader = [2]byte{0x00, 0x20}

// HashPayload computes the YAMF-wrapped BLAKE2b-256 hash of operation
// bytes, used as an entry's payload_hash.
func HashPayload(payload []byte) types.Hash {
	return blake2b256(payload)
}

// HashEntry computes the hash of an entry's full encoded bytes — this is
// the entry_hash that doubles as an operation's OperationID/DocumentID
// (spec.md §3).
func HashEntry(entryBytes []byte) types.Hash {
	return blake2b256(entryBytes)
}

func blake2b256(data []byte) types.Hash {
	var h types.Hash
	sum := blake2b.Sum256(data)
	copy(h[:], sum[:])
	return h
}

// encodeYamfHash appends the YAMF header and the raw hash bytes.
func encodeYamfHash(buf []byte, h types.Hash) []byte {
	buf = append(buf, yamfBlake2bHeader[:]...)
	return append(buf, h[:]...)
}

// decodeYamfHash reads a 2-byte YAMF header plus a 32-byte digest.
func decodeYamfHash(r *byteCursor) (types.Hash, error) {
	var h types.Hash
	header, err := r.readN(2)
	if err != nil {
		return h, fmt.Errorf("bamboo: reading yamf header: %w", err)
	}
	if header[0] != yamfBlake2bHeader[0] || header[1] != yamfBlake2bHeader[1] {
		return h, fmt.Errorf("bamboo: unsupported yamf hash header %x", header)
	}
	digest, err := r.readN(32)
	if err != nil {
		return h, fmt.Errorf("bamboo: reading hash digest: %w", err)
	}
	copy(h[:], digest)
	return h, nil
}
