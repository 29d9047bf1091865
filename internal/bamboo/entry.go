package bamboo

import (
	"crypto/ed25519"
	"fmt"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// signatureSize is the Ed25519 signature length in bytes.
const signatureSize = 64

// EncodeEntry serializes e following the field order spec.md §6 defines:
//
//	varint(log_id) varint(seq_num) varint(payload_size)
//	yamf_hash(payload_hash) yamf_hash(backlink)? yamf_hash(skiplink)?
//	pubkey(32) signature(64)
//
// Back/skip links are included exactly when HasBacklink/HasSkiplink are
// set; callers construct those flags from the invariants in spec.md §3
// (absent iff seq_num=1; skiplink omitted when it would equal backlink).
// The signature covers every byte preceding it. EncodeEntry signs with
// priv and returns the full encoded entry, along with its hash (used as
// the entry's own OperationID).
func EncodeEntry(e *types.Entry, priv ed25519.PrivateKey) ([]byte, types.Hash, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, types.Hash{}, fmt.Errorf("bamboo: invalid private key size %d", len(priv))
	}

	var buf []byte
	buf = putUvarint(buf, e.LogID)
	buf = putUvarint(buf, e.SeqNum)
	buf = putUvarint(buf, e.PayloadSize)
	buf = encodeYamfHash(buf, e.PayloadHash)

	if e.SeqNum > 1 {
		if !e.HasBacklink {
			return nil, types.Hash{}, fmt.Errorf("bamboo: entry at seq_num %d requires a backlink", e.SeqNum)
		}
		buf = encodeYamfHash(buf, e.Backlink)
		if e.HasSkiplink {
			buf = encodeYamfHash(buf, e.Skiplink)
		}
	} else if e.HasBacklink || e.HasSkiplink {
		return nil, types.Hash{}, fmt.Errorf("bamboo: entry at seq_num 1 must not carry back/skip links")
	}

	buf = append(buf, e.PublicKey[:]...)

	sig := ed25519.Sign(priv, buf)
	buf = append(buf, sig...)

	return buf, HashEntry(buf), nil
}

// DecodeEntry parses raw bytes into an Entry. It does not verify the
// signature or perform any store lookups — that is the Validator's job
// (spec.md §4.2 steps 1-2 are split across DecodeEntry + VerifySignature
// so malformed-encoding and bad-signature are distinguishable failures).
func DecodeEntry(raw []byte) (*types.Entry, error) {
	c := newByteCursor(raw)

	logID, err := c.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("bamboo: %w: %v", types.ErrMalformedEntry, err)
	}
	seqNum, err := c.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("bamboo: %w: %v", types.ErrMalformedEntry, err)
	}
	if seqNum == 0 {
		return nil, fmt.Errorf("bamboo: %w: seq_num must be >= 1", types.ErrMalformedEntry)
	}
	payloadSize, err := c.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("bamboo: %w: %v", types.ErrMalformedEntry, err)
	}
	payloadHash, err := decodeYamfHash(c)
	if err != nil {
		return nil, fmt.Errorf("bamboo: %w: %v", types.ErrMalformedEntry, err)
	}

	e := &types.Entry{
		LogID:       logID,
		SeqNum:      seqNum,
		PayloadSize: payloadSize,
		PayloadHash: payloadHash,
	}

	if seqNum > 1 {
		back, err := decodeYamfHash(c)
		if err != nil {
			return nil, fmt.Errorf("bamboo: %w: missing backlink: %v", types.ErrMalformedEntry, err)
		}
		e.Backlink = back
		e.HasBacklink = true

		// A skiplink is present only when it would differ from the
		// backlink (spec.md §3); we peek at the remaining length and
		// treat anything before the fixed-size tail (pubkey + signature)
		// as a yamf-hash skiplink.
		const tailSize = 32 + signatureSize
		if c.remaining() > tailSize {
			skip, err := decodeYamfHash(c)
			if err != nil {
				return nil, fmt.Errorf("bamboo: %w: malformed skiplink: %v", types.ErrMalformedEntry, err)
			}
			e.Skiplink = skip
			e.HasSkiplink = true
		}
	}

	pubBytes, err := c.readN(32)
	if err != nil {
		return nil, fmt.Errorf("bamboo: %w: missing public key: %v", types.ErrMalformedEntry, err)
	}
	copy(e.PublicKey[:], pubBytes)

	sigBytes, err := c.readN(signatureSize)
	if err != nil {
		return nil, fmt.Errorf("bamboo: %w: missing signature: %v", types.ErrMalformedEntry, err)
	}
	copy(e.Signature[:], sigBytes)

	if c.remaining() != 0 {
		return nil, fmt.Errorf("bamboo: %w: %d trailing bytes", types.ErrMalformedEntry, c.remaining())
	}

	e.Raw = append([]byte(nil), raw...)
	e.EntryHash = HashEntry(raw)
	return e, nil
}

// VerifySignature checks e.Signature against e.PublicKey over the signed
// prefix of e.Raw (everything except the trailing signature bytes).
func VerifySignature(e *types.Entry) error {
	if len(e.Raw) < signatureSize {
		return fmt.Errorf("bamboo: %w: entry too short to carry a signature", types.ErrMalformedEntry)
	}
	signed := e.Raw[:len(e.Raw)-signatureSize]
	if !ed25519.Verify(e.PublicKey[:], signed, e.Signature[:]) {
		return types.ErrInvalidSignature
	}
	return nil
}
