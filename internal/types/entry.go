// Package types holds the core value objects shared by the store, the
// validator, the materializer, and the replication engine: entries, logs,
// operations, documents, document views, schemas, and tasks.
package types

import (
	"encoding/hex"
	"fmt"
)

// PublicKey is a 32-byte Ed25519 public key, the author identity of a log.
type PublicKey [32]byte

// String renders the key as lowercase hex, the wire/API representation
// used throughout (spec.md's PublicKey scalar is "64-hex lowercase").
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParsePublicKey decodes a 64-char hex string into a PublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("types: invalid public key hex: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("types: public key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Hash is a 32-byte BLAKE2b-256 digest, used for entry hashes (operation
// ids), payload hashes, and back/skip link targets.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash (used as a sentinel for
// "absent" in places a pointer would otherwise be needed).
func (h Hash) IsZero() bool { return h == Hash{} }

// ParseHash decodes a 64-char hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("types: invalid hash hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("types: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// OperationID identifies an operation by the hash of the entry that
// carried it (spec.md §3: "operation_id = entry_hash").
type OperationID = Hash

// DocumentID identifies a document by the operation id of its CREATE.
type DocumentID = OperationID

// Entry is a single append-only log element (spec.md §3 "Entry").
type Entry struct {
	PublicKey   PublicKey
	LogID       uint64
	SeqNum      uint64 // >= 1
	Backlink    Hash   // zero iff SeqNum == 1
	Skiplink    Hash   // zero when it would equal Backlink
	HasBacklink bool
	HasSkiplink bool
	PayloadSize uint64
	PayloadHash Hash
	Signature   [64]byte

	// EntryHash is the hash of Raw, computed once on decode/encode and
	// reused as the OperationID for the operation this entry carries.
	EntryHash Hash
	// Raw is the exact encoded bytes this entry was published with;
	// re-publishing must match it byte-for-byte to be a no-op (spec.md §4.2).
	Raw []byte
}

// LogKey identifies a single-writer log: one author, one document.
type LogKey struct {
	PublicKey PublicKey
	LogID     uint64
}

func (k LogKey) String() string {
	return fmt.Sprintf("%s/%d", k.PublicKey.String(), k.LogID)
}

// Log is the per-author, per-document channel binding (spec.md §3 "Log").
type Log struct {
	PublicKey  PublicKey
	LogID      uint64
	DocumentID DocumentID
	SchemaID   string
}

func (l Log) Key() LogKey { return LogKey{PublicKey: l.PublicKey, LogID: l.LogID} }
