// Package replication implements the replication engine (spec.md §4.6):
// announcement gossip, session negotiation, the log-height and
// document-view-id sync strategies, and the CBOR envelope wire format.
// Grounded on the teacher's internal/rpc/server_sync.go and
// server_federation.go (session-oriented request/response sync with
// target negotiation and conflict handling), generalized from "git-branch
// JSONL export/import" to "CBOR envelope over a peer stream".
package replication

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// MessageType tags the first element of every envelope (spec.md §6).
type MessageType uint64

const (
	MessageSyncRequest   MessageType = 0
	MessageAnnounce      MessageType = 1
	MessageHave          MessageType = 2
	MessageHaveDocuments MessageType = 3
	MessageEntry         MessageType = 4
	MessageSyncDone      MessageType = 5
)

// docView pairs a document id with a view id for HaveDocuments (spec.md
// §4.6 "[(doc_id, view_id)]").
type docView struct {
	DocumentID types.Hash
	ViewID     types.ViewID
}

// SyncRequest opens a session with the receiver, naming the negotiated
// target set and strategy mode.
type SyncRequest struct {
	SessionID uint64
	Mode      types.StrategyMode
	Target    types.TargetSet
}

// Announce is the out-of-band (no session_id) peer capability broadcast.
type Announce struct {
	ProtocolVersion uint64
	Timestamp       int64
	SupportedSchemaIDs []string
}

// Have carries the log-height strategy's initial message.
type Have struct {
	SessionID uint64
	LogHeights []types.LogHeight
}

// HaveDocuments carries the document-view-id strategy's initial message.
type HaveDocuments struct {
	SessionID uint64
	Documents []docView
}

// Entry carries one encoded entry plus its operation payload.
type Entry struct {
	SessionID  uint64
	EntryBytes []byte
	Payload    []byte
}

// SyncDone signals a strategy has no more messages to send on this side of
// the session.
type SyncDone struct {
	SessionID uint64
}

// encodeEnvelope serializes a message as [type, ...fields] CBOR array.
func encodeEnvelope(msgType MessageType, fields ...any) ([]byte, error) {
	arr := make([]any, 0, len(fields)+1)
	arr = append(arr, uint64(msgType))
	arr = append(arr, fields...)
	b, err := cbor.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("replication: encode envelope: %w", err)
	}
	return b, nil
}

// decodeEnvelope reads the message type and leaves the remaining raw
// elements for type-specific decoding.
func decodeEnvelope(b []byte) (MessageType, []cbor.RawMessage, error) {
	var raw []cbor.RawMessage
	if err := cbor.Unmarshal(b, &raw); err != nil {
		return 0, nil, fmt.Errorf("replication: decode envelope: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil, fmt.Errorf("replication: empty envelope")
	}
	var msgType uint64
	if err := cbor.Unmarshal(raw[0], &msgType); err != nil {
		return 0, nil, fmt.Errorf("replication: decode message type: %w", err)
	}
	return MessageType(msgType), raw[1:], nil
}

func decodeField(raw []cbor.RawMessage, i int, v any) error {
	if i >= len(raw) {
		return fmt.Errorf("replication: envelope missing field %d", i)
	}
	if err := cbor.Unmarshal(raw[i], v); err != nil {
		return fmt.Errorf("replication: decode field %d: %w", i, err)
	}
	return nil
}

// EncodeSyncRequest serializes a SyncRequest envelope ([0, session_id, mode, target]).
func EncodeSyncRequest(m SyncRequest) ([]byte, error) {
	return encodeEnvelope(MessageSyncRequest, m.SessionID, string(m.Mode), []string(m.Target))
}

// EncodeAnnounce serializes an out-of-band Announce envelope
// ([1, protocol_version, timestamp, [schema_id, ...]]).
func EncodeAnnounce(m Announce) ([]byte, error) {
	return encodeEnvelope(MessageAnnounce, m.ProtocolVersion, m.Timestamp, m.SupportedSchemaIDs)
}

// EncodeHave serializes a Have envelope ([2, session_id, log_heights]).
func EncodeHave(m Have) ([]byte, error) {
	return encodeEnvelope(MessageHave, m.SessionID, m.LogHeights)
}

// EncodeHaveDocuments serializes a HaveDocuments envelope.
func EncodeHaveDocuments(m HaveDocuments) ([]byte, error) {
	return encodeEnvelope(MessageHaveDocuments, m.SessionID, m.Documents)
}

// EncodeEntry serializes an Entry envelope ([4, session_id, entry, payload]).
func EncodeEntry(m Entry) ([]byte, error) {
	return encodeEnvelope(MessageEntry, m.SessionID, m.EntryBytes, m.Payload)
}

// EncodeSyncDone serializes a SyncDone envelope ([5, session_id]).
func EncodeSyncDone(m SyncDone) ([]byte, error) {
	return encodeEnvelope(MessageSyncDone, m.SessionID)
}

// EncodeMessage dispatches to the Encode* function matching msg's concrete
// type, used by the engine to serialize whatever a Strategy hands back.
func EncodeMessage(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case SyncRequest:
		return EncodeSyncRequest(m)
	case Announce:
		return EncodeAnnounce(m)
	case Have:
		return EncodeHave(m)
	case HaveDocuments:
		return EncodeHaveDocuments(m)
	case Entry:
		return EncodeEntry(m)
	case SyncDone:
		return EncodeSyncDone(m)
	default:
		return nil, fmt.Errorf("replication: cannot encode message of type %T", msg)
	}
}

// sessionIDOf extracts the session_id carried by a decoded session message.
// Announce carries none (it is out-of-band), so ok is false for it.
func sessionIDOf(msg any) (uint64, bool) {
	switch m := msg.(type) {
	case SyncRequest:
		return m.SessionID, true
	case Have:
		return m.SessionID, true
	case HaveDocuments:
		return m.SessionID, true
	case Entry:
		return m.SessionID, true
	case SyncDone:
		return m.SessionID, true
	default:
		return 0, false
	}
}

// ErrUnsupportedMode is returned by Decode when the envelope's message_type
// is not one of the six defined types (spec.md §4.6 "aborts the session
// with UnsupportedMode").
var ErrUnsupportedMode = fmt.Errorf("replication: unsupported message type")

// Decode parses any envelope and returns the typed message as `any`, one of
// SyncRequest, Announce, Have, HaveDocuments, Entry, or SyncDone.
func Decode(b []byte) (any, error) {
	msgType, fields, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case MessageSyncRequest:
		var sessionID uint64
		var mode string
		var target []string
		if err := decodeField(fields, 0, &sessionID); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 1, &mode); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 2, &target); err != nil {
			return nil, err
		}
		return SyncRequest{SessionID: sessionID, Mode: types.StrategyMode(mode), Target: types.NewTargetSet(target)}, nil

	case MessageAnnounce:
		var version uint64
		var ts int64
		var ids []string
		if err := decodeField(fields, 0, &version); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 1, &ts); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 2, &ids); err != nil {
			return nil, err
		}
		return Announce{ProtocolVersion: version, Timestamp: ts, SupportedSchemaIDs: ids}, nil

	case MessageHave:
		var sessionID uint64
		var heights []types.LogHeight
		if err := decodeField(fields, 0, &sessionID); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 1, &heights); err != nil {
			return nil, err
		}
		return Have{SessionID: sessionID, LogHeights: heights}, nil

	case MessageHaveDocuments:
		var sessionID uint64
		var docs []docView
		if err := decodeField(fields, 0, &sessionID); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 1, &docs); err != nil {
			return nil, err
		}
		return HaveDocuments{SessionID: sessionID, Documents: docs}, nil

	case MessageEntry:
		var sessionID uint64
		var entryBytes, payload []byte
		if err := decodeField(fields, 0, &sessionID); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 1, &entryBytes); err != nil {
			return nil, err
		}
		if err := decodeField(fields, 2, &payload); err != nil {
			return nil, err
		}
		return Entry{SessionID: sessionID, EntryBytes: entryBytes, Payload: payload}, nil

	case MessageSyncDone:
		var sessionID uint64
		if err := decodeField(fields, 0, &sessionID); err != nil {
			return nil, err
		}
		return SyncDone{SessionID: sessionID}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, msgType)
	}
}
