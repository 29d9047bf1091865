package replication

import "errors"

// Sentinel errors for session/ingest rejection (spec.md §4.6/§4.7).
var (
	ErrUnmatchedTargetSet = errors.New("replication: entry schema not in negotiated target set")
	ErrNoCommonTarget     = errors.New("replication: no common supported schema with peer")
	ErrDuplicateSession   = errors.New("replication: duplicate session")
	ErrSessionConflict    = errors.New("replication: session target conflicts with an existing session")
)
