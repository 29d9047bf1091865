package types

import "errors"

// Sentinel errors shared across the store, validator, and materializer.
// Callers compare with errors.Is; wrapped variants add context via %w.
var (
	ErrDuplicateSeqNum  = errors.New("types: duplicate seq_num for (public_key, log_id)")
	ErrLinkMismatch     = errors.New("types: backlink or skiplink does not resolve")
	ErrNotFound         = errors.New("types: not found")
	ErrSchemaNotSupported = errors.New("types: schema not supported")
	ErrLogConflict      = errors.New("types: log already bound to a different document/schema")
	ErrMalformedEntry   = errors.New("types: malformed entry encoding")
	ErrInvalidSignature = errors.New("types: signature verification failed")
)
