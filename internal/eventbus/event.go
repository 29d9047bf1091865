package eventbus

import "github.com/p2panda-go/bamboo-node/internal/types"

// Event is the single event this bus carries: a new operation has been
// accepted into the store (spec.md §4.3 "NewOperation"). Handlers and
// bounded subscribers both receive the same struct.
type Event struct {
	Entry      *types.Entry
	Operation  *types.Operation
	DocumentID types.DocumentID
}
