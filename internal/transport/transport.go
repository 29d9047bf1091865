// Package transport defines the peer connection abstraction the
// replication engine runs against (spec.md §6 "libp2p transport stub"):
// real swarm discovery and NAT traversal are out of scope, so the engine
// is written against a narrow interface a concrete transport (libp2p or,
// for tests, an in-process loopback) can satisfy.
package transport

import (
	"context"
	"io"
)

// PeerID identifies a remote node. A concrete transport defines what this
// actually is (a libp2p peer id, a test fixture string); the replication
// engine treats it as an opaque comparable key.
type PeerID string

// Stream is one duplex byte stream to a peer, carrying CBOR-framed
// replication messages (spec.md §6). Closing a Stream ends the session it
// carries.
type Stream interface {
	io.ReadWriteCloser
	Peer() PeerID
}

// Transport opens outbound streams and surfaces inbound ones. Inbound
// streams (including ones opened by a peer we also have an outbound
// session with) arrive on the same channel regardless of who dialed.
type Transport interface {
	// OpenStream opens a new outbound stream to peer.
	OpenStream(ctx context.Context, peer PeerID) (Stream, error)
	// Streams yields every inbound stream as it is accepted. Closed when
	// the transport shuts down.
	Streams() <-chan Stream
	Close() error
}
