// Package loopback provides an in-process Transport implementation backed
// by net.Pipe, used by replication engine tests to exercise a real
// duplex stream without any actual networking (grounded on the teacher's
// internal/storage/ephemeral pattern: an in-memory stand-in satisfying the
// same interface production code uses).
package loopback

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/p2panda-go/bamboo-node/internal/transport"
)

// Network is a shared in-process registry of loopback transports, keyed by
// PeerID, so OpenStream on one node's Transport can hand a paired net.Pipe
// end to the target node's Transport.
type Network struct {
	mu    sync.Mutex
	peers map[transport.PeerID]*Transport
}

// NewNetwork creates an empty loopback network.
func NewNetwork() *Network {
	return &Network{peers: make(map[transport.PeerID]*Transport)}
}

// Join registers a new Transport for id on the network.
func (n *Network) Join(id transport.PeerID) *Transport {
	t := &Transport{
		self:    id,
		network: n,
		inbound: make(chan transport.Stream, 16),
		closed:  make(chan struct{}),
	}
	n.mu.Lock()
	n.peers[id] = t
	n.mu.Unlock()
	return t
}

// Transport is one node's loopback endpoint on a Network.
type Transport struct {
	self    transport.PeerID
	network *Network

	closeOnce sync.Once
	closed    chan struct{}
	inbound   chan transport.Stream
}

// OpenStream connects to peer over an in-process net.Pipe, handing the
// remote half to peer's Transport as an inbound stream.
func (t *Transport) OpenStream(ctx context.Context, peer transport.PeerID) (transport.Stream, error) {
	t.network.mu.Lock()
	remote, ok := t.network.peers[peer]
	t.network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("loopback: peer %q not joined to network", peer)
	}

	local, other := net.Pipe()
	localStream := &stream{Conn: local, peer: peer}
	remoteStream := &stream{Conn: other, peer: t.self}

	select {
	case remote.inbound <- remoteStream:
	case <-ctx.Done():
		_ = local.Close()
		_ = other.Close()
		return nil, ctx.Err()
	case <-remote.closed:
		_ = local.Close()
		_ = other.Close()
		return nil, fmt.Errorf("loopback: peer %q is closed", peer)
	}
	return localStream, nil
}

// Streams returns the channel of inbound streams opened by other peers.
func (t *Transport) Streams() <-chan transport.Stream {
	return t.inbound
}

// Close closes this peer's inbound channel and removes it from the
// network; in-flight OpenStream calls targeting it fail.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		close(t.inbound)
		t.network.mu.Lock()
		delete(t.network.peers, t.self)
		t.network.mu.Unlock()
	})
	return nil
}

type stream struct {
	net.Conn
	peer transport.PeerID
}

func (s *stream) Peer() transport.PeerID { return s.peer }
