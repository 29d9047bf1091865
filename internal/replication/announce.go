package replication

import (
	"log"
	"sync"

	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// protocolVersion is this node's replication protocol version, carried in
// every outbound Announce (spec.md §4.6).
const protocolVersion uint64 = 1

// announcements is the per-peer retained-announcement table: "Per peer the
// node retains the announcement with the largest timestamp; earlier
// versions (lower protocol_version) are ignored" (spec.md §4.6).
type announcements struct {
	mu    sync.Mutex
	peers map[transport.PeerID]types.Announcement
}

func newAnnouncements() *announcements {
	return &announcements{peers: make(map[transport.PeerID]types.Announcement)}
}

// observe records an incoming announcement from peer, applying the
// retention and version rules. It returns false if the announcement was
// dropped.
func (a *announcements) observe(peer transport.PeerID, ann types.Announcement) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.peers[peer]
	if ok {
		if ann.ProtocolVersion < current.ProtocolVersion {
			return false
		}
		if ann.Timestamp <= current.Timestamp && ann.ProtocolVersion == current.ProtocolVersion {
			return false
		}
	}
	if ann.ProtocolVersion > protocolVersion {
		log.Printf("replication: peer %s speaks newer protocol version %d (ours %d)", peer, ann.ProtocolVersion, protocolVersion)
	}
	a.peers[peer] = ann
	return true
}

func (a *announcements) get(peer transport.PeerID) (types.Announcement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ann, ok := a.peers[peer]
	return ann, ok
}

func (a *announcements) forget(peer transport.PeerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, peer)
}
