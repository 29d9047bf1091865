package replication

import (
	"sync"

	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// session is one (peer, session_id) negotiation, holding the strategy state
// and both sides' "local done" markers (spec.md §4.6 "Session manager").
type session struct {
	peer      transport.PeerID
	id        uint64
	role      types.SessionRole
	target    types.TargetSet
	strategy  Strategy
	state     types.SessionState
	localDone bool
	peerDone  bool
}

func (s *session) maybeDone() {
	if s.localDone && s.peerDone {
		s.state = types.SessionDone
	}
}

// sessionTable is the session manager's mutex-guarded session table (spec.md
// §5 "the session manager's session table (mutex; held across session id
// allocation and state transitions)"). Grounded on the teacher's
// internal/rpc/server_sync.go, which keys in-flight sync exchanges by a
// similar (remote, token) pair guarded by a single mutex.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[sessionKey]*session
	nextID   map[transport.PeerID]uint64
}

type sessionKey struct {
	peer transport.PeerID
	id   uint64
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[sessionKey]*session),
		nextID:   make(map[transport.PeerID]uint64),
	}
}

// nextSessionID allocates a fresh, monotonically increasing session id for
// peer (spec.md §4.6 "a fresh session_id (monotonic per peer)").
func (t *sessionTable) nextSessionID(peer transport.PeerID) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID[peer]++
	return t.nextID[peer]
}

// openOutbound registers a new locally-initiated session, rejecting it if an
// outbound session to peer already targets the same schema set.
func (t *sessionTable) openOutbound(peer transport.PeerID, id uint64, target types.TargetSet, strategy Strategy) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, s := range t.sessions {
		if key.peer == peer && s.role == types.RoleLocalInitiated && s.state != types.SessionDone && s.target.Equal(target) {
			return ErrSessionConflict
		}
	}

	t.sessions[sessionKey{peer, id}] = &session{
		peer: peer, id: id, role: types.RoleLocalInitiated,
		target: target, strategy: strategy, state: types.SessionPending,
	}
	return nil
}

// acceptInbound registers a peer-initiated session, applying the
// duplicate/same-target-set rejection rules (spec.md §4.6).
func (t *sessionTable) acceptInbound(peer transport.PeerID, id uint64, target types.TargetSet, strategy Strategy) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.sessions[sessionKey{peer, id}]; ok {
		if existing.state == types.SessionEstablished || existing.state == types.SessionDone {
			return ErrDuplicateSession
		}
	}

	for key, s := range t.sessions {
		if key.peer == peer && key.id != id && s.role == types.RoleRemoteInitiated && s.state != types.SessionDone && s.target.Equal(target) {
			return ErrSessionConflict
		}
	}

	t.sessions[sessionKey{peer, id}] = &session{
		peer: peer, id: id, role: types.RoleRemoteInitiated,
		target: target, strategy: strategy, state: types.SessionEstablished,
	}
	return nil
}

func (t *sessionTable) get(peer transport.PeerID, id uint64) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionKey{peer, id}]
	return s, ok
}

func (t *sessionTable) establish(peer transport.PeerID, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionKey{peer, id}]; ok && s.state == types.SessionPending {
		s.state = types.SessionEstablished
	}
}

// markLocalDone records that this side's strategy has no more messages to
// send, completing the session once the peer has also signaled done.
func (t *sessionTable) markLocalDone(peer transport.PeerID, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionKey{peer, id}]; ok {
		s.localDone = true
		s.maybeDone()
	}
}

func (t *sessionTable) markPeerDone(peer transport.PeerID, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionKey{peer, id}]; ok {
		s.peerDone = true
		s.maybeDone()
	}
}

// dropPeer removes every session held with peer, used when the underlying
// connection drops (spec.md §4.6 "Cancellation").
func (t *sessionTable) dropPeer(peer transport.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.sessions {
		if key.peer == peer {
			delete(t.sessions, key)
		}
	}
}
