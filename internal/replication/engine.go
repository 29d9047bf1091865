package replication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/p2panda-go/bamboo-node/internal/schemaprovider"
	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

// gossipInterval is how often Engine re-broadcasts its Announce to every
// connected peer, independent of schema-provider changes (spec.md §4.6
// "Each peer periodically ... broadcasts").
const gossipInterval = 30 * time.Second

// Engine is the replication service: it accepts and opens peer streams,
// negotiates sessions, and drives each session's strategy (spec.md §4.6).
// Grounded on the teacher's internal/rpc/server_sync.go and
// server_federation.go, which own the same accept-loop / per-connection
// request-response shape against a remote daemon.
type Engine struct {
	transport transport.Transport
	provider  *schemaprovider.Provider
	sessions  *sessionTable
	ann       *announcements

	logHeight *LogHeightStrategy
	docView   *DocumentViewStrategy

	mu      sync.Mutex
	streams map[transport.PeerID]transport.Stream

	wg sync.WaitGroup
}

// New creates a replication engine. ingester is the publish path used to
// admit entries received from peers.
func New(tr transport.Transport, st store.Store, provider *schemaprovider.Provider, ingester EntryIngester) *Engine {
	return &Engine{
		transport: tr,
		provider:  provider,
		sessions:  newSessionTable(),
		ann:       newAnnouncements(),
		logHeight: NewLogHeightStrategy(st, ingester),
		docView:   NewDocumentViewStrategy(st, provider, ingester),
		streams:   make(map[transport.PeerID]transport.Stream),
	}
}

// Start begins accepting inbound streams and gossiping announcements. It
// returns as soon as ctx is canceled, without waiting for the loops or
// stream handlers; Shutdown does that waiting (spec.md §5 "the replication
// engine closes all sessions without waiting for SyncDone").
func (e *Engine) Start(ctx context.Context) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.acceptLoop(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.gossipLoop(ctx)
	}()

	<-ctx.Done()
	return nil
}

// Shutdown waits for the accept and gossip loops, and every active stream
// handler, to return after ctx has already been canceled by the caller.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case stream, ok := <-e.transport.Streams():
			if !ok {
				return
			}
			e.registerStream(stream)
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.serveStream(ctx, stream)
			}()
		}
	}
}

func (e *Engine) gossipLoop(ctx context.Context) {
	schemaChanged, unsubscribe := e.provider.Subscribe(1)
	defer unsubscribe()

	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.broadcastAnnounce()
		case <-schemaChanged:
			e.broadcastAnnounce()
		}
	}
}

func (e *Engine) broadcastAnnounce() {
	ann := Announce{
		ProtocolVersion:    protocolVersion,
		Timestamp:          time.Now().UnixNano(),
		SupportedSchemaIDs: e.provider.SupportedSchemaIDs(),
	}
	b, err := EncodeAnnounce(ann)
	if err != nil {
		log.Printf("replication: encode announce: %v", err)
		return
	}

	e.mu.Lock()
	streams := make([]transport.Stream, 0, len(e.streams))
	for _, s := range e.streams {
		streams = append(streams, s)
	}
	e.mu.Unlock()

	for _, s := range streams {
		if err := writeFrame(s, b); err != nil {
			log.Printf("replication: announce to %s: %v", s.Peer(), err)
		}
	}
}

func (e *Engine) registerStream(s transport.Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams[s.Peer()] = s
}

func (e *Engine) unregisterStream(s transport.Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streams[s.Peer()] == s {
		delete(e.streams, s.Peer())
	}
}

// Connect opens an outbound stream to peer for announce/session traffic if
// none is currently registered, so Announce and SyncRequest have somewhere
// to go before any session exists yet.
func (e *Engine) Connect(ctx context.Context, peer transport.PeerID) error {
	e.mu.Lock()
	_, exists := e.streams[peer]
	e.mu.Unlock()
	if exists {
		return nil
	}

	stream, err := e.transport.OpenStream(ctx, peer)
	if err != nil {
		return fmt.Errorf("replication: connecting to %s: %w", peer, err)
	}
	e.registerStream(stream)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.serveStream(ctx, stream)
	}()
	return nil
}

// AnnounceNow broadcasts this node's current Announce immediately, instead
// of waiting for the next periodic gossip tick (spec.md §4.6 "periodically
// (and on schema-provider changes)").
func (e *Engine) AnnounceNow() {
	e.broadcastAnnounce()
}

// Open negotiates and starts a locally-initiated session against peer,
// intersecting our supported schema ids with the peer's last known
// announcement (spec.md §4.6 "Target-set negotiation").
func (e *Engine) Open(ctx context.Context, peer transport.PeerID, mode types.StrategyMode) (uint64, error) {
	peerAnn, ok := e.ann.get(peer)
	if !ok {
		return 0, fmt.Errorf("replication: no announcement received from %s yet", peer)
	}

	local := types.NewTargetSet(e.provider.SupportedSchemaIDs())
	target := local.Intersect(peerAnn.SupportedSchemaIDs)
	if len(target) == 0 {
		return 0, ErrNoCommonTarget
	}

	strategy, err := e.strategyFor(mode)
	if err != nil {
		return 0, err
	}

	sessionID := e.sessions.nextSessionID(peer)
	if err := e.sessions.openOutbound(peer, sessionID, target, strategy); err != nil {
		return 0, err
	}

	if err := e.Connect(ctx, peer); err != nil {
		return 0, err
	}
	e.mu.Lock()
	stream := e.streams[peer]
	e.mu.Unlock()

	req := SyncRequest{SessionID: sessionID, Mode: mode, Target: target}
	b, err := EncodeSyncRequest(req)
	if err != nil {
		return 0, err
	}
	if err := writeFrame(stream, b); err != nil {
		return 0, fmt.Errorf("replication: sending sync request to %s: %w", peer, err)
	}
	e.sessions.establish(peer, sessionID)

	initial, err := strategy.InitialMessages(ctx, sessionID, target)
	if err != nil {
		return 0, err
	}
	if err := e.sendAll(stream, initial); err != nil {
		return 0, err
	}

	return sessionID, nil
}

func (e *Engine) strategyFor(mode types.StrategyMode) (Strategy, error) {
	switch mode {
	case types.ModeLogHeight:
		return e.logHeight, nil
	case types.ModeDocumentView:
		return e.docView, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

// serveStream reads framed envelopes from s until it errors or ctx is
// canceled, dispatching each to the session manager and its strategy.
func (e *Engine) serveStream(ctx context.Context, s transport.Stream) {
	defer func() {
		e.unregisterStream(s)
		e.sessions.dropPeer(s.Peer())
		e.ann.forget(s.Peer())
		s.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := readFrame(s)
		if err != nil {
			return
		}
		msg, err := Decode(frame)
		if err != nil {
			log.Printf("replication: decoding envelope from %s: %v", s.Peer(), err)
			continue
		}
		if err := e.dispatch(ctx, s, msg); err != nil {
			log.Printf("replication: handling message from %s: %v", s.Peer(), err)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, s transport.Stream, msg any) error {
	peer := s.Peer()

	if req, ok := msg.(SyncRequest); ok {
		strategy, err := e.strategyFor(req.Mode)
		if err != nil {
			return err
		}
		if err := e.sessions.acceptInbound(peer, req.SessionID, req.Target, strategy); err != nil {
			return err
		}
		initial, err := strategy.InitialMessages(ctx, req.SessionID, req.Target)
		if err != nil {
			return err
		}
		return e.sendAll(s, initial)
	}

	if ann, ok := msg.(Announce); ok {
		e.ann.observe(peer, types.Announcement{
			ProtocolVersion:    ann.ProtocolVersion,
			Timestamp:          ann.Timestamp,
			SupportedSchemaIDs: types.NewTargetSet(ann.SupportedSchemaIDs),
		})
		return nil
	}

	sessionID, ok := sessionIDOf(msg)
	if !ok {
		return fmt.Errorf("replication: unroutable message %T", msg)
	}
	sess, ok := e.sessions.get(peer, sessionID)
	if !ok {
		return fmt.Errorf("replication: no session %d found for %s", sessionID, peer)
	}

	if _, isDone := msg.(SyncDone); isDone {
		e.sessions.markPeerDone(peer, sessionID)
	}

	replies, localDone, err := sess.strategy.HandleMessage(ctx, sessionID, sess.target, msg)
	if err != nil {
		if errors.Is(err, ErrUnmatchedTargetSet) {
			log.Printf("replication: %s sent entry outside target set: %v", peer, err)
			return nil
		}
		return err
	}
	if localDone {
		e.sessions.markLocalDone(peer, sessionID)
	}
	return e.sendAll(s, replies)
}

func (e *Engine) sendAll(s transport.Stream, msgs []any) error {
	for _, msg := range msgs {
		b, err := EncodeMessage(msg)
		if err != nil {
			return err
		}
		if err := writeFrame(s, b); err != nil {
			return err
		}
	}
	return nil
}
