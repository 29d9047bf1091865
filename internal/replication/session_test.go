package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

type nopStrategy struct{}

func (nopStrategy) InitialMessages(context.Context, uint64, types.TargetSet) ([]any, error) {
	return nil, nil
}
func (nopStrategy) HandleMessage(context.Context, uint64, types.TargetSet, any) ([]any, bool, error) {
	return nil, false, nil
}

func TestOpenOutboundRejectsConflictingTarget(t *testing.T) {
	tbl := newSessionTable()
	target := types.NewTargetSet([]string{"msg_0020aaa"})

	require.NoError(t, tbl.openOutbound("bob", 1, target, nopStrategy{}))
	err := tbl.openOutbound("bob", 2, target, nopStrategy{})
	require.ErrorIs(t, err, ErrSessionConflict)
}

func TestOpenOutboundAllowsDifferentTargets(t *testing.T) {
	tbl := newSessionTable()
	a := types.NewTargetSet([]string{"msg_0020aaa"})
	b := types.NewTargetSet([]string{"blob_v1"})

	require.NoError(t, tbl.openOutbound("bob", 1, a, nopStrategy{}))
	require.NoError(t, tbl.openOutbound("bob", 2, b, nopStrategy{}))
}

func TestAcceptInboundRejectsDuplicateEstablishedSession(t *testing.T) {
	tbl := newSessionTable()
	target := types.NewTargetSet([]string{"msg_0020aaa"})

	require.NoError(t, tbl.acceptInbound("bob", 9, target, nopStrategy{}))
	err := tbl.acceptInbound("bob", 9, target, nopStrategy{})
	require.ErrorIs(t, err, ErrDuplicateSession)
}

func TestAcceptInboundRejectsSameTargetDifferentSessionID(t *testing.T) {
	tbl := newSessionTable()
	target := types.NewTargetSet([]string{"msg_0020aaa"})

	require.NoError(t, tbl.acceptInbound("bob", 1, target, nopStrategy{}))
	err := tbl.acceptInbound("bob", 2, target, nopStrategy{})
	require.ErrorIs(t, err, ErrSessionConflict)
}

func TestSessionCompletesOnlyWhenBothSidesDone(t *testing.T) {
	tbl := newSessionTable()
	target := types.NewTargetSet([]string{"msg_0020aaa"})
	require.NoError(t, tbl.acceptInbound("bob", 1, target, nopStrategy{}))

	tbl.markLocalDone("bob", 1)
	s, ok := tbl.get("bob", 1)
	require.True(t, ok)
	require.Equal(t, types.SessionEstablished, s.state)

	tbl.markPeerDone("bob", 1)
	s, ok = tbl.get("bob", 1)
	require.True(t, ok)
	require.Equal(t, types.SessionDone, s.state)
}

func TestDropPeerRemovesAllItsSessions(t *testing.T) {
	tbl := newSessionTable()
	target := types.NewTargetSet([]string{"msg_0020aaa"})
	require.NoError(t, tbl.openOutbound("bob", 1, target, nopStrategy{}))
	require.NoError(t, tbl.openOutbound("alice", 1, target, nopStrategy{}))

	tbl.dropPeer("bob")

	_, ok := tbl.get("bob", 1)
	require.False(t, ok)
	_, ok = tbl.get("alice", 1)
	require.True(t, ok)
}
