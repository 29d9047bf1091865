package loopback_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/transport/loopback"
)

func TestOpenStreamDeliversInboundToPeer(t *testing.T) {
	net := loopback.NewNetwork()
	alice := net.Join("alice")
	bob := net.Join("bob")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := alice.OpenStream(ctx, "bob")
	require.NoError(t, err)
	defer out.Close()

	var in transport.Stream
	select {
	case in = <-bob.Streams():
	case <-ctx.Done():
		t.Fatal("bob never received the inbound stream")
	}
	defer in.Close()
	require.Equal(t, transport.PeerID("alice"), in.Peer())

	go func() { _, _ = out.Write([]byte("hello")) }()
	buf := make([]byte, 5)
	_, err = in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestOpenStreamFailsForUnknownPeer(t *testing.T) {
	net := loopback.NewNetwork()
	alice := net.Join("alice")

	_, err := alice.OpenStream(context.Background(), "ghost")
	require.Error(t, err)
}
