package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meff-network/meff/internal/logging"
	"github.com/meff-network/meff/internal/transport"
	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

func TestSendDeliversToHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan wire.Notification, 1)
	receiver := transport.New("127.0.0.1:0", logging.Default(false), func(n wire.Notification) {
		received <- n
	}, nil)
	require.NoError(t, receiver.Listen(ctx))
	defer receiver.Close()

	sender := transport.New("127.0.0.1:0", logging.Default(false), func(wire.Notification) {}, nil)
	require.NoError(t, sender.Listen(ctx))
	defer sender.Close()

	n, err := wire.Pack(wire.KindHeartbeat, sender.LocalAddress(), "", wire.Heartbeat{})
	require.NoError(t, err)
	require.NoError(t, sender.Send(ctx, receiver.LocalAddress(), n))

	select {
	case got := <-received:
		require.Equal(t, wire.KindHeartbeat, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSendToUnreachableTargetInvokesOnLost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lost := make(chan types.Address, 1)
	sender := transport.New("127.0.0.1:0", logging.Default(false), func(wire.Notification) {}, func(target types.Address) {
		lost <- target
	})
	require.NoError(t, sender.Listen(ctx))
	defer sender.Close()

	unreachable := types.Address("127.0.0.1:1")
	n, err := wire.Pack(wire.KindHeartbeat, sender.LocalAddress(), "", wire.Heartbeat{})
	require.NoError(t, err)
	require.NoError(t, sender.Send(ctx, unreachable, n))

	select {
	case target := <-lost:
		require.Equal(t, unreachable, target)
	case <-time.After(2 * time.Second):
		t.Fatal("onLost was never invoked")
	}
}

func TestHandleConnDropsMalformedRecordWithoutPanicking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	receiver := transport.New("127.0.0.1:0", logging.Default(false), func(wire.Notification) {
		called <- struct{}{}
	}, nil)
	require.NoError(t, receiver.Listen(ctx))
	defer receiver.Close()

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", string(receiver.LocalAddress()))
	require.NoError(t, err)
	_, err = conn.Write([]byte{0, 0, 0, 4, 'j', 'u', 'n', 'k'})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-called:
		t.Fatal("handler must not run on malformed input")
	case <-time.After(200 * time.Millisecond):
	}
}
