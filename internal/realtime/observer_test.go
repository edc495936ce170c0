package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestClusterObserverDeliversPeerEventsAndSkipsOwn(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	localRegistry := NewRegistry(zerolog.Nop())
	peerRegistry := NewRegistry(zerolog.Nop())
	local := NewClusterObserver(localRegistry, client, nil, "readmaster", zerolog.Nop())
	peer := NewClusterObserver(peerRegistry, client, nil, "readmaster", zerolog.Nop())
	require.True(t, local.Enabled())

	local.Start(ctx)
	peer.Start(ctx)

	localCh, peerCh := &fakeChannel{}, &fakeChannel{}
	localRegistry.Connect("u1", localCh)
	peerRegistry.Connect("u1", peerCh)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("readmaster:notifications")["readmaster:notifications"] == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, local.Notify(ctx, "u1", "result", map[string]string{"assessmentId": "a1"}))

	require.Eventually(t, func() bool { return len(peerCh.received()) == 1 }, time.Second, 10*time.Millisecond)
	require.JSONEq(t, `{"event":"result","userId":"u1","payload":{"assessmentId":"a1"}}`, string(peerCh.received()[0]))
	require.Empty(t, localCh.received(), "a node ignores its own cluster events")
}

func TestClusterObserverDisabledWithoutTransports(t *testing.T) {
	observer := NewClusterObserver(NewRegistry(zerolog.Nop()), nil, nil, "readmaster", zerolog.Nop())
	require.False(t, observer.Enabled())
	require.NoError(t, observer.Notify(context.Background(), "u1", "result", nil))
}
