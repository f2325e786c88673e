package remote_kv

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/remote_kv/src/api/transport"
	"github.com/danmuck/remote_kv/src/state_view"
	"github.com/stretchr/testify/require"
)

func startClient(t *testing.T, fabric transport.Fabric, shardID int, serviceAddr string, batch int) *Client {
	t.Helper()
	c, err := NewClient(fabric, shardID, serviceAddr, ClientConfig{BatchSize: batch})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestClientAgainstService(t *testing.T) {
	tc := newTestCluster(t, 2, nil)
	kv := map[string]string{"a": "1", "c": "3"}
	for i := 0; i < 25; i++ {
		kv[fmt.Sprint("bulk", i)] = fmt.Sprint(i)
	}
	tc.service.SetStateView(snapshot("s", kv))

	client := startClient(t, tc.shards[1], 1, "service", 4)

	keys := []state_view.StateKey{"a", "b", "c"}
	for i := 0; i < 25; i++ {
		keys = append(keys, state_view.StateKey(fmt.Sprint("bulk", i)))
	}
	require.NoError(t, client.Prefetch(keys))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, k := range keys {
		v, err := client.Get(ctx, k)
		require.NoError(t, err)
		want, present := kv[string(k)]
		if !present {
			require.Nil(t, v, "key %s", k)
			continue
		}
		require.Equal(t, want, string(v.Bytes), "key %s", k)
	}

	// 28 keys at 4 per request
	require.Eventually(t, func() bool { return tc.service.Stats().Served == 7 }, time.Second, 5*time.Millisecond)
}

func TestClientGetFetchesOnDemand(t *testing.T) {
	tc := newTestCluster(t, 1, nil)
	tc.service.SetStateView(snapshot("s", map[string]string{"lazy": "yes"}))
	client := startClient(t, tc.shards[0], 0, "service", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	v, err := client.Get(ctx, "lazy")
	require.NoError(t, err)
	require.Equal(t, "yes", string(v.Bytes))

	// cached: no second request
	_, err = client.Get(ctx, "lazy")
	require.NoError(t, err)
	require.Equal(t, uint64(1), tc.service.Stats().Received)
}

func TestClientGetTimesOut(t *testing.T) {
	tc := newTestCluster(t, 1, nil)
	// no snapshot installed: the service drops the request
	client := startClient(t, tc.shards[0], 0, "service", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, tc.taskError(t), state_view.ErrNoSnapshot)
}

func TestClientResetRefetches(t *testing.T) {
	tc := newTestCluster(t, 1, nil)
	tc.service.SetStateView(snapshot("v1", map[string]string{"x": "10"}))
	client := startClient(t, tc.shards[0], 0, "service", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	v, err := client.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "10", string(v.Bytes))

	tc.service.SetStateView(snapshot("v2", map[string]string{"x": "20"}))
	client.Reset()

	v, err = client.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "20", string(v.Bytes))
}

func TestClientSendFailure(t *testing.T) {
	hub := transport.NewLocalHub()
	ep, err := hub.Endpoint("shard-0")
	require.NoError(t, err)

	client, err := NewClient(ep, 0, "nowhere", DefaultClientConfig())
	require.NoError(t, err)

	err = client.Prefetch([]state_view.StateKey{"a"})
	require.True(t, errors.Is(err, transport.ErrUnknownAddress), "got %v", err)

	// failed keys can be requested again
	err = client.Prefetch([]state_view.StateKey{"a"})
	require.ErrorIs(t, err, transport.ErrUnknownAddress)
}

func TestClientRunStopsOnClosedInbound(t *testing.T) {
	hub := transport.NewLocalHub()
	ep, _ := hub.Endpoint("shard-0")
	client, err := NewClient(ep, 0, "service", DefaultClientConfig())
	require.NoError(t, err)

	require.NoError(t, ep.Close())
	require.ErrorIs(t, client.Run(context.Background()), ErrInboundClosed)
}

func TestNewClientRejectsNegativeShard(t *testing.T) {
	hub := transport.NewLocalHub()
	ep, _ := hub.Endpoint("shard-0")
	_, err := NewClient(ep, -1, "service", DefaultClientConfig())
	require.Error(t, err)
}

func TestClientResetDuringInflightRequest(t *testing.T) {
	tc := newTestCluster(t, 1, nil)
	v1 := &blockingView{
		MemorySnapshot: snapshot("v1", map[string]string{"x": "10"}),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	tc.service.SetStateView(v1)
	client := startClient(t, tc.shards[0], 0, "service", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	waiter := make(chan error, 1)
	go func() {
		_, err := client.Get(ctx, "x")
		waiter <- err
	}()

	select {
	case <-v1.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("request never reached key x")
	}
	tc.service.SetStateView(snapshot("v2", map[string]string{"x": "20"}))
	client.Reset()

	// the caller waiting before Reset is released with an error
	select {
	case err := <-waiter:
		require.ErrorIs(t, err, ErrClientReset)
	case <-time.After(time.Second):
		t.Fatal("waiter from before Reset never returned")
	}

	// the stale response for x still arrives, and must not satisfy the new fetch
	close(v1.release)
	v, err := client.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "20", string(v.Bytes))
	require.Equal(t, uint64(2), tc.service.Stats().Received)
	require.Eventually(t, func() bool { return tc.service.Stats().Served == 2 }, time.Second, 5*time.Millisecond)
}

func TestClientIgnoresUnrequestedKeys(t *testing.T) {
	hub := transport.NewLocalHub()
	ep, _ := hub.Endpoint("shard-0")
	client, err := NewClient(ep, 0, "service", DefaultClientConfig())
	require.NoError(t, err)

	client.fill(&Response{Values: []KeyValue{{Key: "stray", Value: state_view.NewStateValue([]byte("1"))}}, Tag: 1})
	client.mu.Lock()
	_, cached := client.values["stray"]
	client.mu.Unlock()
	require.False(t, cached)
}
