package remote_kv

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/remote_kv/src/api/transport"
	"github.com/danmuck/remote_kv/src/state_view"
	"github.com/stretchr/testify/require"
)

// Service and shard clients on real TCP listeners.
func TestServiceOverTCP(t *testing.T) {
	const numShards = 3

	shardCtrls := make([]*transport.TCPController, numShards)
	addrs := make([]string, numShards)
	for i := range shardCtrls {
		ctrl := transport.NewTCPController("localhost:0")
		require.NoError(t, ctrl.ListenAndAccept())
		t.Cleanup(func() { ctrl.Close() })
		shardCtrls[i] = ctrl
		addrs[i] = ctrl.Address()
	}

	svcCtrl := transport.NewTCPController("localhost:0")
	require.NoError(t, svcCtrl.ListenAndAccept())

	cfg := DefaultConfig()
	cfg.ShardAddresses = addrs
	cfg.Workers = 4
	svc, err := New(svcCtrl, cfg)
	require.NoError(t, err)

	kv := make(map[state_view.StateKey][]byte)
	for i := 0; i < 300; i++ {
		if i%5 == 0 {
			continue
		}
		kv[state_view.StateKey(fmt.Sprint("key-", i))] = []byte(fmt.Sprint(i))
	}
	svc.SetStateView(state_view.NewMemorySnapshot("tcp", kv))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	clients := make([]*Client, numShards)
	for i := range clients {
		clients[i] = startClient(t, shardCtrls[i], i, svcCtrl.Address(), 32)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(shard int, c *Client) {
			defer wg.Done()
			keys := make([]state_view.StateKey, 0, 100)
			for j := shard * 100; j < (shard+1)*100; j++ {
				keys = append(keys, state_view.StateKey(fmt.Sprint("key-", j)))
			}
			if err := c.Prefetch(keys); err != nil {
				t.Errorf("shard %d prefetch: %v", shard, err)
				return
			}
			getCtx, getCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer getCancel()
			for _, k := range keys {
				v, err := c.Get(getCtx, k)
				if err != nil {
					t.Errorf("shard %d get %s: %v", shard, string(k), err)
					return
				}
				want, present := kv[k]
				if present != (v != nil) {
					t.Errorf("shard %d key %s: present=%v, got %v", shard, string(k), present, v)
					continue
				}
				if present && string(v.Bytes) != string(want) {
					t.Errorf("shard %d key %s = %q, want %q", shard, string(k), v.Bytes, want)
				}
			}
		}(i, c)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return svc.Stats().KeysServed == 300 }, 2*time.Second, 5*time.Millisecond)
	stats := svc.Stats()
	require.Equal(t, uint64(0), stats.Failed)
	require.Equal(t, uint64(300), stats.KeysServed)
	require.Equal(t, uint64(60), stats.KeysAbsent)

	// closing the service's fabric ends the dispatch loop
	require.NoError(t, svcCtrl.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInboundClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("dispatch loop still running after fabric close")
	}
	cancel()
	svc.Close()
}
