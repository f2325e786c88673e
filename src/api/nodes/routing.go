package nodes

import (
	"errors"
	"fmt"

	"github.com/danmuck/remote_kv/src/api/transport"
)

var ErrUnknownShard = errors.New("unknown shard")

// ShardRouter holds one outbound channel per shard, created once from the
// ordered address list. The shard id is the index into that list.
type ShardRouter struct {
	shards  []ShardInfo
	senders []transport.Sender
}

// NewShardRouter opens an outbound channel of msgType to every address.
func NewShardRouter(fabric transport.Fabric, addresses []string, msgType string) (*ShardRouter, error) {
	r := &ShardRouter{
		shards:  make([]ShardInfo, 0, len(addresses)),
		senders: make([]transport.Sender, 0, len(addresses)),
	}
	for id, addr := range addresses {
		sender, err := fabric.Outbound(addr, msgType)
		if err != nil {
			return nil, fmt.Errorf("shard %d (%s): %w", id, addr, err)
		}
		r.shards = append(r.shards, ShardInfo{ID: id, Address: addr})
		r.senders = append(r.senders, sender)
	}
	return r, nil
}

func (r *ShardRouter) Lookup(id ShardID) (transport.Sender, error) {
	if id < 0 || id >= len(r.senders) {
		return nil, fmt.Errorf("%w: %d (known shards: %d)", ErrUnknownShard, id, len(r.senders))
	}
	return r.senders[id], nil
}

// Shards returns a copy of the shard table.
func (r *ShardRouter) Shards() []ShardInfo {
	out := make([]ShardInfo, len(r.shards))
	copy(out, r.shards)
	return out
}

func (r *ShardRouter) Len() int {
	return len(r.shards)
}
