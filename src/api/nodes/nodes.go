package nodes

import (
	"github.com/danmuck/remote_kv/src/api/transport"
)

// ShardID indexes the construction-time list of shard addresses.
type ShardID = int

// ShardInfo describes one remote execution shard.
type ShardInfo struct {
	ID      ShardID
	Address string
}

// Router resolves a shard to the channel its responses travel on.
// Implementations are immutable after construction and safe for concurrent use.
type Router interface {
	Lookup(id ShardID) (transport.Sender, error) // outbound sender for a shard
	Shards() []ShardInfo                         // all known shards in id order
	Len() int                                    // number of known shards
}
