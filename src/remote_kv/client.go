package remote_kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/remote_kv/src/api/transport"
	"github.com/danmuck/remote_kv/src/state_view"
	logs "github.com/danmuck/smplog"
)

// ErrClientReset is returned to callers still waiting on a key when Reset runs.
var ErrClientReset = errors.New("client cache reset")

// remoteValue is settled once: by the response for its key, or with err
// when the fetch is abandoned.
type remoteValue struct {
	ready chan struct{}
	value *state_view.StateValue
	err   error
	done  bool
}

func (rv *remoteValue) settle(value *state_view.StateValue, err error) {
	if rv.done {
		return
	}
	rv.value = value
	rv.err = err
	rv.done = true
	close(rv.ready)
}

// Client is the shard-side half of the protocol: it sends lookups to the
// service and caches whatever comes back on the shard's response channel.
// Responses may arrive in any order; they are matched to waiters by key.
// Every request carries the cache generation as its tag, and responses from
// an older generation are dropped.
type Client struct {
	shardID   int
	requests  transport.Sender
	responses <-chan *transport.Message
	batchSize int

	mu         sync.Mutex
	values     map[state_view.StateKey]*remoteValue
	generation uint64
}

// NewClient registers the response channel on fabric and opens a request
// channel to serviceAddr.
func NewClient(fabric transport.Fabric, shardID int, serviceAddr string, cfg ClientConfig) (*Client, error) {
	if shardID < 0 {
		return nil, fmt.Errorf("invalid shard id %d", shardID)
	}
	sender, err := fabric.Outbound(serviceAddr, transport.KVRequestType)
	if err != nil {
		return nil, fmt.Errorf("failed to open request channel to %s: %w", serviceAddr, err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Client{
		shardID:    shardID,
		requests:   sender,
		responses:  fabric.Inbound(transport.KVResponseType),
		batchSize:  cfg.BatchSize,
		values:     make(map[state_view.StateKey]*remoteValue),
		generation: 1,
	}, nil
}

// Prefetch requests every key not already requested, batchSize keys per
// request.
func (c *Client) Prefetch(keys []state_view.StateKey) error {
	c.mu.Lock()
	missing := make([]state_view.StateKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := c.values[k]; ok {
			continue
		}
		c.values[k] = &remoteValue{ready: make(chan struct{})}
		missing = append(missing, k)
	}
	generation := c.generation
	c.mu.Unlock()

	for start := 0; start < len(missing); start += c.batchSize {
		end := min(start+c.batchSize, len(missing))
		req := &Request{ShardID: c.shardID, Keys: missing[start:end], Tag: generation}
		if err := c.requests.Send(EncodeRequest(req)); err != nil {
			err = fmt.Errorf("shard %d: failed to send request: %w", c.shardID, err)
			c.forget(missing[start:], err)
			return err
		}
	}
	return nil
}

// Get returns the value for key, fetching it first if needed, and waits until
// it arrives or ctx ends. A nil value means the key holds no value.
func (c *Client) Get(ctx context.Context, key state_view.StateKey) (*state_view.StateValue, error) {
	if err := c.Prefetch([]state_view.StateKey{key}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	rv := c.values[key]
	c.mu.Unlock()
	if rv == nil {
		return nil, fmt.Errorf("shard %d: key %s was reset while waiting", c.shardID, key)
	}

	select {
	case <-rv.ready:
		if rv.err != nil {
			return nil, fmt.Errorf("shard %d: key %s: %w", c.shardID, key, rv.err)
		}
		return rv.value, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("shard %d: waiting for key %s: %w", c.shardID, key, ctx.Err())
	}
}

// Reset drops every cached value, e.g. when the service moves to a new
// snapshot. Callers waiting on a key fail with ErrClientReset, and responses
// to requests sent before Reset are ignored.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rv := range c.values {
		rv.settle(nil, ErrClientReset)
	}
	c.values = make(map[state_view.StateKey]*remoteValue)
	c.generation++
}

// Run consumes responses until ctx ends or the response channel closes.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.responses:
			if !ok {
				return ErrInboundClosed
			}
			resp, err := DecodeResponse(msg.Payload)
			if err != nil {
				logs.Errorf(err, "shard %d: dropping undecodable response", c.shardID)
				continue
			}
			c.fill(resp)
		}
	}
}

// fill settles requested keys only; unknown keys and stale generations are dropped.
func (c *Client) fill(resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.Tag != c.generation {
		logs.Debugf("shard %d: dropping response from generation %d (current %d)", c.shardID, resp.Tag, c.generation)
		return
	}
	for _, kv := range resp.Values {
		if rv, ok := c.values[kv.Key]; ok {
			rv.settle(kv.Value, nil)
		}
	}
}

// forget fails and removes keys whose request never left, so they can be
// requested again.
func (c *Client) forget(keys []state_view.StateKey, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if rv, ok := c.values[k]; ok && !rv.done {
			rv.settle(nil, err)
			delete(c.values, k)
		}
	}
}
