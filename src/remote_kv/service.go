package remote_kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/remote_kv/src/api/nodes"
	"github.com/danmuck/remote_kv/src/api/transport"
	"github.com/danmuck/remote_kv/src/state_view"
	logs "github.com/danmuck/smplog"
)

// ErrInboundClosed means the request channel went away; the dispatch loop
// cannot continue and the hosting process decides what happens next.
var ErrInboundClosed = errors.New("inbound request channel closed")

// Service answers batched key lookups from execution shards. One goroutine
// runs the dispatch loop (Start); every request is handled on the worker
// pool against the snapshot installed with SetStateView.
type Service struct {
	inbound     <-chan *transport.Message
	router      nodes.Router
	pool        *Pool
	slot        *state_view.Slot[state_view.StateView]
	onTaskError func(error)
	stats       counters
}

// New opens the shared request channel and one response channel per shard
// address. The service is idle until Start is called.
func New(fabric transport.Fabric, cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}

	router, err := nodes.NewShardRouter(fabric, cfg.ShardAddresses, transport.KVResponseType)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard channels: %w", err)
	}

	s := &Service{
		inbound:     fabric.Inbound(transport.KVRequestType),
		router:      router,
		slot:        state_view.NewSlot[state_view.StateView](),
		onTaskError: cfg.OnTaskError,
	}
	s.pool = NewPool(cfg.Workers, cfg.QueueSize, s.taskFailed)
	return s, nil
}

// SetStateView makes view the snapshot for every lookup that starts after
// it returns. Lookups already running finish on the snapshot they pinned.
// A nil view clears the slot.
func (s *Service) SetStateView(view state_view.StateView) uint64 {
	version := s.slot.Replace(view)
	if version == 0 {
		logs.Warnf("remote kv service: snapshot cleared, requests fail until one is installed")
		return 0
	}
	logs.Infof("remote kv service: installed snapshot version %d", version)
	return version
}

// Start runs the dispatch loop until ctx is cancelled (returns ctx.Err()) or
// the inbound channel closes (returns ErrInboundClosed). It may run before
// any snapshot is installed; requests handled in that window fail.
func (s *Service) Start(ctx context.Context) error {
	logs.Infof("remote kv service: dispatching on %d workers for %d shards", s.pool.Workers(), s.router.Len())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.inbound:
			if !ok {
				return ErrInboundClosed
			}
			s.stats.received.Add(1)
			if err := s.pool.Submit(func() error { return s.HandleMessage(msg) }); err != nil {
				return fmt.Errorf("failed to dispatch request: %w", err)
			}
		}
	}
}

// HandleMessage serves one raw request: decode, resolve every key in order
// against one pinned snapshot, encode, and send to the origin shard. Any
// error aborts this request only; nothing is sent and nothing is retried.
func (s *Service) HandleMessage(msg *transport.Message) error {
	req, err := DecodeRequest(msg.Payload)
	if err != nil {
		return err
	}
	logs.Debugf("remote kv service: received request for shard %d with %d keys", req.ShardID, len(req.Keys))

	view, version, err := s.slot.Current()
	if err != nil {
		return fmt.Errorf("request from shard %d: %w", req.ShardID, err)
	}

	resp := &Response{Values: make([]KeyValue, len(req.Keys)), Tag: req.Tag}
	var absent uint64
	for i, key := range req.Keys {
		value, err := view.GetStateValue(key)
		if err != nil {
			return fmt.Errorf("request from shard %d: key %s in snapshot %d: %w", req.ShardID, key, version, err)
		}
		if value == nil {
			absent++
		}
		resp.Values[i] = KeyValue{Key: key, Value: value}
	}

	sender, err := s.router.Lookup(req.ShardID)
	if err != nil {
		return err
	}
	if err := sender.Send(EncodeResponse(resp)); err != nil {
		return fmt.Errorf("failed to send response to shard %d: %w", req.ShardID, err)
	}

	s.stats.served.Add(1)
	s.stats.keysServed.Add(uint64(len(resp.Values)))
	s.stats.keysAbsent.Add(absent)
	logs.Debugf("remote kv service: sent response for shard %d with %d keys", req.ShardID, len(resp.Values))
	return nil
}

// Close stops accepting work and waits for queued requests to finish.
func (s *Service) Close() {
	s.pool.Close()
}

func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Received:    s.stats.received.Load(),
		Served:      s.stats.served.Load(),
		Failed:      s.stats.failed.Load(),
		KeysServed:  s.stats.keysServed.Load(),
		KeysAbsent:  s.stats.keysAbsent.Load(),
		SnapshotVer: s.slot.Version(),
		Pending:     s.pool.Pending(),
	}
}

// Shards returns the shard table the service routes responses with.
func (s *Service) Shards() []nodes.ShardInfo {
	return s.router.Shards()
}

func (s *Service) taskFailed(err error) {
	s.stats.failed.Add(1)
	logs.Errorf(err, "remote kv service: request aborted")
	if s.onTaskError != nil {
		s.onTaskError(err)
	}
}
