package transport

import (
	"fmt"
	"sync"
)

const localInboundBuffer = 1024

// LocalHub is an in-process network: endpoints register under an address and
// senders deliver straight into the target endpoint's inbound channels.
type LocalHub struct {
	mu        sync.RWMutex
	endpoints map[string]*LocalEndpoint
}

func NewLocalHub() *LocalHub {
	return &LocalHub{endpoints: make(map[string]*LocalEndpoint)}
}

// Endpoint registers a new endpoint at addr.
func (hub *LocalHub) Endpoint(addr string) (*LocalEndpoint, error) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, exists := hub.endpoints[addr]; exists {
		return nil, fmt.Errorf("endpoint %s already registered", addr)
	}
	ep := &LocalEndpoint{
		hub:     hub,
		address: addr,
		inbound: make(map[string]chan *Message),
		exit:    make(chan any),
	}
	hub.endpoints[addr] = ep
	return ep, nil
}

func (hub *LocalHub) lookup(addr string) (*LocalEndpoint, bool) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	ep, ok := hub.endpoints[addr]
	return ep, ok
}

func (hub *LocalHub) remove(addr string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.endpoints, addr)
}

// LocalEndpoint is one address on a LocalHub and implements Fabric.
type LocalEndpoint struct {
	hub     *LocalHub
	address string

	mu       sync.Mutex
	inbound  map[string]chan *Message
	closed   bool
	exit     chan any
	inflight sync.WaitGroup
}

func (ep *LocalEndpoint) Address() string {
	return ep.address
}

func (ep *LocalEndpoint) Inbound(msgType string) <-chan *Message {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.inboundLocked(msgType)
}

func (ep *LocalEndpoint) inboundLocked(msgType string) chan *Message {
	ch, ok := ep.inbound[msgType]
	if !ok {
		ch = make(chan *Message, localInboundBuffer)
		if ep.closed {
			close(ch)
		}
		ep.inbound[msgType] = ch
	}
	return ch
}

// Outbound resolves addr lazily on every Send, so the target may register
// after the sender is created.
func (ep *LocalEndpoint) Outbound(addr, msgType string) (Sender, error) {
	if addr == "" {
		return nil, fmt.Errorf("outbound %s: empty address: %w", msgType, ErrUnknownAddress)
	}
	return &localSender{from: ep, addr: addr, msgType: msgType}, nil
}

// Close unregisters the endpoint and closes its inbound channels once no
// delivery is in flight.
func (ep *LocalEndpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	close(ep.exit)
	ep.mu.Unlock()

	ep.hub.remove(ep.address)
	ep.inflight.Wait()

	ep.mu.Lock()
	for _, ch := range ep.inbound {
		close(ch)
	}
	ep.mu.Unlock()
	return nil
}

func (ep *LocalEndpoint) deliver(msg *Message) error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return ErrFabricClosed
	}
	ch := ep.inboundLocked(msg.Type)
	ep.inflight.Add(1)
	ep.mu.Unlock()
	defer ep.inflight.Done()

	select {
	case ch <- msg:
		return nil
	case <-ep.exit:
		return ErrFabricClosed
	}
}

type localSender struct {
	from    *LocalEndpoint
	addr    string
	msgType string
}

func (s *localSender) Send(payload []byte) error {
	select {
	case <-s.from.exit:
		return ErrFabricClosed
	default:
	}
	target, ok := s.from.hub.lookup(s.addr)
	if !ok {
		return fmt.Errorf("send %s to %s: %w", s.msgType, s.addr, ErrUnknownAddress)
	}
	msg := &Message{Type: s.msgType, Payload: append([]byte(nil), payload...)}
	return target.deliver(msg)
}
