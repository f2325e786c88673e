package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
)

const (
	inboundBuffer = 256
	dialTimeout   = 5 * time.Second
)

// TCPController is a Fabric over plain TCP. Every peer connection carries
// framed envelopes; inbound frames are routed to the channel registered for
// their type tag.
type TCPController struct {
	address  string
	listener net.Listener
	coder    Coder
	exit     chan any

	mu       sync.Mutex
	inbound  map[string]chan *Message
	accepted map[net.Conn]struct{}
	peers    map[string]*peerConn
	closed   bool
	wg       sync.WaitGroup
}

// peerConn is the single outbound connection kept per remote address.
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// TCPController generator function
func NewTCPController(address string) *TCPController {
	logs.Debugf("NewTCPController(%s)", address)
	return &TCPController{
		address:  address,
		coder:    DefaultCoder{},
		exit:     make(chan any),
		inbound:  make(map[string]chan *Message),
		accepted: make(map[net.Conn]struct{}),
		peers:    make(map[string]*peerConn),
	}
}

// Listen and accept connections on the configured address
func (h *TCPController) ListenAndAccept() error {
	logs.Debugf("ListenAndAccept(%s)", h.address)
	lis, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.address, err)
	}

	h.mu.Lock()
	h.listener = lis
	h.address = lis.Addr().String()
	h.mu.Unlock()

	h.wg.Add(1)
	go h.acceptConnections()
	return nil
}

// Address returns the bound listen address once ListenAndAccept has run.
func (h *TCPController) Address() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.address
}

func (h *TCPController) Inbound(msgType string) <-chan *Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inboundLocked(msgType)
}

func (h *TCPController) inboundLocked(msgType string) chan *Message {
	ch, ok := h.inbound[msgType]
	if !ok {
		ch = make(chan *Message, inboundBuffer)
		if h.closed {
			close(ch)
		}
		h.inbound[msgType] = ch
	}
	return ch
}

func (h *TCPController) Outbound(addr, msgType string) (Sender, error) {
	if addr == "" {
		return nil, fmt.Errorf("outbound %s: empty address: %w", msgType, ErrUnknownAddress)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrFabricClosed
	}
	p, ok := h.peers[addr]
	if !ok {
		p = &peerConn{}
		h.peers[addr] = p
	}
	return &tcpSender{ctrl: h, peer: p, addr: addr, msgType: msgType}, nil
}

// close the listener, every connection, and then the inbound channels
func (h *TCPController) Close() error {
	logs.Debugf("Close(start)")
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.exit)
	if h.listener != nil {
		h.listener.Close()
	}
	for conn := range h.accepted {
		conn.Close()
	}
	peers := h.peers
	h.mu.Unlock()

	h.wg.Wait()

	for _, p := range peers {
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
			p.conn = nil
		}
		p.mu.Unlock()
	}

	h.mu.Lock()
	for _, ch := range h.inbound {
		close(ch)
	}
	h.mu.Unlock()
	logs.Debugf("Close(done)")
	return nil
}

// private

// listener accept loop
func (h *TCPController) acceptConnections() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.exit:
				logs.Debugf("acceptConnections(): exit")
			default:
				logs.Warnf("acceptConnections error: %s", err)
			}
			return
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.accepted[conn] = struct{}{}
		h.wg.Add(1)
		h.mu.Unlock()

		go h.handleConnection(conn)
	}
}

// read frames until the peer hangs up or the controller closes
func (h *TCPController) handleConnection(conn net.Conn) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.accepted, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	clientAddr := conn.RemoteAddr().String()
	logs.Debugf("handleConnection(%s): start", clientAddr)
	reader := bufio.NewReader(conn)

	for {
		msg, err := h.coder.Decode(reader)
		if err != nil {
			select {
			case <-h.exit:
			default:
				if errors.Is(err, io.EOF) {
					logs.Debugf("handleConnection(%s): closed by peer", clientAddr)
				} else {
					logs.Warnf("handleConnection(%s) error: %v", clientAddr, err)
				}
			}
			return
		}

		h.mu.Lock()
		ch := h.inboundLocked(msg.Type)
		h.mu.Unlock()

		select {
		case ch <- msg:
		case <-h.exit:
			return
		}
	}
}

type tcpSender struct {
	ctrl    *TCPController
	peer    *peerConn
	addr    string
	msgType string
}

// Send writes one frame, redialing once if the cached connection is dead.
func (s *tcpSender) Send(payload []byte) error {
	select {
	case <-s.ctrl.exit:
		return ErrFabricClosed
	default:
	}

	data, err := s.ctrl.coder.Encode(&Message{Type: s.msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.peer.mu.Lock()
	defer s.peer.mu.Unlock()

	// Close may have torn down peer connections while we waited for the lock
	select {
	case <-s.ctrl.exit:
		return ErrFabricClosed
	default:
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if s.peer.conn == nil {
			conn, err := net.DialTimeout("tcp", s.addr, dialTimeout)
			if err != nil {
				return fmt.Errorf("dial %s: %w", s.addr, err)
			}
			s.peer.conn = conn
		}
		if _, err := s.peer.conn.Write(data); err != nil {
			logs.Warnf("Send(%s): write failed, dropping connection: %v", s.addr, err)
			s.peer.conn.Close()
			s.peer.conn = nil
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to write to %s: %w", s.addr, lastErr)
}
