package transport

import "errors"

// Message type tags for the remote key-value protocol.
const (
	KVRequestType  = "remote_kv_request"
	KVResponseType = "remote_kv_response"
)

var (
	ErrUnknownAddress = errors.New("no endpoint registered at address")
	ErrFabricClosed   = errors.New("fabric closed")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrBadEnvelope    = errors.New("malformed message envelope")
)

// Message is the envelope carried by every channel: a type tag that selects
// the inbound channel on the receiving side, plus an opaque payload.
type Message struct {
	Type    string
	Payload []byte
}

// Sender delivers payloads to one remote address under one type tag.
// Once Send returns nil the message has been accepted for delivery.
type Sender interface {
	Send(payload []byte) error
}

// Fabric creates address-keyed typed channels.
type Fabric interface {
	Inbound(msgType string) <-chan *Message        // one shared channel per type, closed on shutdown
	Outbound(addr, msgType string) (Sender, error) // typed sender to a remote address
	Address() string                               // local listen address
	Close() error                                  // close listener and inbound channels
}
