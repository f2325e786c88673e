package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single framed message on the wire.
const MaxFrameSize = 64 << 20

const (
	envelopeTypeField    protowire.Number = 1
	envelopePayloadField protowire.Number = 2
)

type Coder interface {
	Encode(*Message) ([]byte, error)
	Decode(io.Reader) (*Message, error)
}

// DefaultCoder frames a protobuf-wire envelope behind a 4-byte big-endian
// length header.
type DefaultCoder struct{}

func (c DefaultCoder) Encode(msg *Message) ([]byte, error) {
	body := MarshalEnvelope(msg)
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("encode %s: %d bytes: %w", msg.Type, len(body), ErrFrameTooLarge)
	}
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func (c DefaultCoder) Decode(r io.Reader) (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("decode: %d bytes: %w", length, ErrFrameTooLarge)
	}
	body := make([]byte, int(length))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return UnmarshalEnvelope(body)
}

// MarshalEnvelope writes the type tag then the payload.
func MarshalEnvelope(msg *Message) []byte {
	b := make([]byte, 0, len(msg.Type)+len(msg.Payload)+16)
	b = protowire.AppendTag(b, envelopeTypeField, protowire.BytesType)
	b = protowire.AppendString(b, msg.Type)
	b = protowire.AppendTag(b, envelopePayloadField, protowire.BytesType)
	b = protowire.AppendBytes(b, msg.Payload)
	return b
}

// UnmarshalEnvelope is the inverse of MarshalEnvelope. Unknown fields are
// skipped so the envelope can grow.
func UnmarshalEnvelope(b []byte) (*Message, error) {
	msg := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == envelopeTypeField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: type: %v", ErrBadEnvelope, protowire.ParseError(n))
			}
			msg.Type = v
			b = b[n:]
		case num == envelopePayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: payload: %v", ErrBadEnvelope, protowire.ParseError(n))
			}
			msg.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrBadEnvelope, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}
	return msg, nil
}
