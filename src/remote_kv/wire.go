package remote_kv

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/remote_kv/src/state_view"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode marks a payload that is not a well-formed request or response.
var ErrDecode = errors.New("malformed remote kv payload")

// Field numbers of the wire messages. Encoders emit fields in ascending
// order and repeated fields in sequence order, so encoding is deterministic.
const (
	requestShardField protowire.Number = 1
	requestKeyField   protowire.Number = 2
	requestTagField   protowire.Number = 3

	responseEntryField protowire.Number = 1
	responseTagField   protowire.Number = 2

	entryKeyField   protowire.Number = 1
	entryValueField protowire.Number = 2

	valueBytesField protowire.Number = 1
)

// Request asks for the values of Keys on behalf of shard ShardID.
// Tag is opaque to the service and echoed in the Response; zero is not
// written to the wire.
type Request struct {
	ShardID int
	Keys    []state_view.StateKey
	Tag     uint64
}

// KeyValue is one lookup result. A nil Value means the key holds no value.
type KeyValue struct {
	Key   state_view.StateKey
	Value *state_view.StateValue
}

// Response carries one KeyValue per requested key, in request order.
type Response struct {
	Values []KeyValue
	Tag    uint64
}

func EncodeRequest(req *Request) []byte {
	size := 10
	for _, k := range req.Keys {
		size += len(k) + 6
	}
	b := make([]byte, 0, size)
	b = protowire.AppendTag(b, requestShardField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.ShardID))
	for _, k := range req.Keys {
		b = protowire.AppendTag(b, requestKeyField, protowire.BytesType)
		b = protowire.AppendString(b, string(k))
	}
	if req.Tag != 0 {
		b = protowire.AppendTag(b, requestTagField, protowire.VarintType)
		b = protowire.AppendVarint(b, req.Tag)
	}
	return b
}

func DecodeRequest(b []byte) (*Request, error) {
	req := &Request{}
	seenShard := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeErr("request tag", n)
		}
		b = b[n:]

		switch {
		case num == requestShardField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeErr("request shard id", n)
			}
			if v > math.MaxInt32 {
				return nil, fmt.Errorf("%w: shard id %d out of range", ErrDecode, v)
			}
			req.ShardID = int(v)
			seenShard = true
			b = b[n:]
		case num == requestKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, decodeErr("request key", n)
			}
			req.Keys = append(req.Keys, state_view.StateKey(v))
			b = b[n:]
		case num == requestTagField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeErr("request tag value", n)
			}
			req.Tag = v
			b = b[n:]
		default:
			return nil, fmt.Errorf("%w: unexpected request field %d (wire type %d)", ErrDecode, num, typ)
		}
	}
	if !seenShard {
		return nil, fmt.Errorf("%w: request missing shard id", ErrDecode)
	}
	return req, nil
}

func EncodeResponse(resp *Response) []byte {
	var b []byte
	var entry []byte
	for _, kv := range resp.Values {
		entry = entry[:0]
		entry = protowire.AppendTag(entry, entryKeyField, protowire.BytesType)
		entry = protowire.AppendString(entry, string(kv.Key))
		if kv.Value != nil {
			var value []byte
			if len(kv.Value.Bytes) > 0 {
				value = protowire.AppendTag(value, valueBytesField, protowire.BytesType)
				value = protowire.AppendBytes(value, kv.Value.Bytes)
			}
			entry = protowire.AppendTag(entry, entryValueField, protowire.BytesType)
			entry = protowire.AppendBytes(entry, value)
		}
		b = protowire.AppendTag(b, responseEntryField, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	if resp.Tag != 0 {
		b = protowire.AppendTag(b, responseTagField, protowire.VarintType)
		b = protowire.AppendVarint(b, resp.Tag)
	}
	return b
}

func DecodeResponse(b []byte) (*Response, error) {
	resp := &Response{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeErr("response tag", n)
		}
		b = b[n:]
		if num == responseTagField && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeErr("response tag value", n)
			}
			resp.Tag = v
			b = b[n:]
			continue
		}
		if num != responseEntryField || typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: unexpected response field %d (wire type %d)", ErrDecode, num, typ)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, decodeErr("response entry", n)
		}
		b = b[n:]

		kv, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		resp.Values = append(resp.Values, kv)
	}
	return resp, nil
}

func decodeEntry(b []byte) (KeyValue, error) {
	var kv KeyValue
	seenKey := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return kv, decodeErr("entry tag", n)
		}
		b = b[n:]

		switch {
		case num == entryKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return kv, decodeErr("entry key", n)
			}
			kv.Key = state_view.StateKey(v)
			seenKey = true
			b = b[n:]
		case num == entryValueField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return kv, decodeErr("entry value", n)
			}
			value, err := decodeValue(raw)
			if err != nil {
				return kv, err
			}
			kv.Value = value
			b = b[n:]
		default:
			return kv, fmt.Errorf("%w: unexpected entry field %d (wire type %d)", ErrDecode, num, typ)
		}
	}
	if !seenKey {
		return kv, fmt.Errorf("%w: entry missing key", ErrDecode)
	}
	return kv, nil
}

func decodeValue(b []byte) (*state_view.StateValue, error) {
	value := &state_view.StateValue{Bytes: []byte{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeErr("value tag", n)
		}
		b = b[n:]
		if num != valueBytesField || typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: unexpected value field %d (wire type %d)", ErrDecode, num, typ)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, decodeErr("value bytes", n)
		}
		value.Bytes = append(value.Bytes[:0], v...)
		b = b[n:]
	}
	return value, nil
}

func decodeErr(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, what, protowire.ParseError(n))
}
