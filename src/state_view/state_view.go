package state_view

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned when a lookup runs before any snapshot was installed.
var ErrNoSnapshot = errors.New("no state snapshot installed")

// StateKey identifies a single piece of ledger state. The contents are opaque
// to this package and may hold arbitrary bytes.
type StateKey string

func (k StateKey) String() string {
	return fmt.Sprintf("%x", string(k))
}

// StateValue is the value held by a StateKey.
// A nil *StateValue means the key holds no value.
type StateValue struct {
	Bytes []byte
}

// NewStateValue copies b into a new StateValue.
func NewStateValue(b []byte) *StateValue {
	v := &StateValue{Bytes: make([]byte, len(b))}
	copy(v.Bytes, b)
	return v
}

// StateView is a read-only, point-in-time view over ledger state.
// Implementations must be safe for concurrent readers.
type StateView interface {
	// GetStateValue returns (nil, nil) for a key with no value.
	GetStateValue(key StateKey) (*StateValue, error)
}

// ParseHexKey decodes the hex form printed by StateKey.String.
func ParseHexKey(s string) (StateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("key %q: %w", s, err)
	}
	return StateKey(b), nil
}
