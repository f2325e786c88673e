package state_view

import (
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"
)

// snapshotFile is the on-disk TOML layout of a snapshot:
//
//	label = "epoch-7"
//
//	[[entry]]
//	key = "a"
//	value = "1"
//
//	[[entry]]
//	key_hex = "00ff"
//	value_hex = ""
type snapshotFile struct {
	Label   string          `toml:"label"`
	Entries []snapshotEntry `toml:"entry"`
}

type snapshotEntry struct {
	Key      *string `toml:"key"`
	KeyHex   *string `toml:"key_hex"`
	Value    *string `toml:"value"`
	ValueHex *string `toml:"value_hex"`
}

// LoadSnapshotFile decodes a TOML snapshot file into a MemorySnapshot.
func LoadSnapshotFile(path string) (*MemorySnapshot, error) {
	var sf snapshotFile
	if _, err := toml.DecodeFile(path, &sf); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}

	data := make(map[StateKey][]byte, len(sf.Entries))
	for i, e := range sf.Entries {
		key, err := pickBytes(e.Key, e.KeyHex)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s entry %d key: %w", path, i, err)
		}
		value, err := pickBytes(e.Value, e.ValueHex)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s entry %d value: %w", path, i, err)
		}
		if _, dup := data[StateKey(key)]; dup {
			return nil, fmt.Errorf("snapshot %s entry %d: duplicate key %q", path, i, key)
		}
		data[StateKey(key)] = value
	}

	label := sf.Label
	if label == "" {
		label = path
	}
	return NewMemorySnapshot(label, data), nil
}

// exactly one of plain or hexed must be set
func pickBytes(plain, hexed *string) ([]byte, error) {
	switch {
	case plain != nil && hexed != nil:
		return nil, fmt.Errorf("both plain and hex forms set")
	case plain != nil:
		return []byte(*plain), nil
	case hexed != nil:
		b, err := hex.DecodeString(*hexed)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("missing")
	}
}
