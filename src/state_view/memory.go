package state_view

// MemorySnapshot is an immutable map-backed StateView.
type MemorySnapshot struct {
	label string
	data  map[StateKey][]byte
}

// NewMemorySnapshot copies data into a new snapshot. Keys missing from data
// read as absent; a key mapped to an empty slice reads as present-but-empty.
func NewMemorySnapshot(label string, data map[StateKey][]byte) *MemorySnapshot {
	stored := make(map[StateKey][]byte, len(data))
	for k, v := range data {
		b := make([]byte, len(v))
		copy(b, v)
		stored[k] = b
	}
	return &MemorySnapshot{label: label, data: stored}
}

// GetStateValue returns a copy of the stored value so callers cannot mutate
// the snapshot.
func (m *MemorySnapshot) GetStateValue(key StateKey) (*StateValue, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return NewStateValue(v), nil
}

// Label returns the name the snapshot was built with.
func (m *MemorySnapshot) Label() string {
	return m.label
}

// Len returns the number of keys holding a value.
func (m *MemorySnapshot) Len() int {
	return len(m.data)
}
