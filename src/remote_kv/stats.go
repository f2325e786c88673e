package remote_kv

import "sync/atomic"

// ServiceStats is a point-in-time copy of the service counters.
type ServiceStats struct {
	Received    uint64 // requests taken off the inbound channel
	Served      uint64 // responses accepted by an outbound channel
	Failed      uint64 // tasks aborted by a decode, lookup, routing or send error
	KeysServed  uint64 // keys resolved across served responses
	KeysAbsent  uint64 // of which held no value
	SnapshotVer uint64 // version of the installed snapshot, 0 if none
	Pending     int    // tasks waiting for a worker
}

type counters struct {
	received   atomic.Uint64
	served     atomic.Uint64
	failed     atomic.Uint64
	keysServed atomic.Uint64
	keysAbsent atomic.Uint64
}
