package cync

import "sync"

// registry enforces the one-connection-per-device invariant: at most
// one ReliableTransport holds the slot for a given device id at any
// time. A transport holds it from Connect until Shutdown; reconnect
// releases it before calling Connect again, so another transport can
// claim the slot in that window. It is guarded by its own
// mutex rather than relying on any broader lock, per the registration
// pattern used throughout this package.
type registry struct {
	mu      sync.Mutex
	holders map[string]*ReliableTransport
}

var deviceRegistry = &registry{holders: make(map[string]*ReliableTransport)}

// acquire claims deviceID for xport. It fails if another transport
// already holds the slot.
func (r *registry) acquire(deviceID string, xport *ReliableTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.holders[deviceID]; held {
		return &CyncConnectionError{Reason: ReasonParallelConn}
	}
	r.holders[deviceID] = xport
	return nil
}

// release frees deviceID's slot, but only if xport is still the
// holder; this makes release idempotent and safe to call from
// shutdown paths that may race with a fresh connect.
func (r *registry) release(deviceID string, xport *ReliableTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holders[deviceID] == xport {
		delete(r.holders, deviceID)
	}
}
