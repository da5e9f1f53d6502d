package bridge

import (
	"context"
	"sync"
)

// flightTable enforces the one-in-flight-exchange-per-conversation rule.
// Beginning a new flight cancels the previous one for the same key; the
// canceled call's late resolution is discarded by the caller.
type flightTable struct {
	mu     sync.Mutex
	active map[string]*flight
}

type flight struct {
	cancel context.CancelFunc
}

func newFlightTable() *flightTable {
	return &flightTable{active: make(map[string]*flight)}
}

// begin registers a new flight for key, canceling any previous one. The
// returned done func must be called when the flight resolves.
func (t *flightTable) begin(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	f := &flight{cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.active[key]; ok {
		prev.cancel()
	}
	t.active[key] = f
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if t.active[key] == f {
			delete(t.active, key)
		}
		t.mu.Unlock()
		cancel()
	}
}

// cancel aborts the current flight for key, if any (stop button).
func (t *flightTable) cancelKey(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.active[key]
	if !ok {
		return false
	}
	f.cancel()
	return true
}
