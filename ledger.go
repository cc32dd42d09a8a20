package x402

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how many consumes happen between full sweeps of expired
// entries.
const sweepEvery = 1024

// MemoryLedger is an in-process NonceLedger for single-instance deployments.
// Use redisledger for deployments that share the replay window across
// instances.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ops     int
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory nonce ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// TryConsume atomically marks the nonce consumed. It returns false if the
// nonce was already consumed and is still inside its validity window. Expired
// entries are treated as absent and reclaimed lazily; a full sweep runs every
// sweepEvery consumes to keep the map bounded.
func (l *MemoryLedger) TryConsume(_ context.Context, nonce string, expiresAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.entries[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	l.entries[nonce] = expiresAt

	l.ops++
	if l.ops >= sweepEvery {
		l.ops = 0
		for n, exp := range l.entries {
			if !now.Before(exp) {
				delete(l.entries, n)
			}
		}
	}
	return true, nil
}

// Len reports the number of tracked entries, including not-yet-swept expired
// ones.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
