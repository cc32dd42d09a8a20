// Package redisledger provides a Redis-backed nonce ledger so that multiple
// server instances can share one replay window.
package redisledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "x402:nonce:"

// Ledger implements x402.NonceLedger on top of Redis. SET NX with a TTL makes
// the check-and-set a single atomic command, and expiry doubles as eviction.
type Ledger struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithKeyPrefix overrides the key prefix, e.g. to namespace several merchant
// configurations in one Redis.
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) { l.prefix = prefix }
}

// New creates a ledger backed by the given Redis client.
func New(client redis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryConsume marks the nonce consumed if it was absent. The key lives until
// the challenge's expiry, after which Redis reclaims it.
func (l *Ledger) TryConsume(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := l.client.SetNX(ctx, l.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
