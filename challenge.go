package x402

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// nonceSize is the number of random bytes per nonce. 16 bytes gives 128 bits
// of entropy, enough to make collisions across all unexpired challenges
// negligible without partitioning the ledger per merchant.
const nonceSize = 16

// ChallengeOption overrides a Config default for a single challenge.
type ChallengeOption func(*Challenge)

// WithCurrency overrides the currency for one challenge.
func WithCurrency(currency string) ChallengeOption {
	return func(c *Challenge) { c.Currency = currency }
}

// WithChainID overrides the chain id for one challenge.
func WithChainID(chainID int64) ChallengeOption {
	return func(c *Challenge) { c.ChainID = chainID }
}

// WithDescription sets the free-text description.
func WithDescription(description string) ChallengeOption {
	return func(c *Challenge) { c.Description = description }
}

// WithMerchant overrides the merchant address for one challenge.
func WithMerchant(merchant string) ChallengeOption {
	return func(c *Challenge) { c.Merchant = merchant }
}

// WithTTL overrides the validity window for one challenge. It can shorten the
// configured window but not extend it: verification bounds validity by the
// configured ChallengeTTL regardless, so NewChallenge clamps longer values.
func WithTTL(ttl time.Duration) ChallengeOption {
	return func(c *Challenge) { c.ExpiresAt = c.IssuedAt + int64(ttl/time.Second) }
}

// NewChallenge builds a challenge from the configured defaults, a required
// price and a fresh random nonce. Issuance is stateless: nothing is recorded
// until verification time, so challenges can be issued without any
// persistence behind the server.
func NewChallenge(cfg Config, price string, opts ...ChallengeOption) (*Challenge, error) {
	if !priceRe.MatchString(price) {
		return nil, NewPaymentError(ErrCodeMalformed, fmt.Sprintf("price %q must be a non-negative decimal string", price), nil)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ttl := cfg.ChallengeTTL
	if ttl == 0 {
		ttl = DefaultChallengeTTL
	}
	currency := cfg.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = DefaultChainID
	}

	now := time.Now().UTC()
	ch := &Challenge{
		Price:     price,
		Currency:  currency,
		ChainID:   chainID,
		Merchant:  cfg.Merchant,
		Nonce:     nonce,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	for _, opt := range opts {
		opt(ch)
	}

	if maxExpiry := ch.IssuedAt + int64(ttl/time.Second); ch.ExpiresAt > maxExpiry {
		ch.ExpiresAt = maxExpiry
	}

	if ch.Merchant == "" {
		return nil, NewPaymentError(ErrCodeMissingMerchant, "no merchant address configured and none supplied", nil)
	}
	return ch, nil
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
