package x402

import (
	"context"
	"time"
)

// Wire header names.
const (
	// HeaderPayment carries the base64-encoded payment proof on a retried
	// request.
	HeaderPayment = "X-PAYMENT"

	// HeaderPaymentRequired marks 402 responses issued by this middleware.
	HeaderPaymentRequired = "X-Payment-Required"
)

// Challenge describes a payment the server requires before serving a
// resource. Challenges are immutable once created; the client echoes the
// exact challenge back inside the proof.
type Challenge struct {
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	ChainID     int64  `json:"chain_id"`
	Merchant    string `json:"merchant_address"`
	Description string `json:"description,omitempty"`
	Nonce       string `json:"nonce"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// ExpiredAt reports whether the challenge is past its expiry at the given
// instant.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return now.Unix() > c.ExpiresAt
}

// Signature is a structured-data signature over a challenge: a 65-byte
// r||s||v secp256k1 blob in 0x-prefixed hex, plus the asserted signer address.
type Signature struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Proof is the value of the X-PAYMENT header: the echoed challenge and the
// signature satisfying it.
type Proof struct {
	Challenge Challenge `json:"challenge"`
	Signature Signature `json:"signature"`
}

// Status is the tagged outcome of proof verification.
type Status string

const (
	StatusValid            Status = "valid"
	StatusInvalidSignature Status = "invalid_signature"
	StatusExpired          Status = "expired"
	StatusNonceReused      Status = "nonce_reused"
	StatusMalformed        Status = "malformed"
)

// VerificationResult is the outcome of one verification attempt. A result is
// never partially valid: Signer is set only when Status is StatusValid.
type VerificationResult struct {
	Status Status
	Signer string
	Reason string
}

// Valid reports whether the proof was accepted.
func (r *VerificationResult) Valid() bool {
	return r.Status == StatusValid
}

// ChallengeSigner is the client-side signing capability. Implementations may
// round-trip to a wallet or remote signing service; they must honor ctx
// cancellation.
type ChallengeSigner interface {
	SignChallenge(ctx context.Context, challenge *Challenge) (*Signature, error)
}

// ProofVerifier checks a proof's signature against its echoed challenge and
// returns the recovered signer address. Failures are reported as
// *PaymentError values carrying ErrCodeMalformed or ErrCodeInvalidSignature.
type ProofVerifier interface {
	Verify(ctx context.Context, proof *Proof) (string, error)
}

// NonceLedger records consumed nonces for replay protection. TryConsume must
// be atomic under concurrent access: for a given nonce, at most one call may
// ever return true within the nonce's validity window.
type NonceLedger interface {
	TryConsume(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// PaymentRequiredResponse is the 402 response body. The challenge fields are
// inlined at the top level.
type PaymentRequiredResponse struct {
	Error string `json:"error"`
	Challenge
}

// PaymentContext carries verified-payment details to downstream handlers.
type PaymentContext struct {
	Verified bool
	Signer   string
	Price    string
	Currency string
	Nonce    string
}

type contextKey string

// PaymentContextKey is the key used to store the payment context in a request
// context.
const PaymentContextKey contextKey = "x402-payment"
