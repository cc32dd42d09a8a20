package x402

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Server mediates the challenge-response exchange for one merchant
// configuration: it issues challenges for unpaid requests and runs the
// verification pipeline for requests carrying a proof. A Server is safe for
// concurrent use; the nonce ledger is its only shared mutable state.
type Server struct {
	cfg      Config
	verifier ProofVerifier
	ledger   NonceLedger
	log      zerolog.Logger
	now      func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. The default discards everything.
func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithClock overrides the server's time source.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer validates cfg and builds a server mediator. If ledger is nil an
// in-memory ledger is used.
func NewServer(cfg Config, verifier ProofVerifier, ledger NonceLedger, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, NewPaymentError(ErrCodeInvalidConfig, "proof verifier is required", nil)
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}

	s := &Server{
		cfg:      cfg,
		verifier: verifier,
		ledger:   ledger,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the server's immutable configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// CreateChallenge issues a challenge using the server's configuration.
func (s *Server) CreateChallenge(price string, opts ...ChallengeOption) (*Challenge, error) {
	return NewChallenge(s.cfg, price, opts...)
}

func (s *Server) challengeForRule(rule *PricingRule) (*Challenge, error) {
	var opts []ChallengeOption
	if rule.Currency != "" {
		opts = append(opts, WithCurrency(rule.Currency))
	}
	if rule.ChainID != 0 {
		opts = append(opts, WithChainID(rule.ChainID))
	}
	if rule.Description != "" {
		opts = append(opts, WithDescription(rule.Description))
	}
	return s.CreateChallenge(rule.Price, opts...)
}

// VerifyProof runs the verification pipeline over a decoded proof: required
// fields, expiry, configured merchant, signature recovery, then a single
// atomic nonce consume. Exactly one consume attempt is made per call; the
// returned result is deterministic for a given ledger state. The error return
// is reserved for infrastructure failures (ledger I/O), never for
// verification outcomes.
func (s *Server) VerifyProof(ctx context.Context, proof *Proof) (*VerificationResult, error) {
	ch := &proof.Challenge
	if ch.Price == "" || ch.Currency == "" || ch.Merchant == "" || ch.Nonce == "" || ch.IssuedAt == 0 || ch.ExpiresAt == 0 {
		return &VerificationResult{Status: StatusMalformed, Reason: "challenge missing required fields"}, nil
	}

	// expires_at is echoed by the client but not covered by the signature. The
	// authoritative validity window is the signed issued_at plus the
	// configured TTL; the echoed value can only tighten it, never extend it.
	now := s.now()
	expiry := time.Unix(ch.IssuedAt, 0).Add(s.cfg.ChallengeTTL)
	if ch.ExpiredAt(now) || now.After(expiry) {
		return &VerificationResult{Status: StatusExpired, Reason: "challenge expired"}, nil
	}

	if !strings.EqualFold(ch.Merchant, s.cfg.Merchant) {
		return &VerificationResult{Status: StatusMalformed, Reason: "challenge merchant does not match this server"}, nil
	}

	signer, err := s.verifier.Verify(ctx, proof)
	if err != nil {
		if PaymentErrorCode(err) == ErrCodeMalformed {
			return &VerificationResult{Status: StatusMalformed, Reason: err.Error()}, nil
		}
		return &VerificationResult{Status: StatusInvalidSignature, Reason: err.Error()}, nil
	}

	// The ledger hold must outlive every possible re-presentation of this
	// nonce, so it uses the server-derived expiry, not the echoed one.
	ok, err := s.ledger.TryConsume(ctx, ch.Nonce, expiry)
	if err != nil {
		return nil, fmt.Errorf("nonce ledger: %w", err)
	}
	if !ok {
		return &VerificationResult{Status: StatusNonceReused, Reason: "nonce already consumed"}, nil
	}

	return &VerificationResult{Status: StatusValid, Signer: signer}, nil
}

// VerifyHeader is the verification capability exposed to integration layers:
// it decodes an X-PAYMENT header value and verifies it.
func (s *Server) VerifyHeader(ctx context.Context, header string) (*VerificationResult, error) {
	proof, err := DecodeProof(header)
	if err != nil {
		return &VerificationResult{Status: StatusMalformed, Reason: err.Error()}, nil
	}
	return s.VerifyProof(ctx, proof)
}

// Rejection is a ready-made denial response produced by the interceptor. It
// always carries a fresh challenge: rejected clients restart from a new
// challenge, expired or consumed ones are never revived.
type Rejection struct {
	StatusCode int
	Body       PaymentRequiredResponse
}

// Check is the framework-independent request interceptor: given an inbound
// HTTP request it returns either a payment context (proceed; nil for routes
// that require no payment), a rejection to write back, or an infrastructure
// error. Exactly one verification attempt is made per request.
func (s *Server) Check(r *http.Request) (*PaymentContext, *Rejection, error) {
	rule, required := s.cfg.MatchEndpoint(r.URL.Path)
	if !required {
		return nil, nil, nil
	}
	return s.CheckHeader(r.Context(), rule, r.Header.Get(HeaderPayment))
}

// CheckHeader applies the interceptor decision to a raw header value and a
// matched pricing rule. It backs Check as well as the gin and gRPC adapters.
func (s *Server) CheckHeader(ctx context.Context, rule *PricingRule, header string) (*PaymentContext, *Rejection, error) {
	if header == "" {
		rej, err := s.paymentRequired(rule, "payment required")
		return nil, rej, err
	}

	proof, err := DecodeProof(header)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed payment proof")
		rej, rerr := s.paymentRequired(rule, fmt.Sprintf("payment rejected: %s", StatusMalformed))
		return nil, rej, rerr
	}

	// The echoed challenge is client-controlled; a valid signature over
	// self-chosen terms proves nothing. It must carry exactly the terms this
	// server would have issued for the matched rule.
	if reason, ok := s.challengeMatchesRule(&proof.Challenge, rule); !ok {
		s.log.Warn().
			Str("reason", reason).
			Str("nonce", proof.Challenge.Nonce).
			Msg("payment proof does not match pricing rule")
		rej, rerr := s.paymentRequired(rule, fmt.Sprintf("payment rejected: %s", StatusMalformed))
		return nil, rej, rerr
	}

	result, err := s.VerifyProof(ctx, proof)
	if err != nil {
		return nil, nil, err
	}
	if !result.Valid() {
		s.log.Warn().
			Str("status", string(result.Status)).
			Str("reason", result.Reason).
			Str("nonce", proof.Challenge.Nonce).
			Msg("payment proof rejected")
		rej, rerr := s.paymentRequired(rule, fmt.Sprintf("payment rejected: %s", result.Status))
		return nil, rej, rerr
	}

	s.log.Debug().
		Str("signer", result.Signer).
		Str("nonce", proof.Challenge.Nonce).
		Str("price", proof.Challenge.Price).
		Msg("payment verified")

	return &PaymentContext{
		Verified: true,
		Signer:   result.Signer,
		Price:    proof.Challenge.Price,
		Currency: proof.Challenge.Currency,
		Nonce:    proof.Challenge.Nonce,
	}, nil, nil
}

// challengeMatchesRule checks the economic terms of an echoed challenge
// against the matched pricing rule with the Config defaults applied, the same
// resolution challengeForRule uses at issuance. The merchant is checked in
// VerifyProof, the nonce and expiry by the rest of the pipeline; the
// description is advisory.
func (s *Server) challengeMatchesRule(ch *Challenge, rule *PricingRule) (string, bool) {
	if ch.Price != rule.Price {
		return fmt.Sprintf("price %q, rule requires %q", ch.Price, rule.Price), false
	}

	currency := rule.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	if ch.Currency != currency {
		return fmt.Sprintf("currency %q, rule requires %q", ch.Currency, currency), false
	}

	chainID := rule.ChainID
	if chainID == 0 {
		chainID = s.cfg.ChainID
	}
	if ch.ChainID != chainID {
		return fmt.Sprintf("chain id %d, rule requires %d", ch.ChainID, chainID), false
	}
	return "", true
}

func (s *Server) paymentRequired(rule *PricingRule, reason string) (*Rejection, error) {
	ch, err := s.challengeForRule(rule)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	s.log.Debug().Str("nonce", ch.Nonce).Str("price", ch.Price).Msg("issued payment challenge")
	return &Rejection{
		StatusCode: http.StatusPaymentRequired,
		Body:       PaymentRequiredResponse{Error: reason, Challenge: *ch},
	}, nil
}
