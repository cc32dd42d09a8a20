package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxChallengeBody caps how much of a 402 response body the client will read.
const maxChallengeBody = 1 << 16

// Middleware returns net/http middleware that enforces the server's pricing
// rules. Verified payments are exposed to handlers via PaymentFromContext.
func (s *Server) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payment, rejection, err := s.Check(r)
			if err != nil {
				s.log.Error().Err(err).Msg("payment verification unavailable")
				sendError(w, http.StatusInternalServerError, "payment verification unavailable")
				return
			}
			if rejection != nil {
				WriteRejection(w, rejection)
				return
			}
			if payment != nil {
				ctx := context.WithValue(r.Context(), PaymentContextKey, payment)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteRejection writes a payment-required rejection to w.
func WriteRejection(w http.ResponseWriter, rejection *Rejection) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderPaymentRequired, "true")
	w.WriteHeader(rejection.StatusCode)
	json.NewEncoder(w).Encode(rejection.Body)
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// EncodeProof encodes a proof to base64 JSON for the X-PAYMENT header.
func EncodeProof(proof *Proof) (string, error) {
	raw, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("marshal payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeProof decodes an X-PAYMENT header value.
func DecodeProof(header string) (*Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, NewPaymentError(ErrCodeMalformed, "proof header is not valid base64", err)
	}

	var proof Proof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return nil, NewPaymentError(ErrCodeMalformed, "proof header is not valid JSON", err)
	}

	if proof.Signature.Signature == "" {
		return nil, NewPaymentError(ErrCodeMalformed, "proof is missing the signature", nil)
	}
	if proof.Signature.Signer == "" {
		return nil, NewPaymentError(ErrCodeMalformed, "proof is missing the signer address", nil)
	}
	return &proof, nil
}

// ReadChallenge extracts the challenge from a 402 response. It consumes and
// closes the response body.
func ReadChallenge(resp *http.Response) (*Challenge, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("expected status 402, got %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return nil, fmt.Errorf("read 402 response body: %w", err)
	}

	var body PaymentRequiredResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parse payment challenge: %w", err)
	}
	if body.Nonce == "" || body.Price == "" {
		return nil, fmt.Errorf("402 response body does not contain a challenge")
	}

	challenge := body.Challenge
	return &challenge, nil
}

// PaymentFromContext extracts verified payment information from a request
// context.
func PaymentFromContext(ctx context.Context) (*PaymentContext, bool) {
	payment, ok := ctx.Value(PaymentContextKey).(*PaymentContext)
	return payment, ok
}

// RequirePayment extracts payment from context and returns an error if the
// request was not paid.
func RequirePayment(ctx context.Context) (*PaymentContext, error) {
	payment, ok := PaymentFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("payment context not found")
	}
	if !payment.Verified {
		return nil, fmt.Errorf("payment not verified")
	}
	return payment, nil
}
