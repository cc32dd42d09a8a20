package grpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/metadata"

	x402 "github.com/fastx402/x402-go"
)

// Metadata keys.
const (
	// MetadataKeyPayment carries the base64-encoded proof on a retried RPC.
	MetadataKeyPayment = "x-payment"

	// MetadataKeyPaymentRequired carries the base64-encoded challenge in
	// payment-required response trailers.
	MetadataKeyPaymentRequired = "x-payment-required"
)

// EncodePaymentRequired encodes a payment-required body to base64 JSON for
// transport in a status message or metadata value.
func EncodePaymentRequired(body *x402.PaymentRequiredResponse) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal payment requirement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentRequired decodes a base64 JSON payment-required body.
func DecodePaymentRequired(encoded string) (*x402.PaymentRequiredResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payment requirement: %w", err)
	}

	var body x402.PaymentRequiredResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("unmarshal payment requirement: %w", err)
	}
	if body.Nonce == "" {
		return nil, fmt.Errorf("payment requirement is missing a challenge")
	}
	return &body, nil
}

// ProofFromMetadata extracts the raw proof header value from incoming
// metadata.
func ProofFromMetadata(md metadata.MD) (string, bool) {
	values := md.Get(MetadataKeyPayment)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// AppendProof attaches a proof to the outgoing context of a client call.
func AppendProof(ctx context.Context, proof *x402.Proof) (context.Context, error) {
	encoded, err := x402.EncodeProof(proof)
	if err != nil {
		return ctx, err
	}
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyPayment, encoded), nil
}
