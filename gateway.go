package x402

import (
	"context"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
)

// Gateway metadata keys for verified-payment propagation.
const (
	gatewayKeyVerified = "x-payment-verified"
	gatewayKeySigner   = "x-payment-signer"
	gatewayKeyPrice    = "x-payment-price"
	gatewayKeyCurrency = "x-payment-currency"
	gatewayKeyNonce    = "x-payment-nonce"
)

// WithPaymentMetadata returns a grpc-gateway ServeMuxOption that propagates
// verified payment information from the HTTP middleware into gRPC metadata,
// making it accessible in gRPC handlers behind the gateway.
func WithPaymentMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, r *http.Request) metadata.MD {
		md := metadata.MD{}

		payment, ok := PaymentFromContext(ctx)
		if !ok || !payment.Verified {
			return md
		}

		md.Set(gatewayKeyVerified, "true")
		md.Set(gatewayKeySigner, payment.Signer)
		md.Set(gatewayKeyPrice, payment.Price)
		md.Set(gatewayKeyCurrency, payment.Currency)
		md.Set(gatewayKeyNonce, payment.Nonce)
		return md
	})
}

// PaymentFromGatewayContext extracts payment information forwarded by
// WithPaymentMetadata. Use this in gRPC handlers served behind grpc-gateway.
func PaymentFromGatewayContext(ctx context.Context) (*PaymentContext, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}

	verified := md.Get(gatewayKeyVerified)
	if len(verified) == 0 || verified[0] != "true" {
		return nil, false
	}

	payment := &PaymentContext{Verified: true}
	if v := md.Get(gatewayKeySigner); len(v) > 0 {
		payment.Signer = v[0]
	}
	if v := md.Get(gatewayKeyPrice); len(v) > 0 {
		payment.Price = v[0]
	}
	if v := md.Get(gatewayKeyCurrency); len(v) > 0 {
		payment.Currency = v[0]
	}
	if v := md.Get(gatewayKeyNonce); len(v) > 0 {
		payment.Nonce = v[0]
	}
	return payment, true
}
