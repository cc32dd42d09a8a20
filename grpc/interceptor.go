// Package grpc enforces x402 payment challenges on native gRPC servers. The
// challenge travels base64-encoded in the status message of a
// ResourceExhausted error; the proof arrives in x-payment metadata.
package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	x402 "github.com/fastx402/x402-go"
)

// UnaryServerInterceptor creates a gRPC unary server interceptor backed by
// the given server mediator. Methods are matched against
// Config.MethodPricing.
func UnaryServerInterceptor(srv *x402.Server) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		paymentCtx, err := checkPayment(ctx, srv, info.FullMethod)
		if err != nil {
			return nil, err
		}
		if paymentCtx != nil {
			ctx = context.WithValue(ctx, x402.PaymentContextKey, paymentCtx)
		}
		return handler(ctx, req)
	}
}

// checkPayment applies the interceptor decision for one RPC. A nil, nil
// return means the method requires no payment.
func checkPayment(ctx context.Context, srv *x402.Server, fullMethod string) (*x402.PaymentContext, error) {
	cfg := srv.Config()
	rule, required := cfg.MatchMethod(fullMethod)
	if !required {
		return nil, nil
	}

	header := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if value, found := ProofFromMetadata(md); found {
			header = value
		}
	}

	payment, rejection, err := srv.CheckHeader(ctx, rule, header)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("payment verification error: %v", err))
	}
	if rejection != nil {
		return nil, paymentRequiredStatus(rejection)
	}
	return payment, nil
}

func paymentRequiredStatus(rejection *x402.Rejection) error {
	encoded, err := EncodePaymentRequired(&rejection.Body)
	if err != nil {
		return status.Error(codes.Internal, fmt.Sprintf("failed to encode payment challenge: %v", err))
	}
	return status.Error(codes.ResourceExhausted, encoded)
}

// PaymentFromContext extracts payment information from the gRPC context.
func PaymentFromContext(ctx context.Context) (*x402.PaymentContext, bool) {
	payment, ok := ctx.Value(x402.PaymentContextKey).(*x402.PaymentContext)
	return payment, ok
}

// RequirePayment extracts payment from context and returns an error if the
// RPC was not paid.
func RequirePayment(ctx context.Context) (*x402.PaymentContext, error) {
	payment, ok := PaymentFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.ResourceExhausted, "payment context not found")
	}
	if !payment.Verified {
		return nil, status.Error(codes.ResourceExhausted, "payment not verified")
	}
	return payment, nil
}

// ChallengeFromError extracts the payment challenge from a ResourceExhausted
// error returned by the interceptors. Clients use it to drive the sign-and-
// retry flow.
func ChallengeFromError(err error) (*x402.PaymentRequiredResponse, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.ResourceExhausted {
		return nil, false
	}
	body, derr := DecodePaymentRequired(st.Message())
	if derr != nil {
		return nil, false
	}
	return body, true
}
