package grpc

import (
	"context"

	"google.golang.org/grpc"

	x402 "github.com/fastx402/x402-go"
)

// StreamServerInterceptor creates a gRPC stream server interceptor backed by
// the given server mediator. Payment is verified before the stream begins.
func StreamServerInterceptor(srv *x402.Server) grpc.StreamServerInterceptor {
	return func(service interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		paymentCtx, err := checkPayment(ctx, srv, info.FullMethod)
		if err != nil {
			return err
		}
		if paymentCtx == nil {
			return handler(service, ss)
		}

		wrapped := &paymentServerStream{
			ServerStream: ss,
			ctx:          context.WithValue(ctx, x402.PaymentContextKey, paymentCtx),
		}
		return handler(service, wrapped)
	}
}

type paymentServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *paymentServerStream) Context() context.Context {
	return s.ctx
}
