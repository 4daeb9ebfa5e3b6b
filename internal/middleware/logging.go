// Package middleware holds gRPC server interceptors shared by every service.
package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader is the metadata key carrying the request id. A client may
// set it; otherwise one is generated.
const RequestIDHeader = "x-request-id"

type requestIDKey struct{}

// RequestID returns the id attached to ctx by the logging interceptors.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(ctx context.Context) (context.Context, string) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 {
			id = v[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
	return context.WithValue(ctx, requestIDKey{}, id), id
}

func logCall(log *zap.Logger, method, id string, start time.Time, err error) {
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("request_id", id),
		zap.String("code", code.String()),
		zap.Duration("duration", time.Since(start)),
	}
	switch code {
	case codes.OK:
		log.Debug("rpc completed", fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		log.Error("rpc failed", append(fields, zap.Error(err))...)
	default:
		log.Info("rpc rejected", append(fields, zap.Error(err))...)
	}
}

// LoggingUnaryInterceptor tags each call with a request id and logs its
// outcome. Server faults log at error level, client faults at info.
func LoggingUnaryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		ctx, id := withRequestID(ctx)
		resp, err := handler(ctx, req)
		logCall(log, info.FullMethod, id, start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor is the stream equivalent of LoggingUnaryInterceptor.
func LoggingStreamInterceptor(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ctx, id := withRequestID(ss.Context())
		log.Debug("stream opened", zap.String("method", info.FullMethod), zap.String("request_id", id))
		err := handler(srv, &ContextStream{ServerStream: ss, Ctx: ctx})
		logCall(log, info.FullMethod, id, start, err)
		return err
	}
}

// ContextStream overrides the context of a wrapped grpc.ServerStream.
type ContextStream struct {
	grpc.ServerStream
	Ctx context.Context
}

func (s *ContextStream) Context() context.Context { return s.Ctx }

// TimeoutUnaryInterceptor bounds every unary call by d unless the client set
// an earlier deadline.
func TimeoutUnaryInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if d <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}
