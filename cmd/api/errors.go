package main

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/middleware"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus converts a service error into a gRPC status. Errors without an
// application kind are logged and hidden behind a generic message.
func (s *Server) toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		s.log.Error("unhandled error",
			zap.String("request_id", middleware.RequestID(ctx)),
			zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(codeFor(appErr.Kind), appErr.Message)
}

func codeFor(kind apperr.Kind) codes.Code {
	switch kind {
	case apperr.KindNotFound:
		return codes.NotFound
	case apperr.KindForbidden:
		return codes.PermissionDenied
	case apperr.KindConflict:
		return codes.AlreadyExists
	case apperr.KindInvalidInput:
		return codes.InvalidArgument
	case apperr.KindUnavailable:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// parseID parses a hex object id from a request field.
func parseID(field, hex string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.NilObjectID, status.Errorf(codes.InvalidArgument, "invalid %s", field)
	}
	return id, nil
}
