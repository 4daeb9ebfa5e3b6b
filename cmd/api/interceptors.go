package main

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulBabatuyi/fellowship/internal/auth"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/middleware"

	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// context key type for storing the resolved actor in context
type actorContextKey struct{}

// actorFromContext returns the authenticated actor, if any.
func actorFromContext(ctx context.Context) (data.Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(data.Actor)
	return a, ok
}

// requireActor returns the authenticated actor or Unauthenticated.
func requireActor(ctx context.Context) (data.Actor, error) {
	a, ok := actorFromContext(ctx)
	if !ok {
		return data.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return a, nil
}

// viewerID returns the authenticated user's id, or the zero id for an
// anonymous caller of a public method.
func viewerID(ctx context.Context) bson.ObjectID {
	a, _ := actorFromContext(ctx)
	return a.ID
}

// publicMethods accept calls without a token. A token that is present must
// still be valid.
var publicMethods = map[string]bool{
	fullMethod("Register"):      true,
	fullMethod("Login"):         true,
	fullMethod("GetSharedPost"): true,
	fullMethod("Feed"):          true,
	fullMethod("GetProfile"):    true,
}

func isPublic(method string) bool {
	return publicMethods[method] || strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

type actorResolver interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
}

// authenticate verifies the bearer token and loads the current user. Role
// and active flag come from the store on every call so deactivation and role
// changes apply to live tokens.
func authenticate(ctx context.Context, j *auth.JWTManager, users actorResolver, method string) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
	}
	if header == "" {
		if isPublic(method) {
			return ctx, nil
		}
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	id, err := claims.ObjectID()
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token subject")
	}

	user, err := users.GetUserByID(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, status.Error(codes.Unauthenticated, "unknown user")
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, "failed to load user")
	}
	if !user.IsActive {
		return nil, status.Error(codes.PermissionDenied, "account is deactivated")
	}

	return context.WithValue(ctx, actorContextKey{}, user.Actor()), nil
}

// authUnaryInterceptor attaches the authenticated actor to the context. Only
// public methods may be called anonymously.
func authUnaryInterceptor(j *auth.JWTManager, users actorResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := authenticate(ctx, j, users, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(j *auth.JWTManager, users actorResolver) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), j, users, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &middleware.ContextStream{ServerStream: ss, Ctx: ctx})
	}
}
