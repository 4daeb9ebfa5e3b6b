package main

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulBabatuyi/fellowship/internal/auth"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/normalize"
	"github.com/PaulBabatuyi/fellowship/internal/visibility"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const minPasswordLen = 8

// Register creates an account and returns a token for it.
func (s *Server) Register(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	email := normalize.Email(req.Email)
	if !strings.Contains(email, "@") {
		return nil, status.Error(codes.InvalidArgument, "a valid email is required")
	}
	if len(req.Password) < minPasswordLen {
		return nil, status.Errorf(codes.InvalidArgument, "password must be at least %d characters", minPasswordLen)
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to hash password: %v", err)
	}

	user, err := s.users.CreateUser(ctx, email, hashed, name)
	if errors.Is(err, data.ErrDuplicate) {
		return nil, status.Error(codes.AlreadyExists, "email already registered")
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.log.Info("user registered", zap.String("user", user.ID.Hex()))

	return s.issueToken(user)
}

// Login authenticates a user and returns a token.
func (s *Server) Login(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, data.ErrNotFound) {
		return nil, status.Error(codes.PermissionDenied, "invalid credentials")
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return nil, status.Error(codes.PermissionDenied, "invalid credentials")
	}
	if !user.IsActive {
		return nil, status.Error(codes.PermissionDenied, "account is deactivated")
	}

	return s.issueToken(user)
}

func (s *Server) issueToken(user *data.User) (*AuthResponse, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to generate token: %v", err)
	}
	return &AuthResponse{
		Token:     token,
		UserID:    user.ID.Hex(),
		ExpiresAt: ts(expiresAt),
	}, nil
}

// GetProfile returns a user's profile if the caller may see it. Signed-in
// callers also get their relation to the user.
func (s *Server) GetProfile(ctx context.Context, req *UserRequest) (*Profile, error) {
	viewer := viewerID(ctx)
	id := viewer
	if req.UserID != "" {
		var err error
		if id, err = parseID("user_id", req.UserID); err != nil {
			return nil, err
		}
	}
	if id.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, data.ErrNotFound) || (err == nil && !user.IsActive) {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	ok, err := visibility.CanView(ctx, viewer, visibility.ProfileSubject(user), s.graph)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if !ok {
		return nil, status.Error(codes.PermissionDenied, "profile is not visible")
	}

	p := profileView(user)
	if !viewer.IsZero() && viewer != user.ID {
		rel, err := s.graph.Status(ctx, viewer, user.ID)
		if err != nil {
			return nil, s.toStatus(ctx, err)
		}
		p.Relation = string(rel)
	}
	return p, nil
}

// UpdatePrivacy replaces the caller's privacy settings.
func (s *Server) UpdatePrivacy(ctx context.Context, req *UpdatePrivacyRequest) (*Profile, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	vis := data.Visibility(req.ProfileVisibility)
	if !vis.Valid() {
		return nil, status.Error(codes.InvalidArgument, "profile_visibility must be public, connections or private")
	}

	privacy := data.Privacy{ProfileVisibility: vis, ShowPrayerRequests: req.ShowPrayerRequests}
	if err := s.users.UpdatePrivacy(ctx, actor.ID, privacy); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	user, err := s.users.GetUserByID(ctx, actor.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return profileView(user), nil
}
