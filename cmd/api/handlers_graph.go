package main

import (
	"context"

	"github.com/PaulBabatuyi/fellowship/internal/graph"
)

// RequestConnection sends a connection request to another user.
func (s *Server) RequestConnection(ctx context.Context, req *ConnectionRequest) (*ConnectionView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	other, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}

	c, err := s.graph.RequestConnection(ctx, actor.ID, other, req.Message)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return connectionView(c), nil
}

// RespondConnection accepts, declines or blocks a pending request addressed
// to the caller.
func (s *Server) RespondConnection(ctx context.Context, req *RespondRequest) (*ConnectionView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("connection_id", req.ConnectionID)
	if err != nil {
		return nil, err
	}

	c, err := s.graph.Respond(ctx, id, actor.ID, graph.Action(req.Action))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return connectionView(c), nil
}

// ConnectionStatus returns the caller's relation to another user.
func (s *Server) ConnectionStatus(ctx context.Context, req *UserRequest) (*StatusResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	other, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}

	rel, err := s.graph.Status(ctx, actor.ID, other)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &StatusResponse{Relation: string(rel)}, nil
}

func (s *Server) MutualConnections(ctx context.Context, req *UserRequest) (*MutualResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	other, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}

	n, err := s.graph.MutualCount(ctx, actor.ID, other)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &MutualResponse{Count: n}, nil
}

// RemoveConnection ends an accepted connection.
func (s *Server) RemoveConnection(ctx context.Context, req *UserRequest) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	other, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.graph.Remove(ctx, actor.ID, other); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// PendingConnections lists requests awaiting the caller's response.
func (s *Server) PendingConnections(ctx context.Context, req *PendingRequest) (*PendingResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	cs, err := s.graph.Pending(ctx, actor.ID, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &PendingResponse{Connections: make([]*ConnectionView, 0, len(cs))}
	for _, c := range cs {
		resp.Connections = append(resp.Connections, connectionView(c))
	}
	return resp, nil
}
