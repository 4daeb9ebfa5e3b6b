package main

import (
	"context"

	"github.com/PaulBabatuyi/fellowship/internal/data"
)

// AddPrayer adds a prayer request to the caller's list.
func (s *Server) AddPrayer(ctx context.Context, req *AddPrayerRequest) (*PrayerView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	p, err := s.prayer.Add(ctx, actor.ID, req.Request, data.PrayerCategory(req.Category), req.IsPrivate)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return prayerView(actor.ID, p), nil
}

// Pray records that the caller prayed for a request.
func (s *Server) Pray(ctx context.Context, req *PrayerRef) (*PrayResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := parseID("owner_id", req.OwnerID)
	if err != nil {
		return nil, err
	}
	prayerID, err := parseID("prayer_id", req.PrayerID)
	if err != nil {
		return nil, err
	}

	n, err := s.prayer.Pray(ctx, owner, prayerID, actor.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &PrayResponse{PrayerCount: n}, nil
}

func (s *Server) MarkPrayerAnswered(ctx context.Context, req *PrayerRef) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	prayerID, err := parseID("prayer_id", req.PrayerID)
	if err != nil {
		return nil, err
	}

	if err := s.prayer.MarkAnswered(ctx, actor.ID, prayerID, actor, req.Note); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// DeletePrayer removes a prayer request. Owners delete their own; moderators
// name the owner.
func (s *Server) DeletePrayer(ctx context.Context, req *PrayerRef) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	owner := actor.ID
	if req.OwnerID != "" {
		if owner, err = parseID("owner_id", req.OwnerID); err != nil {
			return nil, err
		}
	}
	prayerID, err := parseID("prayer_id", req.PrayerID)
	if err != nil {
		return nil, err
	}

	if err := s.prayer.Delete(ctx, owner, prayerID, actor); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// ListPrayers returns a user's prayer requests visible to the caller.
func (s *Server) ListPrayers(ctx context.Context, req *UserRequest) (*PrayersResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	owner := actor.ID
	if req.UserID != "" {
		if owner, err = parseID("user_id", req.UserID); err != nil {
			return nil, err
		}
	}

	ps, err := s.prayer.List(ctx, owner, actor.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &PrayersResponse{Prayers: make([]*PrayerView, 0, len(ps))}
	for i := range ps {
		resp.Prayers = append(resp.Prayers, prayerView(owner, &ps[i]))
	}
	return resp, nil
}
