package main

import (
	"context"

	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/feed"
)

// CreatePost publishes a post as the caller.
func (s *Server) CreatePost(ctx context.Context, req *CreatePostRequest) (*PostView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	media := make([]data.Media, 0, len(req.Media))
	for _, m := range req.Media {
		if m != nil {
			media = append(media, data.Media{URL: m.URL, Type: m.Type})
		}
	}

	p, err := s.posts.Create(ctx, actor.ID, req.Content, media, data.Visibility(req.Visibility))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return postView(p, actor.ID), nil
}

func (s *Server) GetPost(ctx context.Context, req *PostRequest) (*PostView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}

	p, err := s.posts.Get(ctx, actor.ID, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return postView(p, actor.ID), nil
}

// GetSharedPost resolves a share link anonymously.
func (s *Server) GetSharedPost(ctx context.Context, req *PostRequest) (*PostView, error) {
	id, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}

	p, err := s.posts.Shared(ctx, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return postView(p, viewerID(ctx)), nil
}

func (s *Server) CommentOnPost(ctx context.Context, req *CommentRequest) (*CommentView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	postID, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}

	c, err := s.posts.Comment(ctx, actor.ID, postID, req.Content)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return commentView(c), nil
}

func (s *Server) ReplyToComment(ctx context.Context, req *CommentRequest) (*ReplyView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	postID, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}
	commentID, err := parseID("comment_id", req.CommentID)
	if err != nil {
		return nil, err
	}

	r, err := s.posts.Reply(ctx, actor.ID, postID, commentID, req.Content)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return replyView(r), nil
}

func (s *Server) TogglePostLike(ctx context.Context, req *PostRequest) (*LikeResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}

	liked, n, err := s.posts.ToggleLike(ctx, actor.ID, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &LikeResponse{Liked: liked, LikeCount: n}, nil
}

func (s *Server) DeletePost(ctx context.Context, req *PostRequest) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}

	if err := s.posts.Delete(ctx, actor, id); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) ModeratePost(ctx context.Context, req *ModerateRequest) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("id", req.ID)
	if err != nil {
		return nil, err
	}

	if err := s.posts.Moderate(ctx, actor, id, data.ModerationStatus(req.Status), req.Reason); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) PinPost(ctx context.Context, req *PinRequest) (*Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("post_id", req.PostID)
	if err != nil {
		return nil, err
	}

	if err := s.posts.SetPinned(ctx, actor, id, req.Pinned); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// Feed returns a feed page. Anonymous callers see public posts only.
func (s *Server) Feed(ctx context.Context, req *FeedRequest) (*FeedResponse, error) {
	viewer := viewerID(ctx)

	page, err := s.feed.Assemble(ctx, viewer, feed.Request{
		Page:     req.Page,
		PageSize: req.PageSize,
		Scope:    data.FeedScope(req.Scope),
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &FeedResponse{
		Posts:    make([]*PostView, 0, len(page.Posts)),
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	}
	for _, p := range page.Posts {
		resp.Posts = append(resp.Posts, postView(p, viewer))
	}
	return resp, nil
}
