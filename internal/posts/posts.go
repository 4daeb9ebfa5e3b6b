// Package posts implements post content operations: creation, comments and
// replies as append-only logs, likes as a per-user toggle, and moderation.
// Every read goes through the visibility resolver.
package posts

import (
	"context"
	"errors"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/normalize"
	"github.com/PaulBabatuyi/fellowship/internal/visibility"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

const (
	MaxContentLen = 5000
	MaxMedia      = 10
)

// Repository is the post persistence the Service needs.
type Repository interface {
	InsertPost(ctx context.Context, p *data.Post) error
	GetPost(ctx context.Context, id bson.ObjectID) (*data.Post, error)
	AppendComment(ctx context.Context, postID bson.ObjectID, c data.Comment) error
	AppendReply(ctx context.Context, postID, commentID bson.ObjectID, r data.Reply) error
	TogglePostLike(ctx context.Context, postID, user bson.ObjectID, at time.Time) (bool, error)
	SetPostModeration(ctx context.Context, postID bson.ObjectID, m data.Moderation) error
	SetPostActive(ctx context.Context, postID bson.ObjectID, active bool) error
	SetPostPinned(ctx context.Context, postID bson.ObjectID, pinned bool) error
}

// Service runs post operations.
type Service struct {
	repo Repository
	rel  visibility.Relationships
	log  *zap.Logger
	now  func() time.Time
}

// New returns a Service. rel answers connections-only visibility checks.
func New(repo Repository, rel visibility.Relationships, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo: repo,
		rel:  rel,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create publishes a post. An empty visibility means public.
func (s *Service) Create(ctx context.Context, author bson.ObjectID, content string, media []data.Media, vis data.Visibility) (*data.Post, error) {
	content = normalize.Content(content)
	if content == "" && len(media) == 0 {
		return nil, apperr.InvalidInput("post content is required")
	}
	if len(content) > MaxContentLen {
		return nil, apperr.InvalidInput("post content is too long")
	}
	if len(media) > MaxMedia {
		return nil, apperr.InvalidInput("too many media attachments")
	}
	if vis == "" {
		vis = data.VisibilityPublic
	}
	if !vis.Valid() {
		return nil, apperr.InvalidInput("unknown visibility")
	}

	now := s.now()
	p := &data.Post{
		Author:     author,
		Content:    content,
		Media:      media,
		Visibility: vis,
		Comments:   []data.Comment{},
		Likes:      []data.Like{},
		Moderation: data.Moderation{Status: data.ModerationApproved},
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertPost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, id bson.ObjectID) (*data.Post, error) {
	p, err := s.repo.GetPost(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("post not found")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a post for viewer. Soft-deleted and removed posts are
// Unavailable; posts viewer may not see are Forbidden.
func (s *Service) Get(ctx context.Context, viewer, id bson.ObjectID) (*data.Post, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive || p.Moderation.Status == data.ModerationRemoved {
		return nil, apperr.Unavailable("post is no longer available")
	}

	ok, err := visibility.CanView(ctx, viewer, visibility.PostSubject(p), s.rel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("post is not visible")
	}
	return p, nil
}

// Shared resolves a share link for an anonymous caller. Anything that cannot
// be shown, including a missing post, is Unavailable so a link does not
// reveal whether a post exists.
func (s *Service) Shared(ctx context.Context, id bson.ObjectID) (*data.Post, error) {
	p, err := s.Get(ctx, bson.NilObjectID, id)
	if apperr.IsKind(err, apperr.KindNotFound) || apperr.IsKind(err, apperr.KindForbidden) {
		return nil, apperr.Unavailable("shared post is not available")
	}
	return p, err
}

// Comment appends a comment. Anyone who can see the post can comment.
func (s *Service) Comment(ctx context.Context, viewer, postID bson.ObjectID, content string) (*data.Comment, error) {
	content, err := validContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, viewer, postID); err != nil {
		return nil, err
	}

	c := data.Comment{
		ID:        bson.NewObjectID(),
		Author:    viewer,
		Content:   content,
		Replies:   []data.Reply{},
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendComment(ctx, postID, c); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, apperr.NotFound("post not found")
		}
		return nil, err
	}
	return &c, nil
}

// Reply appends a reply to a comment. Replies inherit the post's visibility.
func (s *Service) Reply(ctx context.Context, viewer, postID, commentID bson.ObjectID, content string) (*data.Reply, error) {
	content, err := validContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, viewer, postID); err != nil {
		return nil, err
	}

	r := data.Reply{
		ID:        bson.NewObjectID(),
		Author:    viewer,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendReply(ctx, postID, commentID, r); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, apperr.NotFound("comment not found")
		}
		return nil, err
	}
	return &r, nil
}

// ToggleLike adds viewer's like if absent, otherwise removes it. It returns
// the resulting state and like count.
func (s *Service) ToggleLike(ctx context.Context, viewer, postID bson.ObjectID) (bool, int, error) {
	if _, err := s.Get(ctx, viewer, postID); err != nil {
		return false, 0, err
	}

	liked, err := s.repo.TogglePostLike(ctx, postID, viewer, s.now())
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return false, 0, apperr.NotFound("post not found")
		}
		return false, 0, err
	}

	p, err := s.load(ctx, postID)
	if err != nil {
		return false, 0, err
	}
	return liked, len(p.Likes), nil
}

// Delete soft-deletes a post. Author or moderator.
func (s *Service) Delete(ctx context.Context, actor data.Actor, postID bson.ObjectID) error {
	p, err := s.load(ctx, postID)
	if err != nil {
		return err
	}
	if p.Author != actor.ID && !actor.IsModerator() {
		return apperr.Forbidden("not allowed to delete this post")
	}
	return s.notFound(s.repo.SetPostActive(ctx, postID, false))
}

// Moderate sets a post's moderation status. Moderators only.
func (s *Service) Moderate(ctx context.Context, actor data.Actor, postID bson.ObjectID, status data.ModerationStatus, reason string) error {
	if !actor.IsModerator() {
		return apperr.Forbidden("moderator role required")
	}
	if !status.Valid() {
		return apperr.InvalidInput("unknown moderation status")
	}

	at := s.now()
	err := s.repo.SetPostModeration(ctx, postID, data.Moderation{
		Status:      status,
		Reason:      normalize.Text(reason),
		ModeratedBy: actor.ID,
		ModeratedAt: &at,
	})
	if err == nil {
		s.log.Info("post moderated",
			zap.String("post", postID.Hex()),
			zap.String("status", string(status)),
			zap.String("moderator", actor.ID.Hex()))
	}
	return s.notFound(err)
}

// SetPinned pins or unpins a post in every feed. Moderators only.
func (s *Service) SetPinned(ctx context.Context, actor data.Actor, postID bson.ObjectID, pinned bool) error {
	if !actor.IsModerator() {
		return apperr.Forbidden("moderator role required")
	}
	return s.notFound(s.repo.SetPostPinned(ctx, postID, pinned))
}

func (s *Service) notFound(err error) error {
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("post not found")
	}
	return err
}

func validContent(content string) (string, error) {
	content = normalize.Content(content)
	if content == "" {
		return "", apperr.InvalidInput("content is required")
	}
	if len(content) > MaxContentLen {
		return "", apperr.InvalidInput("content is too long")
	}
	return content, nil
}
