package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PostsStore persists posts with their embedded comment, reply and like
// collections.
type PostsStore struct {
	coll *mongo.Collection
}

// NewPostsStore returns a PostsStore using the given collection.
func NewPostsStore(coll *mongo.Collection) *PostsStore {
	return &PostsStore{coll: coll}
}

// InsertPost stores a new post.
func (s *PostsStore) InsertPost(ctx context.Context, p *Post) error {
	if p.ID.IsZero() {
		p.ID = bson.NewObjectID()
	}
	// $push needs arrays, never null
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	if p.Likes == nil {
		p.Likes = []Like{}
	}

	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// GetPost returns a post by id regardless of its state.
func (s *PostsStore) GetPost(ctx context.Context, id bson.ObjectID) (*Post, error) {
	var p Post
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find post: %w", err)
	}
	return &p, nil
}

// FindFeed runs a resolved feed query.
func (s *PostsStore) FindFeed(ctx context.Context, q FeedQuery) ([]*Post, error) {
	opts := options.Find().
		SetSort(FeedSort()).
		SetSkip(q.Skip).
		SetLimit(q.Limit)

	cursor, err := s.coll.Find(ctx, q.Filter(), opts)
	if err != nil {
		return nil, fmt.Errorf("find feed: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []*Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return posts, nil
}

// AppendComment appends to the post's comment log.
func (s *PostsStore) AppendComment(ctx context.Context, postID bson.ObjectID, c Comment) error {
	if c.Replies == nil {
		c.Replies = []Reply{}
	}
	return s.updateOne(ctx, bson.M{"_id": postID}, bson.M{
		"$push": bson.M{"comments": c},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
}

// AppendReply appends to one comment's reply log.
func (s *PostsStore) AppendReply(ctx context.Context, postID, commentID bson.ObjectID, r Reply) error {
	return s.updateOne(ctx,
		bson.M{"_id": postID, "comments._id": commentID},
		bson.M{
			"$push": bson.M{"comments.$.replies": r},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
}

// TogglePostLike removes user from the like set if present, otherwise adds
// them. Each branch is a single conditional update, so a concurrent toggle by
// the same user can never leave two entries.
func (s *PostsStore) TogglePostLike(ctx context.Context, postID, user bson.ObjectID, at time.Time) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": postID, "likes.user": user},
			bson.M{"$pull": bson.M{"likes": bson.M{"user": user}}},
		)
		if err != nil {
			return false, fmt.Errorf("unlike post: %w", err)
		}
		if res.ModifiedCount == 1 {
			return false, nil
		}

		res, err = s.coll.UpdateOne(ctx,
			bson.M{"_id": postID, "likes.user": bson.M{"$ne": user}},
			bson.M{"$push": bson.M{"likes": Like{User: user, CreatedAt: at}}},
		)
		if err != nil {
			return false, fmt.Errorf("like post: %w", err)
		}
		if res.ModifiedCount == 1 {
			return true, nil
		}
		// lost a race with another toggle; look again
	}

	if _, err := s.GetPost(ctx, postID); err != nil {
		return false, err
	}
	return false, fmt.Errorf("toggle like: concurrent modification")
}

// SetPostModeration replaces the moderation sub-record.
func (s *PostsStore) SetPostModeration(ctx context.Context, postID bson.ObjectID, m Moderation) error {
	return s.updateOne(ctx, bson.M{"_id": postID}, bson.M{
		"$set": bson.M{"moderation": m, "updated_at": time.Now().UTC()},
	})
}

// SetPostActive soft-deletes or restores a post.
func (s *PostsStore) SetPostActive(ctx context.Context, postID bson.ObjectID, active bool) error {
	return s.updateOne(ctx, bson.M{"_id": postID}, bson.M{
		"$set": bson.M{"is_active": active, "updated_at": time.Now().UTC()},
	})
}

// SetPostPinned pins or unpins a post in feeds.
func (s *PostsStore) SetPostPinned(ctx context.Context, postID bson.ObjectID, pinned bool) error {
	return s.updateOne(ctx, bson.M{"_id": postID}, bson.M{
		"$set": bson.M{"is_pinned": pinned, "updated_at": time.Now().UTC()},
	})
}

func (s *PostsStore) updateOne(ctx context.Context, filter, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
