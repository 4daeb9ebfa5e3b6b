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

// ConversationsStore persists two-party conversations and their summary
// fields (last message snapshot and per-participant unread counters).
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using the given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// NewConversation builds a conversation for the pair with both unread
// counters at zero.
func NewConversation(a, b bson.ObjectID, now time.Time) *Conversation {
	return &Conversation{
		ID:           bson.NewObjectID(),
		PairKey:      PairKey(a, b),
		Participants: SortedPair(a, b),
		LastActivity: now,
		UnreadCounts: map[string]int64{a.Hex(): 0, b.Hex(): 0},
		CreatedAt:    now,
	}
}

// InsertConversation stores c. A concurrent insert for the same pair fails
// the unique pair_key index and returns ErrDuplicate.
func (s *ConversationsStore) InsertConversation(ctx context.Context, c *Conversation) error {
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// FindConversationByPair returns the conversation between a and b.
func (s *ConversationsStore) FindConversationByPair(ctx context.Context, a, b bson.ObjectID) (*Conversation, error) {
	return s.findOne(ctx, bson.M{"pair_key": PairKey(a, b)})
}

// GetConversation returns a conversation by id.
func (s *ConversationsStore) GetConversation(ctx context.Context, id bson.ObjectID) (*Conversation, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *ConversationsStore) findOne(ctx context.Context, filter bson.M) (*Conversation, error) {
	var c Conversation
	if err := s.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &c, nil
}

// RecordMessageSent applies the summary update for a new message in one
// atomic operation: snapshot, activity time and the recipient's counter.
func (s *ConversationsStore) RecordMessageSent(ctx context.Context, id, recipient bson.ObjectID, last LastMessage) error {
	return s.updateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"last_message":  last,
			"last_activity": last.SentAt,
		},
		"$inc": bson.M{
			"unread_counts." + recipient.Hex(): 1,
			"version":                          1,
		},
	})
}

// ResetUnread zeroes user's unread counter.
func (s *ConversationsStore) ResetUnread(ctx context.Context, id, user bson.ObjectID) error {
	return s.updateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"unread_counts." + user.Hex(): 0},
		"$inc": bson.M{"version": 1},
	})
}

// SetConversationSummary overwrites the derived fields with recomputed
// values if the conversation is still at version. A nil last clears the
// snapshot. ErrNotFound means the conversation is gone or has changed.
func (s *ConversationsStore) SetConversationSummary(ctx context.Context, id bson.ObjectID, version int64, last *LastMessage, unread map[string]int64) error {
	set := bson.M{}
	for user, n := range unread {
		set["unread_counts."+user] = n
	}
	update := bson.M{}
	if last != nil {
		set["last_message"] = last
	} else {
		update["$unset"] = bson.M{"last_message": ""}
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	update["$inc"] = bson.M{"version": 1}
	return s.updateOne(ctx, bson.M{"_id": id, "version": version}, update)
}

// ListConversations returns user's conversations, most recently active first.
func (s *ConversationsStore) ListConversations(ctx context.Context, user bson.ObjectID, skip, limit int64) ([]*Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, bson.M{"participants": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}

// ConversationIDsAfter returns up to limit conversation ids greater than
// after, in id order. Used to sweep the collection in batches.
func (s *ConversationsStore) ConversationIDsAfter(ctx context.Context, after bson.ObjectID, limit int64) ([]bson.ObjectID, error) {
	filter := bson.M{}
	if !after.IsZero() {
		filter["_id"] = bson.M{"$gt": after}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetProjection(bson.M{"_id": 1})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversation ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []bson.ObjectID
	for cursor.Next(ctx) {
		var doc struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}
	return ids, nil
}

func (s *ConversationsStore) updateOne(ctx context.Context, filter, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
