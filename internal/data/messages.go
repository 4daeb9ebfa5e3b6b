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

// MessagesStore provides message database operations. The messages
// collection is the log that conversation summaries are derived from.
type MessagesStore struct {
	// coll is the "messages" collection
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// InsertMessage stores msg, assigning its id when unset.
func (m *MessagesStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.ID.IsZero() {
		msg.ID = bson.NewObjectID()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []ReadReceipt{}
	}
	if msg.DeletedBy == nil {
		msg.DeletedBy = []Deletion{}
	}

	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id.
func (m *MessagesStore) GetMessage(ctx context.Context, id bson.ObjectID) (*Message, error) {
	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

// MessagePage returns one page of the conversation as seen by viewer,
// skipping messages viewer deleted and moderator-removed messages. The page
// is selected newest first and returned oldest first.
func (m *MessagesStore) MessagePage(ctx context.Context, conversation, viewer bson.ObjectID, skip, limit int64) ([]*Message, error) {
	filter := bson.M{
		"conversation":      conversation,
		"deleted_by.user":   bson.M{"$ne": viewer},
		"moderation.status": bson.M{"$ne": ModerationRemoved},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	// newest first from the query; callers want chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead appends a read receipt for reader to every message in
// the conversation that reader did not send and has not read. Returns how
// many were marked.
func (m *MessagesStore) MarkConversationRead(ctx context.Context, conversation, reader bson.ObjectID, at time.Time) (int64, error) {
	res, err := m.coll.UpdateMany(ctx,
		bson.M{
			"conversation": conversation,
			"sender":       bson.M{"$ne": reader},
			"read_by.user": bson.M{"$ne": reader},
		},
		bson.M{"$push": bson.M{"read_by": ReadReceipt{User: reader, ReadAt: at}}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return res.ModifiedCount, nil
}

// MarkMessageDeleted records that user deleted the message for themselves.
// Repeating it is a no-op.
func (m *MessagesStore) MarkMessageDeleted(ctx context.Context, id, user bson.ObjectID, at time.Time) error {
	_, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": id, "deleted_by.user": bson.M{"$ne": user}},
		bson.M{"$push": bson.M{"deleted_by": Deletion{User: user, DeletedAt: at}}},
	)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	return nil
}

// CountUnread counts messages in the conversation sent by someone other than
// user, not yet read by user and not removed by moderation.
func (m *MessagesStore) CountUnread(ctx context.Context, conversation, user bson.ObjectID) (int64, error) {
	n, err := m.coll.CountDocuments(ctx, bson.M{
		"conversation":      conversation,
		"sender":            bson.M{"$ne": user},
		"read_by.user":      bson.M{"$ne": user},
		"moderation.status": bson.M{"$ne": ModerationRemoved},
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// LatestVisibleMessage returns the newest message that has not been removed
// by moderation.
func (m *MessagesStore) LatestVisibleMessage(ctx context.Context, conversation bson.ObjectID) (*Message, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	var msg Message
	err := m.coll.FindOne(ctx, bson.M{
		"conversation":      conversation,
		"moderation.status": bson.M{"$ne": ModerationRemoved},
	}, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find latest message: %w", err)
	}
	return &msg, nil
}

// SetMessageModeration replaces the moderation sub-record.
func (m *MessagesStore) SetMessageModeration(ctx context.Context, id bson.ObjectID, mod Moderation) error {
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"moderation": mod}})
	if err != nil {
		return fmt.Errorf("moderate message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
