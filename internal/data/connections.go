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

// ConnectionsStore persists the connection graph. Every mutation is a single
// conditional document operation.
type ConnectionsStore struct {
	coll *mongo.Collection
}

// NewConnectionsStore returns a ConnectionsStore using the given collection.
func NewConnectionsStore(coll *mongo.Collection) *ConnectionsStore {
	return &ConnectionsStore{coll: coll}
}

// InsertConnection stores a new connection. The unique pair_key index makes
// a racing second request for the same pair fail with ErrDuplicate.
func (s *ConnectionsStore) InsertConnection(ctx context.Context, c *Connection) error {
	c.PairKey = PairKey(c.Requester, c.Recipient)
	if c.ID.IsZero() {
		c.ID = bson.NewObjectID()
	}

	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// FindConnectionBetween returns the connection for the unordered pair.
func (s *ConnectionsStore) FindConnectionBetween(ctx context.Context, a, b bson.ObjectID) (*Connection, error) {
	var c Connection
	err := s.coll.FindOne(ctx, bson.M{"pair_key": PairKey(a, b)}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return &c, nil
}

// RespondToConnection transitions a pending connection addressed to
// responder. The pending/recipient precondition is part of the filter, so of
// two concurrent responders exactly one matches; the other gets ErrNotFound.
func (s *ConnectionsStore) RespondToConnection(ctx context.Context, id, responder bson.ObjectID, status ConnectionStatus, at time.Time) (*Connection, error) {
	filter := bson.M{
		"_id":       id,
		"recipient": responder,
		"status":    ConnectionPending,
	}
	update := bson.M{"$set": bson.M{
		"status":       status,
		"responded_at": at,
		"viewed":       true,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var c Connection
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("respond to connection: %w", err)
	}
	return &c, nil
}

// DeleteAcceptedConnection removes the pair's connection only when accepted.
func (s *ConnectionsStore) DeleteAcceptedConnection(ctx context.Context, a, b bson.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{
		"pair_key": PairKey(a, b),
		"status":   ConnectionAccepted,
	})
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ConnectedIDs returns the ids of every user with an accepted connection to
// user, from either direction.
func (s *ConnectionsStore) ConnectedIDs(ctx context.Context, user bson.ObjectID) ([]bson.ObjectID, error) {
	filter := bson.M{
		"status": ConnectionAccepted,
		"$or": bson.A{
			bson.M{"requester": user},
			bson.M{"recipient": user},
		},
	}
	opts := options.Find().SetProjection(bson.M{"requester": 1, "recipient": 1})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}

	ids := make([]bson.ObjectID, 0, len(conns))
	for i := range conns {
		ids = append(ids, conns[i].Other(user))
	}
	return ids, nil
}

// PendingFor lists pending requests addressed to user, newest first.
func (s *ConnectionsStore) PendingFor(ctx context.Context, user bson.ObjectID, limit int64) ([]*Connection, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "requested_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, bson.M{"recipient": user, "status": ConnectionPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	return conns, nil
}
