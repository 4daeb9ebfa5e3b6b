// Package db manages MongoDB connections, collections and indexes.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "fellowship"

// Collection names.
const (
	UsersCollectionName         = "users"
	ConnectionsCollectionName   = "connections"
	PostsCollectionName         = "posts"
	ConversationsCollectionName = "conversations"
	MessagesCollectionName      = "messages"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection pool (safe for concurrent use)
	client *mongo.Client

	// db is the application database; collections are created lazily on first write
	db *mongo.Database
}

// New connects to MongoDB, verifies the connection and returns a Client.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	if database == "" {
		database = DefaultDatabase
	}

	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping within the caller's context but never wait longer than 5s
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection(UsersCollectionName)
}

// ConnectionsCollection returns the connections collection.
func (c *Client) ConnectionsCollection() *mongo.Collection {
	return c.db.Collection(ConnectionsCollectionName)
}

// PostsCollection returns the posts collection.
func (c *Client) PostsCollection() *mongo.Collection {
	return c.db.Collection(PostsCollectionName)
}

// ConversationsCollection returns the conversations collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection(ConversationsCollectionName)
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection(MessagesCollectionName)
}

// Drop removes every application collection. Used by integration tests.
func (c *Client) Drop(ctx context.Context) error {
	for _, name := range []string{
		UsersCollectionName,
		ConnectionsCollectionName,
		PostsCollectionName,
		ConversationsCollectionName,
		MessagesCollectionName,
	} {
		if err := c.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("failed to drop %s: %w", name, err)
		}
	}
	return nil
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes every store relies on. The unique pair
// indexes are what make concurrent connection requests and conversation
// creation collapse to a single document per pair.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USERS =====
	// unique email: registration and login lookups
	_, err := c.UsersCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	// ===== CONNECTIONS =====
	_, err = c.ConnectionsCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// one document per unordered pair, whatever its status
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// connected-id set lookups from either side
			Keys: bson.D{{Key: "requester", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "status", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create connection indexes: %w", err)
	}

	// ===== POSTS =====
	_, err = c.PostsCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// feed ordering
			Keys: bson.D{{Key: "is_pinned", Value: -1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "author", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "visibility", Value: 1}, {Key: "is_active", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create post indexes: %w", err)
	}

	// ===== CONVERSATIONS =====
	_, err = c.ConversationsCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_activity", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	// ===== MESSAGES =====
	_, err = c.MessagesCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// page reads, newest first
			Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		},
		{
			// unread recomputation and read marking
			Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "sender", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	return nil
}
