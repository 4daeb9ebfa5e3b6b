package main

import (
	"context"

	"github.com/PaulBabatuyi/fellowship/internal/auth"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/feed"
	"github.com/PaulBabatuyi/fellowship/internal/graph"
	"github.com/PaulBabatuyi/fellowship/internal/ledger"
	"github.com/PaulBabatuyi/fellowship/internal/posts"
	"github.com/PaulBabatuyi/fellowship/internal/prayer"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// userStore is the account persistence the handlers and prayer tracker use.
type userStore interface {
	prayer.Users
	CreateUser(ctx context.Context, email, hashedPassword, displayName string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	UpdatePrivacy(ctx context.Context, id bson.ObjectID, privacy data.Privacy) error
}

type postStore interface {
	posts.Repository
	feed.PostFinder
}

// Stores groups the persistence behind every service. The MongoDB stores
// satisfy it in production and datatest.Store in tests.
type Stores struct {
	Users         userStore
	Connections   graph.Repository
	Posts         postStore
	Conversations ledger.Conversations
	Messages      ledger.Messages
}

// serverOptions carries the tunables newServer needs.
type serverOptions struct {
	Cache           graph.Cache
	FeedDefaultSize int64
	FeedMaxSize     int64
}

// Server implements the community service and holds the core services.
type Server struct {
	users  userStore
	auth   *auth.JWTManager
	hub    *ConnectionHub
	graph  *graph.Store
	posts  *posts.Service
	feed   *feed.Assembler
	ledger *ledger.Ledger
	prayer *prayer.Tracker
	log    *zap.Logger
}

// newServer wires the core services over st.
func newServer(st Stores, authMgr *auth.JWTManager, hub *ConnectionHub, log *zap.Logger, opts serverOptions) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	graphOpts := []graph.Option{graph.WithLogger(log.Named("graph"))}
	if opts.Cache != nil {
		graphOpts = append(graphOpts, graph.WithCache(opts.Cache))
	}
	g := graph.NewStore(st.Connections, st.Users, graphOpts...)

	return &Server{
		users:  st.Users,
		auth:   authMgr,
		hub:    hub,
		graph:  g,
		posts:  posts.New(st.Posts, g, log.Named("posts")),
		feed:   feed.NewAssembler(g, st.Posts, opts.FeedDefaultSize, opts.FeedMaxSize),
		ledger: ledger.New(st.Conversations, st.Messages, st.Users, ledger.WithLogger(log.Named("ledger"))),
		prayer: prayer.New(st.Users, log.Named("prayer")),
		log:    log,
	}
}
