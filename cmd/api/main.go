package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/auth"
	"github.com/PaulBabatuyi/fellowship/internal/cache"
	"github.com/PaulBabatuyi/fellowship/internal/config"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/db"
	"github.com/PaulBabatuyi/fellowship/internal/ledger"
	"github.com/PaulBabatuyi/fellowship/internal/logging"
	"github.com/PaulBabatuyi/fellowship/internal/middleware"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	app := &cli.Command{
		Name:  "fellowship",
		Usage: "Community service: connections, posts, messages and prayer requests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file; COMMUNITY_ environment variables override it",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the gRPC server",
				Action: serve,
			},
			{
				Name:   "indexes",
				Usage:  "Create MongoDB indexes and exit",
				Action: createIndexes,
			},
			{
				Name:   "reconcile",
				Usage:  "Recompute every conversation's unread counters and last message once",
				Action: reconcileOnce,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

// env is what every command needs: configuration, a logger and the database.
type env struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *db.Client
	stores Stores
}

func setup(ctx context.Context, cmd *cli.Command) (*env, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	dbClient, err := db.New(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	return &env{
		cfg: cfg,
		log: logger,
		db:  dbClient,
		stores: Stores{
			Users:         data.NewUsersStore(dbClient.UsersCollection()),
			Connections:   data.NewConnectionsStore(dbClient.ConnectionsCollection()),
			Posts:         data.NewPostsStore(dbClient.PostsCollection()),
			Conversations: data.NewConversationsStore(dbClient.ConversationsCollection()),
			Messages:      data.NewMessagesStore(dbClient.MessagesCollection()),
		},
	}, nil
}

func (e *env) close() {
	_ = e.db.Close(context.Background())
	_ = e.log.Sync()
}

func (e *env) reconciler(l *ledger.Ledger) *ledger.Reconciler {
	return ledger.NewReconciler(l, ledger.ReconcilerConfig{
		BatchSize:     e.cfg.Reconcile.BatchSize,
		Workers:       e.cfg.Reconcile.Workers,
		RatePerSecond: e.cfg.Reconcile.RatePerSecond,
	})
}

func jwtManager(cfg config.JWT) *auth.JWTManager {
	if len(cfg.Keys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.Keys, cfg.ActiveKID, cfg.TTL)
	}
	return auth.NewJWTManager(cfg.Secret, cfg.TTL)
}

func createIndexes(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.db.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	e.log.Info("indexes created", zap.String("database", e.cfg.MongoDB.Database))
	return nil
}

func reconcileOnce(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := ledger.New(e.stores.Conversations, e.stores.Messages, e.stores.Users, ledger.WithLogger(e.log.Named("ledger")))
	stats, err := e.reconciler(l).Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile sweep aborted after %d conversations: %w", stats.Scanned, err)
	}
	fmt.Printf("Reconciled %d conversations (%d failed).\n", stats.Scanned, stats.Failed)
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.db.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	opts := serverOptions{
		FeedDefaultSize: e.cfg.Feed.DefaultPageSize,
		FeedMaxSize:     e.cfg.Feed.MaxPageSize,
	}
	if e.cfg.Redis.Addr != "" {
		rdb, err := cache.Dial(ctx, e.cfg.Redis.Addr, e.cfg.Redis.Password, e.cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts.Cache = cache.NewConnectedSets(rdb, e.cfg.Redis.TTL)
		e.log.Info("connected set cache enabled", zap.String("addr", e.cfg.Redis.Addr))
	}

	jwtMgr := jwtManager(e.cfg.JWT)
	srv := newServer(e.stores, jwtMgr, NewConnectionHub(), e.log, opts)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.LoggingUnaryInterceptor(e.log.Named("rpc")),
			middleware.TimeoutUnaryInterceptor(e.cfg.Server.RequestTimeout),
			authUnaryInterceptor(jwtMgr, e.stores.Users),
		),
		grpc.ChainStreamInterceptor(
			middleware.LoggingStreamInterceptor(e.log.Named("rpc")),
			authStreamInterceptor(jwtMgr, e.stores.Users),
		),
	)
	registerService(grpcServer, srv)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	if e.cfg.Reconcile.Interval > 0 {
		go e.reconciler(srv.ledger).Loop(ctx, e.cfg.Reconcile.Interval)
		e.log.Info("reconcile loop started", zap.Duration("interval", e.cfg.Reconcile.Interval))
	}

	lis, err := net.Listen("tcp", e.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		e.log.Info("gRPC server listening", zap.String("addr", e.cfg.Server.Addr))
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("gRPC server exit: %w", err)
	case <-ctx.Done():
	}

	e.log.Info("shutting down gRPC server")
	healthSrv.Shutdown()
	gracefulStop(grpcServer, e.cfg.Server.ShutdownTimeout)
	return nil
}

// gracefulStop drains in-flight calls for up to timeout, then closes the
// rest. Subscribe streams only end when their clients leave, so the hard
// stop is expected whenever any are open.
func gracefulStop(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
	}
}
