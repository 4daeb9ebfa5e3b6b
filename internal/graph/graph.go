// Package graph maintains the pairwise connection relationship between users.
//
// A Connection document is directed (requester, recipient) but the
// relationship it records is undirected. Each unordered pair has at most one
// document, enforced by the store's unique pair key, and a pending connection
// transitions exactly once.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/normalize"

	"github.com/sourcegraph/conc/pool"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Repository is the connection persistence the Store needs.
type Repository interface {
	InsertConnection(ctx context.Context, c *data.Connection) error
	FindConnectionBetween(ctx context.Context, a, b bson.ObjectID) (*data.Connection, error)
	RespondToConnection(ctx context.Context, id, responder bson.ObjectID, status data.ConnectionStatus, at time.Time) (*data.Connection, error)
	DeleteAcceptedConnection(ctx context.Context, a, b bson.ObjectID) error
	ConnectedIDs(ctx context.Context, user bson.ObjectID) ([]bson.ObjectID, error)
	PendingFor(ctx context.Context, user bson.ObjectID, limit int64) ([]*data.Connection, error)
}

// UserLookup resolves users by id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
}

// Cache holds connected-id sets. Implementations may be remote; errors are
// logged and the Store falls back to the Repository.
//
// Get reports the generation it observed; Set must drop the write if an
// Invalidate for user happened after that generation was read.
type Cache interface {
	Get(ctx context.Context, user bson.ObjectID) (ids []bson.ObjectID, gen int64, ok bool, err error)
	Set(ctx context.Context, user bson.ObjectID, gen int64, ids []bson.ObjectID) error
	Invalidate(ctx context.Context, users ...bson.ObjectID) error
}

// Action is a recipient's response to a pending request.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionBlock   Action = "block"
)

func (a Action) status() (data.ConnectionStatus, bool) {
	switch a {
	case ActionAccept:
		return data.ConnectionAccepted, true
	case ActionDecline:
		return data.ConnectionDeclined, true
	case ActionBlock:
		return data.ConnectionBlocked, true
	}
	return "", false
}

// Store is the connection store.
type Store struct {
	repo  Repository
	users UserLookup
	cache Cache
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCache serves ConnectedIDs from c.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithLogger sets the Store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore returns a Store over repo, using users to validate recipients.
func NewStore(repo Repository, users UserLookup, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		users: users,
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestConnection creates a pending connection from requester to
// recipient. It fails with Conflict when the pair already has a connection
// in any status, when requester and recipient are the same user, or when the
// recipient does not exist or is inactive.
func (s *Store) RequestConnection(ctx context.Context, requester, recipient bson.ObjectID, message string) (*data.Connection, error) {
	if requester == recipient {
		return nil, apperr.Conflict("cannot connect to yourself")
	}

	target, err := s.users.GetUserByID(ctx, recipient)
	if errors.Is(err, data.ErrNotFound) || (err == nil && !target.IsActive) {
		return nil, apperr.Conflict("recipient is not available")
	}
	if err != nil {
		return nil, err
	}

	c := &data.Connection{
		Requester:   requester,
		Recipient:   recipient,
		Status:      data.ConnectionPending,
		Message:     normalize.Content(message),
		RequestedAt: s.now(),
	}
	// the unique pair key makes a check-then-insert race collapse here
	if err := s.repo.InsertConnection(ctx, c); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			return nil, apperr.Conflict("connection already exists")
		}
		return nil, err
	}
	return c, nil
}

// Respond applies the recipient's action to a pending connection. Any
// connection that is not pending or not addressed to responder is NotFound;
// of two concurrent responders exactly one succeeds.
func (s *Store) Respond(ctx context.Context, connectionID, responder bson.ObjectID, action Action) (*data.Connection, error) {
	status, ok := action.status()
	if !ok {
		return nil, apperr.InvalidInput("action must be accept, decline or block")
	}

	c, err := s.repo.RespondToConnection(ctx, connectionID, responder, status, s.now())
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("no pending request to respond to")
	}
	if err != nil {
		return nil, err
	}

	if status == data.ConnectionAccepted {
		s.invalidate(ctx, c.Requester, c.Recipient)
	}
	return c, nil
}

// Status returns the relationship between a and b from a's side.
func (s *Store) Status(ctx context.Context, a, b bson.ObjectID) (Relation, error) {
	c, err := s.repo.FindConnectionBetween(ctx, a, b)
	if errors.Is(err, data.ErrNotFound) {
		return RelationNone, nil
	}
	if err != nil {
		return RelationNone, err
	}
	return Perspective(c, a), nil
}

// IsConnected reports whether a and b hold an accepted connection.
func (s *Store) IsConnected(ctx context.Context, a, b bson.ObjectID) (bool, error) {
	rel, err := s.Status(ctx, a, b)
	if err != nil {
		return false, err
	}
	return rel == RelationConnected, nil
}

// MutualCount returns how many users are connected to both a and b. The two
// sets load concurrently.
func (s *Store) MutualCount(ctx context.Context, a, b bson.ObjectID) (int, error) {
	var setA, setB []bson.ObjectID

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		ids, err := s.ConnectedIDs(ctx, a)
		setA = ids
		return err
	})
	p.Go(func(ctx context.Context) error {
		ids, err := s.ConnectedIDs(ctx, b)
		setB = ids
		return err
	})
	if err := p.Wait(); err != nil {
		return 0, err
	}

	seen := make(map[bson.ObjectID]struct{}, len(setA))
	for _, id := range setA {
		seen[id] = struct{}{}
	}
	n := 0
	for _, id := range setB {
		if _, ok := seen[id]; ok {
			n++
		}
	}
	return n, nil
}

// Remove deletes an accepted connection between a and b.
func (s *Store) Remove(ctx context.Context, a, b bson.ObjectID) error {
	err := s.repo.DeleteAcceptedConnection(ctx, a, b)
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("not connected")
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, a, b)
	return nil
}

// ConnectedIDs returns the ids of user's accepted connections. The result is
// a point-in-time snapshot.
func (s *Store) ConnectedIDs(ctx context.Context, user bson.ObjectID) ([]bson.ObjectID, error) {
	writeBack := false
	var gen int64
	if s.cache != nil {
		ids, g, ok, err := s.cache.Get(ctx, user)
		if err != nil {
			s.log.Warn("connected set cache read failed", zap.String("user", user.Hex()), zap.Error(err))
		} else if ok {
			return ids, nil
		} else {
			gen, writeBack = g, true
		}
	}

	ids, err := s.repo.ConnectedIDs(ctx, user)
	if err != nil {
		return nil, err
	}

	if writeBack {
		if err := s.cache.Set(ctx, user, gen, ids); err != nil {
			s.log.Warn("connected set cache write failed", zap.String("user", user.Hex()), zap.Error(err))
		}
	}
	return ids, nil
}

// Pending lists requests waiting on user's response, newest first.
func (s *Store) Pending(ctx context.Context, user bson.ObjectID, limit int64) ([]*data.Connection, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.repo.PendingFor(ctx, user, limit)
}

func (s *Store) invalidate(ctx context.Context, users ...bson.ObjectID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, users...); err != nil {
		s.log.Warn("connected set cache invalidation failed", zap.Error(err))
	}
}
