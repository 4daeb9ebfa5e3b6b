// Package feed assembles paginated post feeds for a viewer.
package feed

import (
	"context"
	"math"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Connections resolves a viewer's connected-id set.
type Connections interface {
	ConnectedIDs(ctx context.Context, user bson.ObjectID) ([]bson.ObjectID, error)
}

// PostFinder runs a resolved feed query.
type PostFinder interface {
	FindFeed(ctx context.Context, q data.FeedQuery) ([]*data.Post, error)
}

// Request is one feed page request.
type Request struct {
	Page     int64
	PageSize int64
	Scope    data.FeedScope
}

// Page is one page of a feed. HasMore is true whenever the page came back
// full, so a last page that is exactly full reports a next page that turns
// out empty.
type Page struct {
	Posts    []*data.Post
	Page     int64
	PageSize int64
	HasMore  bool
}

// Assembler builds feed pages.
type Assembler struct {
	conns           Connections
	posts           PostFinder
	defaultPageSize int64
	maxPageSize     int64
}

// NewAssembler returns an Assembler. Non-positive sizes use the package
// defaults.
func NewAssembler(conns Connections, posts PostFinder, defaultPageSize, maxPageSize int64) *Assembler {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 || defaultPageSize > maxPageSize {
		defaultPageSize = min(DefaultPageSize, maxPageSize)
	}
	return &Assembler{
		conns:           conns,
		posts:           posts,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// Assemble returns one page of viewer's feed. A zero viewer gets the public
// feed whatever the requested scope. The connected-id set is loaded once
// per page.
func (a *Assembler) Assemble(ctx context.Context, viewer bson.ObjectID, req Request) (*Page, error) {
	scope := req.Scope
	if scope == "" {
		scope = data.ScopeAll
	}
	if !scope.Valid() {
		return nil, apperr.InvalidInput("scope must be all, public or connections")
	}

	page := max(req.Page, 1)
	size := req.PageSize
	if size <= 0 {
		size = a.defaultPageSize
	}
	size = min(size, a.maxPageSize)
	// keep (page-1)*size within int64
	page = min(page, math.MaxInt64/size)

	q := data.FeedQuery{
		Viewer: viewer,
		Scope:  scope,
		Skip:   (page - 1) * size,
		Limit:  size,
	}

	if !viewer.IsZero() && scope != data.ScopePublic {
		ids, err := a.conns.ConnectedIDs(ctx, viewer)
		if err != nil {
			return nil, err
		}
		q.Connected = ids
	}

	posts, err := a.posts.FindFeed(ctx, q)
	if err != nil {
		return nil, err
	}

	return &Page{
		Posts:    posts,
		Page:     page,
		PageSize: size,
		HasMore:  int64(len(posts)) == size,
	}, nil
}
