package data

import (
	"bytes"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PairKey returns the canonical key of the unordered pair {a, b}.
func PairKey(a, b bson.ObjectID) string {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return a.Hex() + ":" + b.Hex()
}

// SortedPair returns a and b in canonical order.
func SortedPair(a, b bson.ObjectID) []bson.ObjectID {
	if bytes.Compare(a[:], b[:]) > 0 {
		return []bson.ObjectID{b, a}
	}
	return []bson.ObjectID{a, b}
}

// FeedScope narrows which posts a feed page draws from.
type FeedScope string

const (
	ScopeAll         FeedScope = "all"
	ScopePublic      FeedScope = "public"
	ScopeConnections FeedScope = "connections"
)

func (s FeedScope) Valid() bool {
	switch s {
	case ScopeAll, ScopePublic, ScopeConnections:
		return true
	}
	return false
}

// FeedQuery is the resolved feed request: the viewer, their connected-id
// snapshot, scope and page window.
type FeedQuery struct {
	Viewer    bson.ObjectID
	Connected []bson.ObjectID
	Scope     FeedScope
	Skip      int64
	Limit     int64
}

func (q FeedQuery) connected() []bson.ObjectID {
	if q.Connected == nil {
		return []bson.ObjectID{}
	}
	return q.Connected
}

// Filter renders the query as a MongoDB filter on the posts collection.
func (q FeedQuery) Filter() bson.M {
	filter := bson.M{
		"is_active":         true,
		"moderation.status": bson.M{"$ne": ModerationRemoved},
	}

	if q.Viewer.IsZero() || q.Scope == ScopePublic {
		filter["visibility"] = VisibilityPublic
		return filter
	}

	if q.Scope == ScopeConnections {
		filter["author"] = bson.M{"$in": q.connected()}
		filter["visibility"] = bson.M{"$in": bson.A{VisibilityPublic, VisibilityConnections}}
		return filter
	}

	filter["$or"] = bson.A{
		bson.M{"author": q.Viewer},
		bson.M{"visibility": VisibilityPublic},
		bson.M{"visibility": VisibilityConnections, "author": bson.M{"$in": q.connected()}},
	}
	return filter
}

// Matches evaluates the same predicate as Filter against a decoded post.
func (q FeedQuery) Matches(p *Post) bool {
	if !p.IsActive || p.Moderation.Status == ModerationRemoved {
		return false
	}

	if q.Viewer.IsZero() || q.Scope == ScopePublic {
		return p.Visibility == VisibilityPublic
	}

	inConnected := false
	for _, id := range q.Connected {
		if id == p.Author {
			inConnected = true
			break
		}
	}

	if q.Scope == ScopeConnections {
		return inConnected && (p.Visibility == VisibilityPublic || p.Visibility == VisibilityConnections)
	}

	switch {
	case p.Author == q.Viewer:
		return true
	case p.Visibility == VisibilityPublic:
		return true
	case p.Visibility == VisibilityConnections:
		return inConnected
	}
	return false
}

// FeedSort orders pinned posts first, then newest first. _id breaks ties so
// paging is stable.
func FeedSort() bson.D {
	return bson.D{
		{Key: "is_pinned", Value: -1},
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	}
}

// FeedLess is the in-memory equivalent of FeedSort.
func FeedLess(a, b *Post) bool {
	if a.IsPinned != b.IsPinned {
		return a.IsPinned
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}
