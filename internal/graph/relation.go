package graph

import (
	"github.com/PaulBabatuyi/fellowship/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Relation is the relationship between two users as seen by one of them.
type Relation string

const (
	RelationNone      Relation = "none"
	RelationSent      Relation = "sent"
	RelationReceived  Relation = "received"
	RelationConnected Relation = "connected"
	RelationBlocked   Relation = "blocked"
	RelationDeclined  Relation = "declined"
)

// Perspective derives user's view of c. It depends only on the record's
// direction, its status and who is asking.
func Perspective(c *data.Connection, user bson.ObjectID) Relation {
	if c == nil {
		return RelationNone
	}
	switch c.Status {
	case data.ConnectionAccepted:
		return RelationConnected
	case data.ConnectionBlocked:
		return RelationBlocked
	case data.ConnectionDeclined:
		return RelationDeclined
	case data.ConnectionPending:
		if c.Requester == user {
			return RelationSent
		}
		return RelationReceived
	}
	return RelationNone
}
