// Package visibility decides whether a viewer may see a piece of content.
//
// Every content kind (post, comment, reply, prayer request, profile) is
// reduced to a Subject: an owner and a visibility mode. One resolver then
// answers for all of them. Comments and replies carry no visibility of their
// own and are resolved with their parent post's subject.
package visibility

import (
	"context"

	"github.com/PaulBabatuyi/fellowship/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Relationships reports whether two users hold an accepted connection.
type Relationships interface {
	IsConnected(ctx context.Context, a, b bson.ObjectID) (bool, error)
}

// Subject is the owner and mode of a piece of content.
type Subject struct {
	OwnerID bson.ObjectID
	Mode    data.Visibility
}

// PostSubject returns the subject of a post and of its comments and replies.
func PostSubject(p *data.Post) Subject {
	return Subject{OwnerID: p.Author, Mode: p.Visibility}
}

// PrayerSubject returns the subject of a prayer request. A prayer is public
// only when it is not private and its owner shows prayer requests.
func PrayerSubject(owner *data.User, p *data.PrayerRequest) Subject {
	mode := data.VisibilityPrivate
	if !p.IsPrivate && owner.Privacy.ShowPrayerRequests {
		mode = data.VisibilityPublic
	}
	return Subject{OwnerID: owner.ID, Mode: mode}
}

// ProfileSubject returns the subject of a user's profile.
func ProfileSubject(u *data.User) Subject {
	mode := u.Privacy.ProfileVisibility
	if mode == "" {
		mode = data.VisibilityPublic
	}
	return Subject{OwnerID: u.ID, Mode: mode}
}

// CanView reports whether viewer may see subject. A zero viewer is an
// anonymous caller. rel is consulted only for connections-mode subjects and
// may be nil otherwise.
func CanView(ctx context.Context, viewer bson.ObjectID, s Subject, rel Relationships) (bool, error) {
	if !viewer.IsZero() && viewer == s.OwnerID {
		return true, nil
	}

	switch s.Mode {
	case data.VisibilityPublic:
		return true, nil
	case data.VisibilityConnections:
		if viewer.IsZero() || rel == nil {
			return false, nil
		}
		return rel.IsConnected(ctx, viewer, s.OwnerID)
	default:
		// private and unknown modes
		return false, nil
	}
}

// Allows is CanView for callers that already hold the viewer's connected-id
// set.
func Allows(viewer bson.ObjectID, s Subject, connected Set) bool {
	if !viewer.IsZero() && viewer == s.OwnerID {
		return true
	}

	switch s.Mode {
	case data.VisibilityPublic:
		return true
	case data.VisibilityConnections:
		return !viewer.IsZero() && connected.Has(s.OwnerID)
	}
	return false
}

// MessageVisible reports whether viewer sees m: viewer must be a participant
// of conv, must not have deleted m, and m must not be removed by moderation.
func MessageVisible(viewer bson.ObjectID, conv *data.Conversation, m *data.Message) bool {
	if !conv.HasParticipant(viewer) {
		return false
	}
	if m.DeletedFor(viewer) {
		return false
	}
	return m.Moderation.Status != data.ModerationRemoved
}

// Set is a set of user ids.
type Set map[bson.ObjectID]struct{}

// NewSet builds a Set from ids.
func NewSet(ids []bson.ObjectID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id bson.ObjectID) bool {
	_, ok := s[id]
	return ok
}
