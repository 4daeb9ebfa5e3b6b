// Package prayer tracks community prayer requests and who prays for them.
package prayer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/apperr"
	"github.com/PaulBabatuyi/fellowship/internal/data"
	"github.com/PaulBabatuyi/fellowship/internal/db"
	"github.com/PaulBabatuyi/fellowship/internal/normalize"
	"github.com/PaulBabatuyi/fellowship/internal/visibility"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// MaxRequestLen bounds a prayer request's text.
const MaxRequestLen = 1000

// Users is the user persistence the Tracker needs. Prayer requests are
// embedded in their owner's user document.
type Users interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	AppendPrayer(ctx context.Context, owner bson.ObjectID, p data.PrayerRequest) error
	IncrementPrayerCount(ctx context.Context, owner, prayerID bson.ObjectID) (int64, error)
	RecordPrayerOffered(ctx context.Context, actor bson.ObjectID, at time.Time) error
	SetPrayerAnswered(ctx context.Context, owner, prayerID bson.ObjectID, at time.Time, note string) error
	RemovePrayer(ctx context.Context, owner, prayerID bson.ObjectID) error
}

// Tracker runs prayer request operations.
type Tracker struct {
	users Users
	log   *zap.Logger
	retry db.RetryPolicy
	now   func() time.Time
}

// New returns a Tracker. A nil logger discards output.
func New(users Users, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		users: users,
		log:   log,
		retry: db.DefaultRetryPolicy,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Add appends a prayer request to owner's list. An empty category means
// general.
func (t *Tracker) Add(ctx context.Context, owner bson.ObjectID, text string, category data.PrayerCategory, isPrivate bool) (*data.PrayerRequest, error) {
	text = normalize.Text(text)
	if text == "" {
		return nil, apperr.InvalidInput("prayer request text is required")
	}
	if len(text) > MaxRequestLen {
		return nil, apperr.InvalidInput("prayer request is too long")
	}
	if category == "" {
		category = data.CategoryGeneral
	}
	if !category.Valid() {
		return nil, apperr.InvalidInput("unknown prayer category")
	}

	p := data.PrayerRequest{
		ID:        bson.NewObjectID(),
		Request:   text,
		Category:  category,
		IsPrivate: isPrivate,
		CreatedAt: t.now(),
	}
	if err := t.users.AppendPrayer(ctx, owner, p); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	return &p, nil
}

// lookup loads an active owner and one of their prayers.
func (t *Tracker) lookup(ctx context.Context, ownerID, prayerID bson.ObjectID) (*data.User, *data.PrayerRequest, error) {
	owner, err := t.users.GetUserByID(ctx, ownerID)
	if errors.Is(err, data.ErrNotFound) || (err == nil && !owner.IsActive) {
		return nil, nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, nil, err
	}
	p, ok := owner.Prayer(prayerID)
	if !ok {
		return nil, nil, apperr.NotFound("prayer request not found")
	}
	return owner, p, nil
}

// Pray records that actor prayed for a request and returns the stored count
// right after this call's increment. The counter increment is
// atomic; the actor's own stats are updated afterwards on a best-effort basis
// and are not rolled back if that write fails.
func (t *Tracker) Pray(ctx context.Context, ownerID, prayerID, actor bson.ObjectID) (int64, error) {
	owner, p, err := t.lookup(ctx, ownerID, prayerID)
	if err != nil {
		return 0, err
	}
	if !visibility.Allows(actor, visibility.PrayerSubject(owner, p), nil) {
		return 0, apperr.Forbidden("prayer request is not visible")
	}

	count, err := t.users.IncrementPrayerCount(ctx, ownerID, prayerID)
	if errors.Is(err, data.ErrNotFound) {
		// removed between the read and the increment
		return 0, apperr.NotFound("prayer request not found")
	}
	if err != nil {
		return 0, err
	}

	at := t.now()
	err = db.Retry(ctx, t.retry, func(ctx context.Context) error {
		return t.users.RecordPrayerOffered(ctx, actor, at)
	})
	if err != nil {
		t.log.Warn("prayer stats update failed",
			zap.String("actor", actor.Hex()),
			zap.String("prayer", prayerID.Hex()),
			zap.Error(err))
	}
	return count, nil
}

// MarkAnswered marks a prayer answered with an optional note. Owner only.
func (t *Tracker) MarkAnswered(ctx context.Context, ownerID, prayerID bson.ObjectID, actor data.Actor, note string) error {
	if actor.ID != ownerID {
		return apperr.Forbidden("only the owner can mark a prayer answered")
	}
	if _, _, err := t.lookup(ctx, ownerID, prayerID); err != nil {
		return err
	}

	err := t.users.SetPrayerAnswered(ctx, ownerID, prayerID, t.now(), normalize.Text(note))
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("prayer request not found")
	}
	return err
}

// Delete removes a prayer request. Owner or moderator.
func (t *Tracker) Delete(ctx context.Context, ownerID, prayerID bson.ObjectID, actor data.Actor) error {
	if actor.ID != ownerID && !actor.IsModerator() {
		return apperr.Forbidden("not allowed to delete this prayer request")
	}

	err := t.users.RemovePrayer(ctx, ownerID, prayerID)
	if errors.Is(err, data.ErrNotFound) {
		return apperr.NotFound("prayer request not found")
	}
	return err
}

// List returns the owner's prayer requests that viewer may see, newest first.
func (t *Tracker) List(ctx context.Context, ownerID, viewer bson.ObjectID) ([]data.PrayerRequest, error) {
	owner, err := t.users.GetUserByID(ctx, ownerID)
	if errors.Is(err, data.ErrNotFound) || (err == nil && !owner.IsActive) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	out := make([]data.PrayerRequest, 0, len(owner.PrayerRequests))
	for i := range owner.PrayerRequests {
		p := &owner.PrayerRequests[i]
		if visibility.Allows(viewer, visibility.PrayerSubject(owner, p), nil) {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
