// Package data provides the document models and their MongoDB stores.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/fellowship/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations, including the embedded prayer
// request list and the prayer stats aggregate.
type UsersStore struct {
	// coll is the "users" collection
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new active user with default privacy settings.
func (u *UsersStore) CreateUser(ctx context.Context, email, hashedPassword, displayName string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		Email:          normalize.Email(email),
		Password:       hashedPassword,
		DisplayName:    normalize.Text(displayName),
		Role:           RoleUser,
		IsActive:       true,
		Privacy:        DefaultPrivacy(),
		PrayerRequests: []PrayerRequest{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// unique email index
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByEmail finds a user by normalized email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	return u.findOne(ctx, bson.M{"_id": id})
}

func (u *UsersStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	if err := u.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// UserExists checks if a user exists by email.
func (u *UsersStore) UserExists(ctx context.Context, email string) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"email": normalize.Email(email)})
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// UpdatePrivacy replaces the user's privacy settings.
func (u *UsersStore) UpdatePrivacy(ctx context.Context, id bson.ObjectID, privacy Privacy) error {
	return u.updateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"privacy": privacy, "updated_at": time.Now().UTC()},
	})
}

// SetUserActive flips the soft-deactivation flag.
func (u *UsersStore) SetUserActive(ctx context.Context, id bson.ObjectID, active bool) error {
	return u.updateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"is_active": active, "updated_at": time.Now().UTC()},
	})
}

// SetUserRole changes the user's role.
func (u *UsersStore) SetUserRole(ctx context.Context, id bson.ObjectID, role Role) error {
	return u.updateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"role": role, "updated_at": time.Now().UTC()},
	})
}

// AppendPrayer pushes a prayer request onto the owner's embedded list.
func (u *UsersStore) AppendPrayer(ctx context.Context, owner bson.ObjectID, p PrayerRequest) error {
	return u.updateOne(ctx, bson.M{"_id": owner}, bson.M{
		"$push": bson.M{"prayer_requests": p},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
}

// IncrementPrayerCount atomically bumps one embedded prayer's counter and
// returns the stored count after the increment.
func (u *UsersStore) IncrementPrayerCount(ctx context.Context, owner, prayerID bson.ObjectID) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"prayer_requests.$": 1})

	var doc User
	err := u.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": owner, "prayer_requests._id": prayerID},
		bson.M{"$inc": bson.M{"prayer_requests.$.prayer_count": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment prayer count: %w", err)
	}

	p, ok := doc.Prayer(prayerID)
	if !ok {
		return 0, ErrNotFound
	}
	return p.PrayerCount, nil
}

// RecordPrayerOffered updates the acting user's prayer stats aggregate.
func (u *UsersStore) RecordPrayerOffered(ctx context.Context, actor bson.ObjectID, at time.Time) error {
	return u.updateOne(ctx, bson.M{"_id": actor}, bson.M{
		"$inc": bson.M{"prayer_stats.total_prayers_offered": 1},
		"$set": bson.M{"prayer_stats.last_prayed_at": at},
	})
}

// SetPrayerAnswered marks one embedded prayer as answered.
func (u *UsersStore) SetPrayerAnswered(ctx context.Context, owner, prayerID bson.ObjectID, at time.Time, note string) error {
	return u.updateOne(ctx,
		bson.M{"_id": owner, "prayer_requests._id": prayerID},
		bson.M{"$set": bson.M{
			"prayer_requests.$.is_answered": true,
			"prayer_requests.$.answered_at": at,
			"prayer_requests.$.answer_note": note,
		}},
	)
}

// RemovePrayer pulls one prayer from the owner's list.
func (u *UsersStore) RemovePrayer(ctx context.Context, owner, prayerID bson.ObjectID) error {
	res, err := u.coll.UpdateOne(ctx,
		bson.M{"_id": owner, "prayer_requests._id": prayerID},
		bson.M{"$pull": bson.M{"prayer_requests": bson.M{"_id": prayerID}}},
	)
	if err != nil {
		return fmt.Errorf("remove prayer: %w", err)
	}
	if res.ModifiedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// updateOne applies update to the single matching document, mapping a
// missed filter to ErrNotFound.
func (u *UsersStore) updateOne(ctx context.Context, filter, update bson.M) error {
	res, err := u.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
