// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, name, phone, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Phone:     normalize.Phone(phone), // identity key, unique index
		Name:      name,
		Password:  hashedPassword, // already hashed by auth.HashPassword()
		About:     DefaultAbout,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// Unique index on phone rejects a second registration
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByPhone finds a user by phone number.
func (u *UsersStore) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"phone": normalize.Phone(phone)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists checks if a user exists by phone.
func (u *UsersStore) UserExists(ctx context.Context, phone string) (bool, error) {
	// CountDocuments is cheaper than decoding when only existence matters
	count, err := u.coll.CountDocuments(ctx, bson.M{"phone": normalize.Phone(phone)})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPresence persists the online snapshot for a user. lastSeen is only
// written when the user goes offline. Writes are last-write-wins.
func (u *UsersStore) SetPresence(ctx context.Context, phone string, online bool, lastSeen time.Time) error {
	set := bson.M{"is_online": online, "updated_at": time.Now()}
	if !online {
		set["last_seen"] = lastSeen
	}
	res, err := u.coll.UpdateOne(ctx, bson.M{"phone": normalize.Phone(phone)}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
