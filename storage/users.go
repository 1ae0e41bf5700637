package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoleAdministrator is the role allowed to delete indicators
const RoleAdministrator = "Administrator"

// SourceAccess is one source a user may read
type SourceAccess struct {
	Name string `bson:"name" json:"name"`
}

// User is the authorization view of an analyst account
type User struct {
	Username string         `bson:"username" json:"username"`
	Role     string         `bson:"role" json:"role"`
	Active   string         `bson:"is_active,omitempty" json:"is_active,omitempty"`
	Sources  []SourceAccess `bson:"sources" json:"sources"`
}

// MongoUserStorage answers source visibility and role questions
type MongoUserStorage struct {
	coll Collection
}

// NewMongoUserStorage creates the user repository
func NewMongoUserStorage(db *MongoDB) *MongoUserStorage {
	return &MongoUserStorage{coll: db.Collection(CollectionUsers)}
}

// GetUser loads a user by username
func (s *MongoUserStorage) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	opts := options.FindOne().SetProjection(bson.M{"username": 1, "role": 1, "is_active": 1, "sources": 1})
	if err := s.coll.FindOne(ctx, bson.M{"username": username}, opts).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// VisibleSources lists the source names the user may read. Unknown users see
// nothing.
func (s *MongoUserStorage) VisibleSources(ctx context.Context, username string) ([]string, error) {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(u.Sources))
	for _, src := range u.Sources {
		names = append(names, src.Name)
	}
	return names, nil
}

// IsAdmin reports whether the user holds the administrator role
func (s *MongoUserStorage) IsAdmin(ctx context.Context, username string) (bool, error) {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.Role == RoleAdministrator, nil
}

// SaveUser creates or replaces a user by username
func (s *MongoUserStorage) SaveUser(ctx context.Context, u *User) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"username": u.Username},
		bson.M{"$set": bson.M{"role": u.Role, "sources": u.Sources, "is_active": u.Active}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// RemoveSubscriptions drops the object from every user's subscription list
func (s *MongoUserStorage) RemoveSubscriptions(ctx context.Context, objectType, objectID string) (int64, error) {
	field := "subscriptions." + objectType
	result, err := s.coll.UpdateMany(ctx,
		bson.M{field + "._id": objectID},
		bson.M{"$pull": bson.M{field: bson.M{"_id": objectID}}})
	if err != nil {
		return 0, fmt.Errorf("failed to remove subscriptions: %w", err)
	}
	return result.ModifiedCount, nil
}

// EnsureIndexes creates the unique username index
func (s *MongoUserStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}
