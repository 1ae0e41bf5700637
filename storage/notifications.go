package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Notification is a pending change notice for a set of users
type Notification struct {
	ID         string    `bson:"_id" json:"id"`
	ObjectType string    `bson:"obj_type" json:"obj_type"`
	ObjectID   string    `bson:"obj_id" json:"obj_id"`
	Users      []string  `bson:"users" json:"users"`
	Message    string    `bson:"notification" json:"notification"`
	Created    time.Time `bson:"created" json:"created"`
}

// MongoNotificationStorage persists user notifications
type MongoNotificationStorage struct {
	coll Collection
}

// NewMongoNotificationStorage creates the notification repository
func NewMongoNotificationStorage(db *MongoDB) *MongoNotificationStorage {
	return &MongoNotificationStorage{coll: db.Collection(CollectionNotifications)}
}

// Insert stores a new notification
func (s *MongoNotificationStorage) Insert(ctx context.Context, n *Notification) error {
	if _, err := s.coll.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// RemoveUser takes the user off every notification for the object and drops
// notifications nobody is waiting on any more.
func (s *MongoNotificationStorage) RemoveUser(ctx context.Context, objectType, objectID, username string) (int64, error) {
	filter := bson.M{"obj_type": objectType, "obj_id": objectID}

	result, err := s.coll.UpdateMany(ctx, filter, bson.M{"$pull": bson.M{"users": username}})
	if err != nil {
		return 0, fmt.Errorf("failed to remove user from notifications: %w", err)
	}

	if _, err := s.coll.DeleteMany(ctx, bson.M{
		"obj_type": objectType,
		"obj_id":   objectID,
		"users":    bson.M{"$size": 0},
	}); err != nil {
		return result.ModifiedCount, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return result.ModifiedCount, nil
}

// RemoveForObject deletes every notification about the object
func (s *MongoNotificationStorage) RemoveForObject(ctx context.Context, objectType, objectID string) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{"obj_type": objectType, "obj_id": objectID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes creates the object lookup index
func (s *MongoNotificationStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "obj_type", Value: 1}, {Key: "obj_id", Value: 1}},
		Options: options.Index().SetName("object"),
	})
	if err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}
	return nil
}
