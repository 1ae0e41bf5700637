package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crits/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoIPStorage persists IP objects
type MongoIPStorage struct {
	coll Collection
}

// NewMongoIPStorage creates the IP repository
func NewMongoIPStorage(db *MongoDB) *MongoIPStorage {
	return &MongoIPStorage{coll: db.Collection(CollectionIPs)}
}

// FindByAddress looks up an IP object by address
func (s *MongoIPStorage) FindByAddress(ctx context.Context, address string) (*core.IP, error) {
	var ip core.IP
	err := s.coll.FindOne(ctx, bson.M{"ip": strings.ToLower(strings.TrimSpace(address))}).Decode(&ip)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrIPNotFound
		}
		return nil, fmt.Errorf("failed to find ip: %w", err)
	}
	return &ip, nil
}

// Save writes the full IP document
func (s *MongoIPStorage) Save(ctx context.Context, ip *core.IP) error {
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": ip.ID}, ip, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save ip: %w", err)
	}
	return nil
}

// EnsureIndexes creates the unique address index
func (s *MongoIPStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ip", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ip_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create ip indexes: %w", err)
	}
	return nil
}
