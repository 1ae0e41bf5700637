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

// MongoDomainStorage persists Domain objects
type MongoDomainStorage struct {
	coll Collection
}

// NewMongoDomainStorage creates the domain repository
func NewMongoDomainStorage(db *MongoDB) *MongoDomainStorage {
	return &MongoDomainStorage{coll: db.Collection(CollectionDomains)}
}

// FindByName looks up a domain by its fully qualified name
func (s *MongoDomainStorage) FindByName(ctx context.Context, fqdn string) (*core.Domain, error) {
	var d core.Domain
	err := s.coll.FindOne(ctx, bson.M{"domain": strings.ToLower(strings.TrimSpace(fqdn))}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to find domain: %w", err)
	}
	return &d, nil
}

// Save writes the full domain document
func (s *MongoDomainStorage) Save(ctx context.Context, d *core.Domain) error {
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save domain: %w", err)
	}
	return nil
}

// EnsureIndexes creates the unique domain name index
func (s *MongoDomainStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "domain", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("domain_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create domain indexes: %w", err)
	}
	return nil
}
