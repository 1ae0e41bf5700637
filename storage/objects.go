package storage

import (
	"context"
	"errors"
	"fmt"

	"crits/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// objectCollections maps top-level object types to their collections
var objectCollections = map[string]string{
	"Actor":       "actors",
	"Backdoor":    "backdoors",
	"Campaign":    CollectionCampaigns,
	"Certificate": "certificates",
	"Domain":      CollectionDomains,
	"Email":       "email",
	"Event":       "events",
	"Exploit":     "exploits",
	"Indicator":   CollectionIndicators,
	"IP":          CollectionIPs,
	"PCAP":        "pcaps",
	"RawData":     "raw_data",
	"Sample":      "sample",
	"Signature":   "signatures",
	"Target":      "targets",
}

// MongoObjectStorage reads and relates arbitrary top-level objects. Only the
// shared fields are mapped, so writes are partial updates rather than
// document replacement.
type MongoObjectStorage struct {
	coll func(name string) Collection
}

// NewMongoObjectStorage creates the generic object repository
func NewMongoObjectStorage(db *MongoDB) *MongoObjectStorage {
	return &MongoObjectStorage{coll: db.Collection}
}

func (s *MongoObjectStorage) collectionFor(objectType string) (Collection, error) {
	name, ok := objectCollections[objectType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", objectType, ErrUnsupportedObjectType)
	}
	return s.coll(name), nil
}

// Get loads the shared view of an object
func (s *MongoObjectStorage) Get(ctx context.Context, objectType, id string) (*core.Object, error) {
	coll, err := s.collectionFor(objectType)
	if err != nil {
		return nil, err
	}

	var obj core.Object
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&obj); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to find %s: %w", objectType, err)
	}
	obj.ObjectType = objectType
	return &obj, nil
}

// SaveRelationships writes back the relationship list of an object
func (s *MongoObjectStorage) SaveRelationships(ctx context.Context, obj *core.Object) error {
	coll, err := s.collectionFor(obj.ObjectType)
	if err != nil {
		return err
	}

	result, err := coll.UpdateOne(ctx, bson.M{"_id": obj.ID}, bson.M{"$set": bson.M{"relationships": obj.Relationships}})
	if err != nil {
		return fmt.Errorf("failed to update %s relationships: %w", obj.ObjectType, err)
	}
	if result.MatchedCount == 0 {
		return ErrObjectNotFound
	}
	return nil
}

// RemoveRelationshipsTo pulls every edge pointing at the given object from
// the listed related objects.
func (s *MongoObjectStorage) RemoveRelationshipsTo(ctx context.Context, target core.Relatable, related []core.Relationship) error {
	for _, rel := range related {
		coll, err := s.collectionFor(rel.ObjectType)
		if err != nil {
			return err
		}
		_, err = coll.UpdateOne(ctx,
			bson.M{"_id": rel.ObjectID},
			bson.M{"$pull": bson.M{"relationships": bson.M{"type": target.RefType(), "value": target.RefID()}}})
		if err != nil {
			return fmt.Errorf("failed to detach %s %s: %w", rel.ObjectType, rel.ObjectID, err)
		}
	}
	return nil
}
