package storage

import (
	"context"
	"errors"
	"fmt"

	"crits/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRegistryStorage reads and seeds the lookup tables the importer
// validates against: campaigns, indicator actions and object types.
type MongoRegistryStorage struct {
	campaigns   Collection
	actions     Collection
	objectTypes Collection
}

// NewMongoRegistryStorage creates the registry repository
func NewMongoRegistryStorage(db *MongoDB) *MongoRegistryStorage {
	return &MongoRegistryStorage{
		campaigns:   db.Collection(CollectionCampaigns),
		actions:     db.Collection(CollectionIndicatorActions),
		objectTypes: db.Collection(CollectionObjectTypes),
	}
}

var activeFilter = bson.M{"active": core.ActionActive}

// ActiveCampaigns lists campaigns that accept new attributions
func (s *MongoRegistryStorage) ActiveCampaigns(ctx context.Context) ([]core.CampaignRecord, error) {
	out := make([]core.CampaignRecord, 0)
	if err := findAll(ctx, s.campaigns, activeFilter, &out); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return out, nil
}

// ActiveIndicatorActions lists the action names analysts may record
func (s *MongoRegistryStorage) ActiveIndicatorActions(ctx context.Context) ([]core.IndicatorActionRecord, error) {
	out := make([]core.IndicatorActionRecord, 0)
	if err := findAll(ctx, s.actions, activeFilter, &out); err != nil {
		return nil, fmt.Errorf("failed to list indicator actions: %w", err)
	}
	return out, nil
}

// IndicatorObjectTypes lists active object types whose values can be
// indicators, excluding enum and file datatypes.
func (s *MongoRegistryStorage) IndicatorObjectTypes(ctx context.Context) ([]core.ObjectTypeRecord, error) {
	filter := bson.M{
		"active":        core.ActionActive,
		"datatype.enum": bson.M{"$ne": true},
		"datatype.file": bson.M{"$ne": true},
	}
	out := make([]core.ObjectTypeRecord, 0)
	if err := findAll(ctx, s.objectTypes, filter, &out); err != nil {
		return nil, fmt.Errorf("failed to list object types: %w", err)
	}
	return out, nil
}

// AddIndicatorAction registers a new action name. ErrRegistryEntryExists is
// returned when the name is already taken.
func (s *MongoRegistryStorage) AddIndicatorAction(ctx context.Context, rec core.IndicatorActionRecord) error {
	var existing core.IndicatorActionRecord
	err := s.actions.FindOne(ctx, bson.M{"name": rec.Name}).Decode(&existing)
	if err == nil {
		return fmt.Errorf("indicator action %q: %w", rec.Name, ErrRegistryEntryExists)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to look up indicator action: %w", err)
	}

	if _, err := s.actions.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("indicator action %q: %w", rec.Name, ErrRegistryEntryExists)
		}
		return fmt.Errorf("failed to insert indicator action: %w", err)
	}
	return nil
}

// UpsertCampaign seeds or updates a campaign entry by name
func (s *MongoRegistryStorage) UpsertCampaign(ctx context.Context, rec core.CampaignRecord) error {
	return upsertByFilter(ctx, s.campaigns, bson.M{"name": rec.Name}, rec)
}

// UpsertIndicatorAction seeds or updates an action entry by name
func (s *MongoRegistryStorage) UpsertIndicatorAction(ctx context.Context, rec core.IndicatorActionRecord) error {
	return upsertByFilter(ctx, s.actions, bson.M{"name": rec.Name}, rec)
}

// UpsertObjectType seeds or updates an object type entry by (type, name)
func (s *MongoRegistryStorage) UpsertObjectType(ctx context.Context, rec core.ObjectTypeRecord) error {
	return upsertByFilter(ctx, s.objectTypes, bson.M{"object_type": rec.ObjectType, "name": rec.Name}, rec)
}

// EnsureIndexes creates the unique name indexes
func (s *MongoRegistryStorage) EnsureIndexes(ctx context.Context) error {
	unique := func(keys bson.D, name string) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true).SetName(name)}
	}
	if _, err := s.campaigns.Indexes().CreateOne(ctx, unique(bson.D{{Key: "name", Value: 1}}, "name_unique")); err != nil {
		return fmt.Errorf("failed to create campaign indexes: %w", err)
	}
	if _, err := s.actions.Indexes().CreateOne(ctx, unique(bson.D{{Key: "name", Value: 1}}, "name_unique")); err != nil {
		return fmt.Errorf("failed to create indicator action indexes: %w", err)
	}
	keys := bson.D{{Key: "object_type", Value: 1}, {Key: "name", Value: 1}}
	if _, err := s.objectTypes.Indexes().CreateOne(ctx, unique(keys, "type_name_unique")); err != nil {
		return fmt.Errorf("failed to create object type indexes: %w", err)
	}
	return nil
}

func findAll(ctx context.Context, coll Collection, filter interface{}, out interface{}) error {
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

func upsertByFilter(ctx context.Context, coll Collection, filter bson.M, doc interface{}) error {
	if _, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert registry entry: %w", err)
	}
	return nil
}
