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
	"go.uber.org/zap"
)

// IndicatorFilter selects indicators for a confidence/impact search. Empty
// slices and strings do not constrain the query.
type IndicatorFilter struct {
	Type        string
	Confidence  []string
	Impact      []string
	ActionTypes []string
	Sources     []string
}

// MongoIndicatorStorage persists indicators in a single collection with a
// unique (type, value) index.
type MongoIndicatorStorage struct {
	coll   Collection
	logger *zap.SugaredLogger
}

// NewMongoIndicatorStorage creates the indicator repository
func NewMongoIndicatorStorage(db *MongoDB, logger *zap.SugaredLogger) *MongoIndicatorStorage {
	return newMongoIndicatorStorage(db.Collection(CollectionIndicators), logger)
}

func newMongoIndicatorStorage(coll Collection, logger *zap.SugaredLogger) *MongoIndicatorStorage {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoIndicatorStorage{coll: coll, logger: logger}
}

// FindByTypeValue looks up an indicator by its exact identity
func (s *MongoIndicatorStorage) FindByTypeValue(ctx context.Context, indType, value string) (*core.Indicator, error) {
	return s.findOne(ctx, bson.M{"type": indType, "value": value})
}

// FindByID looks up an indicator visible through at least one of sources.
// An empty source list never matches.
func (s *MongoIndicatorStorage) FindByID(ctx context.Context, id string, sources []string) (*core.Indicator, error) {
	if len(sources) == 0 {
		return nil, ErrIndicatorNotFound
	}
	return s.findOne(ctx, bson.M{"_id": id, "source.name": bson.M{"$in": sources}})
}

// Get looks up an indicator regardless of source visibility
func (s *MongoIndicatorStorage) Get(ctx context.Context, id string) (*core.Indicator, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoIndicatorStorage) findOne(ctx context.Context, filter bson.M) (*core.Indicator, error) {
	var ind core.Indicator
	if err := s.coll.FindOne(ctx, filter).Decode(&ind); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrIndicatorNotFound
		}
		return nil, fmt.Errorf("failed to find indicator: %w", err)
	}
	return &ind, nil
}

// Save writes the full indicator document, inserting it when absent. A
// collision on (type, value) with a different document is reported as
// ErrDuplicateIndicator.
func (s *MongoIndicatorStorage) Save(ctx context.Context, ind *core.Indicator) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": ind.ID}, ind, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s %q: %w", ind.Type, ind.Value, ErrDuplicateIndicator)
		}
		return fmt.Errorf("failed to save indicator: %w", err)
	}
	return nil
}

// Delete removes an indicator by ID
func (s *MongoIndicatorStorage) Delete(ctx context.Context, id string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete indicator: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrIndicatorNotFound
	}
	return nil
}

// Search returns indicators matching the filter with a reduced projection
func (s *MongoIndicatorStorage) Search(ctx context.Context, f IndicatorFilter) ([]*core.Indicator, error) {
	opts := options.Find().SetProjection(bson.M{
		"type":       1,
		"value":      1,
		"confidence": 1,
		"impact":     1,
		"actions":    1,
	})

	cursor, err := s.coll.Find(ctx, buildIndicatorQuery(f), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search indicators: %w", err)
	}
	defer cursor.Close(ctx)

	results := make([]*core.Indicator, 0)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode indicators: %w", err)
	}
	return results, nil
}

func buildIndicatorQuery(f IndicatorFilter) bson.M {
	query := bson.M{}
	if t := strings.TrimSpace(f.Type); t != "" {
		query["type"] = t
	}
	if len(f.Confidence) > 0 {
		query["confidence.rating"] = bson.M{"$in": f.Confidence}
	}
	if len(f.Impact) > 0 {
		query["impact.rating"] = bson.M{"$in": f.Impact}
	}
	if len(f.ActionTypes) > 0 {
		query["actions.action_type"] = bson.M{"$in": f.ActionTypes}
	}
	if len(f.Sources) > 0 {
		query["source.name"] = bson.M{"$in": f.Sources}
	}
	return query
}

// FindRefs resolves indicator IDs to their identity view
func (s *MongoIndicatorStorage) FindRefs(ctx context.Context, ids []string) ([]*core.IndicatorRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	opts := options.Find().SetProjection(bson.M{"type": 1, "value": 1})
	cursor, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find related indicators: %w", err)
	}
	defer cursor.Close(ctx)

	var found []core.Indicator
	if err := cursor.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("failed to decode related indicators: %w", err)
	}

	refs := make([]*core.IndicatorRef, 0, len(found))
	for i := range found {
		refs = append(refs, found[i].Ref())
	}
	return refs, nil
}

// EnsureIndexes creates the identity and source indexes
func (s *MongoIndicatorStorage) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("type_value_unique"),
		},
		{
			Keys:    bson.D{{Key: "source.name", Value: 1}},
			Options: options.Index().SetName("source_name"),
		},
		{
			Keys:    bson.D{{Key: "confidence.rating", Value: 1}, {Key: "impact.rating", Value: 1}},
			Options: options.Index().SetName("ci_rating"),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create indicator indexes: %w", err)
	}
	s.logger.Infow("Indicator indexes ensured", "collection", CollectionIndicators)
	return nil
}
