package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"crits/config"
	"crits/storage"

	"go.uber.org/zap"
)

const indexTimeout = 30 * time.Second

// StorageComponents holds the MongoDB connection and every repository
type StorageComponents struct {
	Mongo         *storage.MongoDB
	Indicators    *storage.MongoIndicatorStorage
	Domains       *storage.MongoDomainStorage
	IPs           *storage.MongoIPStorage
	Objects       *storage.MongoObjectStorage
	Registries    *storage.MongoRegistryStorage
	Users         *storage.MongoUserStorage
	Notifications *storage.MongoNotificationStorage
}

// InitStorage connects to MongoDB, builds the repositories and ensures their indexes
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	host := mongoHost(cfg.MongoDB.URI)
	sugar.Infow("Connecting to MongoDB", "host", host, "database", cfg.MongoDB.Database)

	db, err := storage.NewMongoDB(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, cfg.MongoDB.ConnectTimeout, sugar)
	if err != nil {
		sugar.Error(ClassifyConnectionError(err, "MongoDB", host))
		return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	sc := &StorageComponents{
		Mongo:         db,
		Indicators:    storage.NewMongoIndicatorStorage(db, sugar),
		Domains:       storage.NewMongoDomainStorage(db),
		IPs:           storage.NewMongoIPStorage(db),
		Objects:       storage.NewMongoObjectStorage(db),
		Registries:    storage.NewMongoRegistryStorage(db),
		Users:         storage.NewMongoUserStorage(db),
		Notifications: storage.NewMongoNotificationStorage(db),
	}

	indexCtx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()
	if err := db.EnsureIndexes(indexCtx,
		sc.Indicators, sc.Domains, sc.IPs, sc.Registries, sc.Users, sc.Notifications,
	); err != nil {
		_ = db.Close(context.Background())
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	sugar.Info("MongoDB indexes ensured")

	return sc, nil
}

// Close disconnects from MongoDB
func (sc *StorageComponents) Close(ctx context.Context) error {
	if sc == nil || sc.Mongo == nil {
		return nil
	}
	return sc.Mongo.Close(ctx)
}

// mongoHost returns the host part of a MongoDB URI, never the credentials
func mongoHost(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
