//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"crits/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const (
	mongoImage            = "mongo:7"
	mongoPort             = "27017/tcp"
	testDatabaseName      = "crits_integration_test"
	containerStartTimeout = 120 * time.Second
)

// setupMongo starts a throwaway MongoDB and returns a connected handle
func setupMongo(t *testing.T) *MongoDB {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mongoImage,
			ExposedPorts: []string{mongoPort},
			WaitingFor:   wait.ForListeningPort(mongoPort).WithStartupTimeout(containerStartTimeout),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start MongoDB container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate MongoDB container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	db, err := NewMongoDB(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), testDatabaseName, 10, 0, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func TestIntegration_IndicatorUniqueIdentity(t *testing.T) {
	db := setupMongo(t)
	ctx := context.Background()
	s := NewMongoIndicatorStorage(db, zap.NewNop().Sugar())
	require.NoError(t, db.EnsureIndexes(ctx, s))

	first := core.NewIndicator(core.IndicatorTypeDomainName, "example.com", "alice", time.Now())
	first.AddSource(core.Source{Name: "OSINT"})
	require.NoError(t, s.Save(ctx, first))

	// Saving the same record again is an update, not a collision
	first.MergeConfidence(core.RatingHigh, "alice")
	require.NoError(t, s.Save(ctx, first))

	second := core.NewIndicator(core.IndicatorTypeDomainName, "example.com", "bob", time.Now())
	err := s.Save(ctx, second)
	assert.True(t, errors.Is(err, ErrDuplicateIndicator), "expected duplicate, got %v", err)

	got, err := s.FindByTypeValue(ctx, core.IndicatorTypeDomainName, "example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, core.RatingHigh, got.Confidence.Rating)

	_, err = s.FindByID(ctx, first.ID, []string{"Partner"})
	assert.Equal(t, ErrIndicatorNotFound, err)
	_, err = s.FindByID(ctx, first.ID, []string{"OSINT"})
	assert.NoError(t, err)
}

func TestIntegration_SearchAndSubscriptions(t *testing.T) {
	db := setupMongo(t)
	ctx := context.Background()
	s := NewMongoIndicatorStorage(db, zap.NewNop().Sugar())
	users := NewMongoUserStorage(db)
	require.NoError(t, db.EnsureIndexes(ctx, s, users))

	ind := core.NewIndicator("Email - Subject", "invoice", "alice", time.Now())
	ind.MergeImpact(core.RatingMedium, "alice")
	ind.AddAction(core.Action{ActionType: "Blocked", Active: core.ActionActive, Date: time.Now()})
	require.NoError(t, s.Save(ctx, ind))

	found, err := s.Search(ctx, IndicatorFilter{Impact: []string{"medium", "high"}, ActionTypes: []string{"Blocked"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "invoice", found[0].Value)

	require.NoError(t, users.SaveUser(ctx, &User{Username: "alice", Role: RoleAdministrator, Sources: []SourceAccess{{Name: "OSINT"}}}))
	sources, err := users.VisibleSources(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"OSINT"}, sources)
}
