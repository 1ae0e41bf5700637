package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := WithRequestID(WithUsername(context.Background(), "alice"), "req-1")

	username, ok := GetUsername(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", username)

	id, ok := GetRequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
}

// A plain string key must not shadow the typed analyst key
func TestContextKeyCollisionPrevention(t *testing.T) {
	ctx := WithUsername(context.Background(), "alice")
	//nolint:staticcheck // deliberately colliding key
	ctx = context.WithValue(ctx, "username", "mallory")

	username, ok := GetUsername(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", username)

	_, ok = GetUsername(WithUsername(context.Background(), ""))
	assert.False(t, ok, "empty analyst is treated as absent")
}
