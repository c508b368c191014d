package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmark-io/smartmark-back/internal/config"
)

func TestDisabledCacheIsNil(t *testing.T) {
	c, err := NewSessionCache(&config.Config{RedisAddr: ""})
	require.Nil(t, err)
	assert.Nil(t, c)
}

// A nil cache must behave as a transparent no-op so callers never branch on
// whether redis is configured.
func TestNilCacheNoOps(t *testing.T) {
	var c *SessionCache

	ctx := context.Background()
	assert.Nil(t, c.Put(ctx, "token", 1, time.Minute))

	userID, err := c.Get(ctx, "token")
	assert.Nil(t, err)
	assert.Zero(t, userID)

	assert.Nil(t, c.Del(ctx, "token"))
	assert.Nil(t, c.Close())
}
