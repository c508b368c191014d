package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartmark-io/smartmark-back/internal/config"
	"github.com/smartmark-io/smartmark-back/internal/db"
)

func newTestSessions(t *testing.T) (*Sessions, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.Nil(t, err)
	require.Nil(t, db.Migrate(gdb))

	cfg := &config.Config{SessionTTLHours: 1}
	return NewSessions(cfg, gdb, nil, zap.NewNop().Sugar()), gdb
}

func TestGetOrCreateUser(t *testing.T) {
	s, _ := newTestSessions(t)

	first, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)
	assert.NotZero(t, first.ID)

	// Same subject resolves to the same row, with the email refreshed.
	second, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "b@gmail.com"})
	require.Nil(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "b@gmail.com", second.Email)
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestSessions(t)

	user, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)

	token, err := s.Issue(context.Background(), user)
	require.Nil(t, err)
	require.NotEmpty(t, token)

	got, err := s.Current(context.Background(), token)
	require.Nil(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "a@gmail.com", got.Email)

	require.Nil(t, s.Revoke(context.Background(), token))

	_, err = s.Current(context.Background(), token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCurrentWithoutToken(t *testing.T) {
	s, _ := newTestSessions(t)

	_, err := s.Current(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = s.Current(context.Background(), "unknown-token")
	assert.ErrorIs(t, err, ErrNoSession)
}

// fakeCache stands in for the redis lookaside.
type fakeCache struct {
	entries map[string]uint64
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]uint64{}}
}

func (f *fakeCache) Put(_ context.Context, token string, userID uint64, _ time.Duration) error {
	f.entries[token] = userID
	return nil
}

func (f *fakeCache) Get(_ context.Context, token string) (uint64, error) {
	return f.entries[token], nil
}

func (f *fakeCache) Del(_ context.Context, token string) error {
	delete(f.entries, token)
	return nil
}

func newCachedSessions(t *testing.T) (*Sessions, *gorm.DB, *fakeCache) {
	t.Helper()

	s, gdb := newTestSessions(t)
	fake := newFakeCache()
	s.cache = fake
	return s, gdb, fake
}

func TestSessionCacheHit(t *testing.T) {
	s, gdb, fake := newCachedSessions(t)

	user, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)

	token, err := s.Issue(context.Background(), user)
	require.Nil(t, err)
	assert.Equal(t, user.ID, fake.entries[token])

	// Remove the backing row; a cached token must still resolve without it.
	require.Nil(t, gdb.Delete(&db.Session{}, "token = ?", token).Error)

	got, err := s.Current(context.Background(), token)
	require.Nil(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestSessionCacheMissFallsThrough(t *testing.T) {
	s, _, fake := newCachedSessions(t)

	user, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)

	token, err := s.Issue(context.Background(), user)
	require.Nil(t, err)
	require.Nil(t, fake.Del(context.Background(), token))

	got, err := s.Current(context.Background(), token)
	require.Nil(t, err)
	assert.Equal(t, user.ID, got.ID)

	// The table lookup refilled the cache.
	assert.Equal(t, user.ID, fake.entries[token])
}

func TestSessionCacheStaleUserFallsThrough(t *testing.T) {
	s, _, fake := newCachedSessions(t)

	user, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)

	token, err := s.Issue(context.Background(), user)
	require.Nil(t, err)

	// A cached id pointing at a vanished user must not serve; the sessions
	// table is the fallback.
	fake.entries[token] = 999

	got, err := s.Current(context.Background(), token)
	require.Nil(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, user.ID, fake.entries[token])
}

func TestRevokeClearsCache(t *testing.T) {
	s, _, fake := newCachedSessions(t)

	user, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)

	token, err := s.Issue(context.Background(), user)
	require.Nil(t, err)
	require.Nil(t, s.Revoke(context.Background(), token))

	_, cached := fake.entries[token]
	assert.False(t, cached)

	_, err = s.Current(context.Background(), token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestExpiredSession(t *testing.T) {
	s, gdb := newTestSessions(t)

	user, err := s.GetOrCreateUser(context.Background(), &Identity{Sub: "sub-1", Email: "a@gmail.com"})
	require.Nil(t, err)

	stale := db.Session{
		Token:     "stale-token",
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.Nil(t, gdb.Create(&stale).Error)

	_, err = s.Current(context.Background(), "stale-token")
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The expired row was revoked; the token now reads as absent.
	_, err = s.Current(context.Background(), "stale-token")
	assert.ErrorIs(t, err, ErrNoSession)
}
