package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smartmark-io/smartmark-back/internal/cache"
	"github.com/smartmark-io/smartmark-back/internal/config"
	"github.com/smartmark-io/smartmark-back/internal/db"
)

var (
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
)

// sessionCache is the lookaside the gateway consults before the sessions
// table. *cache.SessionCache satisfies it, including as a nil no-op.
type sessionCache interface {
	Put(ctx context.Context, token string, userID uint64, ttl time.Duration) error
	Get(ctx context.Context, token string) (uint64, error)
	Del(ctx context.Context, token string) error
}

// Sessions issues, resolves and revokes login sessions. Lookups go through
// the redis cache first when one is configured.
type Sessions struct {
	db     *gorm.DB
	cache  sessionCache
	logger *zap.SugaredLogger
	ttl    time.Duration
}

func NewSessions(cfg *config.Config, gdb *gorm.DB, c *cache.SessionCache, l *zap.SugaredLogger) *Sessions {
	return &Sessions{
		db:     gdb,
		cache:  c,
		logger: l,
		ttl:    time.Duration(cfg.SessionTTLHours) * time.Hour,
	}
}

// GetOrCreateUser resolves the provider identity to a local user row,
// keyed by the provider's subject identifier.
func (s *Sessions) GetOrCreateUser(ctx context.Context, identity *Identity) (*db.User, error) {
	user := db.User{}
	res := s.db.WithContext(ctx).Where("google_sub = ?", identity.Sub).First(&user)
	if res.Error != nil {
		if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(res.Error, "find user")
		}
		user = db.User{
			GoogleSub: identity.Sub,
			Email:     identity.Email,
		}
		if res := s.db.WithContext(ctx).Create(&user); res.Error != nil {
			return nil, errors.Wrap(res.Error, "create user")
		}
		return &user, nil
	}

	if user.Email != identity.Email {
		if res := s.db.WithContext(ctx).Model(&user).Update("email", identity.Email); res.Error != nil {
			return nil, errors.Wrap(res.Error, "update email")
		}
	}

	return &user, nil
}

func (s *Sessions) Issue(ctx context.Context, user *db.User) (string, error) {
	token := uuid.New().String()
	session := db.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if res := s.db.WithContext(ctx).Create(&session); res.Error != nil {
		return "", errors.Wrap(res.Error, "create session")
	}

	if err := s.cache.Put(ctx, token, user.ID, s.ttl); err != nil {
		s.logger.Warnw("session cache put failed", "err", err)
	}

	return token, nil
}

// Current resolves a token to its user. Expiry is checked on every call so
// a stale token stops working the moment it lapses.
func (s *Sessions) Current(ctx context.Context, token string) (*db.User, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	if userID, err := s.cache.Get(ctx, token); err != nil {
		s.logger.Warnw("session cache get failed", "err", err)
	} else if userID != 0 {
		user := db.User{}
		if res := s.db.WithContext(ctx).First(&user, userID); res.Error == nil {
			return &user, nil
		}
		// Cached id points at a deleted user; fall through to the table.
	}

	session := db.Session{}
	res := s.db.WithContext(ctx).Where("token = ?", token).First(&session)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoSession
		}
		return nil, errors.Wrap(res.Error, "find session")
	}

	remaining := time.Until(session.ExpiresAt)
	if remaining <= 0 {
		if err := s.Revoke(ctx, token); err != nil {
			s.logger.Warnw("revoke expired session failed", "err", err)
		}
		return nil, ErrSessionExpired
	}

	if err := s.cache.Put(ctx, token, session.UserID, remaining); err != nil {
		s.logger.Warnw("session cache put failed", "err", err)
	}

	user := db.User{}
	if res := s.db.WithContext(ctx).First(&user, session.UserID); res.Error != nil {
		return nil, errors.Wrap(res.Error, "find session user")
	}

	return &user, nil
}

func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if res := s.db.WithContext(ctx).Delete(&db.Session{}, "token = ?", token); res.Error != nil {
		return errors.Wrap(res.Error, "delete session")
	}
	if err := s.cache.Del(ctx, token); err != nil {
		s.logger.Warnw("session cache del failed", "err", err)
	}
	return nil
}
