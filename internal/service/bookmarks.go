package service

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smartmark-io/smartmark-back/internal/db"
)

var (
	ErrEmptyTitle       = errors.New("title must not be empty")
	ErrInvalidURL       = errors.New("url must be absolute, including the scheme (https://...)")
	ErrNotFound         = errors.New("bookmark not found")
	ErrMutationInFlight = errors.New("another change to this bookmark is already in flight")
)

type Bookmarks struct {
	db     *gorm.DB
	logger *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[uint64]struct{}
}

func NewBookmarks(gdb *gorm.DB, l *zap.SugaredLogger) *Bookmarks {
	return &Bookmarks{
		db:       gdb,
		logger:   l,
		inFlight: make(map[uint64]struct{}),
	}
}

// ValidateURL enforces the local pre-flight check: absolute URL with a
// scheme and host, rejected before anything touches the store.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// Filter returns the bookmarks whose title contains the query,
// case-insensitively. URLs are not searched. An empty query returns the
// input unchanged.
func Filter(bookmarks []db.Bookmark, query string) []db.Bookmark {
	if query == "" {
		return bookmarks
	}
	q := strings.ToLower(query)
	out := make([]db.Bookmark, 0, len(bookmarks))
	for i := range bookmarks {
		if strings.Contains(strings.ToLower(bookmarks[i].Title), q) {
			out = append(out, bookmarks[i])
		}
	}
	return out
}

// List returns the user's bookmarks, newest first.
func (s *Bookmarks) List(ctx context.Context, user *db.User) ([]db.Bookmark, error) {
	sql, args, err := squirrel.
		Select("id", "title", "url", "user_id", "created_at").
		From("bookmarks").
		Where(squirrel.Eq{"user_id": user.ID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	bookmarks := make([]db.Bookmark, 0)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&bookmarks)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	return bookmarks, nil
}

func (s *Bookmarks) Create(ctx context.Context, user *db.User, title, link string) (*db.Bookmark, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	if err := ValidateURL(link); err != nil {
		return nil, err
	}

	model := db.Bookmark{
		Title:  title,
		URL:    link,
		UserID: user.ID,
	}
	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "create bookmark")
	}

	return &model, nil
}

// Update rewrites title and url in place. The id, owner and creation time
// never change, and the row must belong to the calling user.
func (s *Bookmarks) Update(ctx context.Context, user *db.User, id uint64, title, link string) (*db.Bookmark, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	if err := ValidateURL(link); err != nil {
		return nil, err
	}

	if !s.begin(id) {
		return nil, ErrMutationInFlight
	}
	defer s.end(id)

	res := s.db.WithContext(ctx).
		Model(&db.Bookmark{}).
		Where("id = ? AND user_id = ?", id, user.ID).
		Updates(map[string]interface{}{"title": title, "url": link})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update bookmark")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	model := db.Bookmark{}
	if res := s.db.WithContext(ctx).First(&model, id); res.Error != nil {
		return nil, errors.Wrap(res.Error, "reload bookmark")
	}

	return &model, nil
}

// Delete reports ErrNotFound for an absent or foreign row; callers that
// want idempotent deletes treat that as success.
func (s *Bookmarks) Delete(ctx context.Context, user *db.User, id uint64) error {
	if !s.begin(id) {
		return ErrMutationInFlight
	}
	defer s.end(id)

	res := s.db.WithContext(ctx).Where("user_id = ?", user.ID).Delete(&db.Bookmark{}, id)
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete bookmark")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// begin marks the record as having a mutation in flight. At most one
// mutation per bookmark id may run at a time.
func (s *Bookmarks) begin(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Bookmarks) end(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
