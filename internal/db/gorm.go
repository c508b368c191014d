package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smartmark-io/smartmark-back/internal/config"
)

type (
	GormForkedModel struct {
		ID        uint64 `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// User is a Google-authenticated principal. GoogleSub is the provider's
	// stable subject identifier; email may change between logins.
	User struct {
		GormForkedModel
		GoogleSub string `gorm:"unique;not null"`
		Email     string `gorm:"not null"`
		Bookmarks []Bookmark
	}

	Bookmark struct {
		GormForkedModel
		Title  string `gorm:"not null"`
		URL    string `gorm:"not null"`
		UserID uint64 `gorm:"not null;index"`
		User   User
	}

	// Session is a server-held login. Token is the opaque value handed to
	// the browser; rows past ExpiresAt are treated as absent.
	Session struct {
		Token     string `gorm:"primarykey"`
		UserID    uint64 `gorm:"not null;index"`
		User      User
		CreatedAt time.Time
		ExpiresAt time.Time `gorm:"not null"`
	}
)

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		Colorful:                  true,
		IgnoreRecordNotFoundError: true,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Bookmark{}); err != nil {
		return errors.Wrap(err, "migrate bookmark")
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return errors.Wrap(err, "migrate session")
	}
	return nil
}
