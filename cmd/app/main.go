package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smartmark-io/smartmark-back/internal/auth"
	"github.com/smartmark-io/smartmark-back/internal/cache"
	"github.com/smartmark-io/smartmark-back/internal/config"
	"github.com/smartmark-io/smartmark-back/internal/db"
	"github.com/smartmark-io/smartmark-back/internal/service"
	"github.com/smartmark-io/smartmark-back/internal/transport"
)

func main() {
	// Deployment glue only; missing .env is fine.
	_ = godotenv.Load()

	app := fx.New(
		fx.Provide(
			config.NewConfig,
			NewLogger,
			db.NewGormClient,
			cache.NewSessionCache,
			auth.NewGoogleProvider,
			auth.NewSessions,
			service.NewBookmarks,
			transport.NewHTTPServer,
		),
		fx.Invoke(func(*transport.HTTPServer) {}),
	)

	app.Run()
}

func NewLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
