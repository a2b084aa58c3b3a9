package setup

import (
	"errors"

	"github.com/itchan-dev/itchat/backend/internal/handler"
	"github.com/itchan-dev/itchat/backend/internal/service"
	"github.com/itchan-dev/itchat/backend/internal/storage/fs"
	"github.com/itchan-dev/itchat/backend/internal/storage/pg"
	"github.com/itchan-dev/itchat/shared/config"
	jwt_internal "github.com/itchan-dev/itchat/shared/jwt"
	mw "github.com/itchan-dev/itchat/shared/middleware"
	"github.com/itchan-dev/itchat/shared/middleware/ratelimiter"
)

// Dependencies struct to hold all initialized dependencies.
type Dependencies struct {
	Config      *config.Config
	Storage     *pg.Storage
	Media       *fs.Storage
	Feed        *pg.ChangeFeed
	Registry    *service.Registry
	Handler     *handler.Handler
	Jwt         jwt_internal.JwtService
	Auth        *mw.Auth
	SendLimiter *ratelimiter.Limiter
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(cfg *config.Config) (*Dependencies, error) {
	storage, err := pg.New(cfg)
	if err != nil {
		return nil, err
	}

	feed, err := pg.NewChangeFeed(cfg.Private.Pg)
	if err != nil {
		storage.Cleanup()
		return nil, err
	}

	media, err := fs.New(cfg.Public.MediaRoot, cfg.Public.MediaURLPrefix)
	if err != nil {
		feed.Close()
		storage.Cleanup()
		return nil, err
	}
	jwt := jwt_internal.New(cfg.JwtKey(), cfg.JwtTTL())

	registry := service.NewRegistry(service.Deps{
		Storage: storage,
		Media:   media,
		Feed:    feed,
	}, service.ConfigFrom(cfg.Public))

	h := handler.New(handler.FromRegistry(registry), handler.Checks{
		"store":       storage,
		"change_feed": feed,
	}, cfg)

	return &Dependencies{
		Config:      cfg,
		Storage:     storage,
		Media:       media,
		Feed:        feed,
		Registry:    registry,
		Handler:     h,
		Jwt:         jwt,
		Auth:        mw.NewAuth(jwt),
		SendLimiter: ratelimiter.PerMinute(cfg.Public.SendRatePerMinute),
	}, nil
}

// Cleanup stops sessions before the feed and pool they depend on.
func (d *Dependencies) Cleanup() error {
	d.SendLimiter.Stop()
	d.Registry.Close()
	return errors.Join(d.Feed.Close(), d.Storage.Cleanup())
}
