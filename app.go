package main

import (
	"context"
	"fmt"
	"log"

	"calsync/classifier"
	"calsync/feed"
	"calsync/gateway"
	"calsync/lock"
	"calsync/notify"
	"calsync/reconcile"
	"calsync/security"
	"calsync/streams"
	"calsync/synclog"
	"calsync/syncer"
	"calsync/watch"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// App holds the wired components shared by the serve and sync commands.
type App struct {
	Config RuntimeConfig
	Syncer *syncer.Service
	Store  synclog.Store
	Bus    *feed.Bus
	Tokens *security.TokenStore
	Watch  *watch.Registrar

	redis *redis.Client
}

// NewApp wires storage, credentials and the sync service. Without
// REDIS_URL the log store falls back to JSON files and the lock to an
// in-process one.
func NewApp(ctx context.Context, cfg RuntimeConfig) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{Config: cfg}

	var locker lock.Locker
	if cfg.RedisURL != "" {
		client, err := streams.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Println("Connected to Redis")
		app.redis = client
		app.Store = synclog.NewRedisStore(client)
		app.Bus = feed.NewBus(client)
		locker = lock.NewRedisLocker(client)
	} else {
		store, err := synclog.NewFileStore(cfg.LogDir)
		if err != nil {
			return nil, err
		}
		log.Printf("REDIS_URL not set, keeping sync logs in %s", cfg.LogDir)
		app.Store = store
		locker = lock.NewLocalLocker()
	}

	if app.redis != nil && cfg.OAuthConfigured() {
		app.Tokens = security.NewTokenStore(app.redis)
		app.Tokens.ConfigureOAuth(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURL)
	}

	ts, err := app.tokenSource(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	calendarService, err := security.NewCalendarService(ctx, ts)
	if err != nil {
		app.Close()
		return nil, err
	}

	rules, err := classifier.LoadRules(cfg.ClassifierRulePath)
	if err != nil {
		app.Close()
		return nil, err
	}
	engine := reconcile.NewEngine(classifier.New(rules))

	opts := syncer.Options{
		SourceCalendarID: cfg.SourceCalendarID,
		TargetCalendarID: cfg.TargetCalendarID,
		LockTTL:          cfg.LockTTL,
		WindowMonths:     cfg.WindowMonths,
	}
	if app.Bus != nil {
		opts.Publisher = app.Bus
	}
	if cfg.NotifierConfigured() {
		bot, err := notify.NewCallMeBot(notify.CallMeBotConfig{Phone: cfg.WhatsAppPhone, APIKey: cfg.WhatsAppAPIKey})
		if err != nil {
			app.Close()
			return nil, err
		}
		opts.Notifier = bot
	}

	gw := gateway.New(calendarService, gateway.Options{})
	app.Syncer, err = syncer.NewService(gw, engine, app.Store, locker, opts)
	if err != nil {
		app.Close()
		return nil, err
	}
	if app.redis != nil {
		app.Watch = watch.NewRegistrar(app.redis, gw)
	}
	return app, nil
}

func (a *App) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if a.Config.ServiceAccount.Configured() {
		log.Printf("Using service account %s for calendar access", a.Config.ServiceAccount.Email)
		return a.Config.ServiceAccount.TokenSource(ctx)
	}
	if a.Tokens == nil {
		return nil, fmt.Errorf("no calendar credentials: configure a service account, or OAuth with REDIS_URL")
	}
	log.Printf("Using OAuth account %q for calendar access; connect it at /auth/google/login", oauthAccount)
	return a.Tokens.TokenSource(ctx, oauthAccount), nil
}

func (a *App) Close() error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}
