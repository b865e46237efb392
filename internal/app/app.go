package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookswap/internal/store"
	"bookswap/pkg/storage"
)

// Enqueuer publishes exchange ids for asynchronous history reconciliation.
type Enqueuer interface {
	Enqueue(ctx context.Context, exchangeID string) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	JWTSecret      string
	SessionTTL     time.Duration
	CoverURLTTL    time.Duration
	ChatFullThread bool

	Store     store.Store
	Sessions  store.SessionStore
	Covers    storage.CoverStore
	Reconcile Enqueuer
}

// App is the core application service wiring storage, sessions, object
// storage and the reconcile queue together. It is transport-free; the HTTP
// layer lives in internal/server.
type App struct {
	store          store.Store
	sessions       store.SessionStore
	covers         storage.CoverStore
	reconcile      Enqueuer
	coverURLTTL    time.Duration
	chatFullThread bool
}

// New constructs the application. Store and Sessions fall back to Postgres
// and HS256 JWTs when not injected; Covers and Reconcile stay nil when not
// configured and the dependent features degrade accordingly.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 3 * time.Hour
	}
	if cfg.CoverURLTTL <= 0 {
		cfg.CoverURLTTL = 15 * time.Minute
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("jwt secret required")
		}
		sessionStore = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
	}

	return &App{
		store:          dataStore,
		sessions:       sessionStore,
		covers:         cfg.Covers,
		reconcile:      cfg.Reconcile,
		coverURLTTL:    cfg.CoverURLTTL,
		chatFullThread: cfg.ChatFullThread,
	}, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}
