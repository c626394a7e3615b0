package cli

import (
	"context"
	"fmt"
	"sync/atomic"

	"slotbook/internal/apiclient"
	"slotbook/internal/apperr"
	"slotbook/internal/backend"
	"slotbook/internal/booking"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/session"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the wired booking core for the commands.
type App struct {
	Config  *config.Config
	Logger  *zerolog.Logger
	Events  *events.EventBus
	Backend backend.Backend
	Session *session.Manager

	// Client is nil when running against the in-process stub.
	Client *apiclient.Client
	// Stub is set only when stub.enabled is true.
	Stub *backend.Stub

	providers atomic.Pointer[config.ProvidersConfig]
	db        *database.DB
	rdb       *redis.Client
}

// NewApp wires the core from configuration and restores any saved session.
func NewApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	providers, err := config.LoadProvidersConfig(cfg.Booking.ProvidersPath)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Events: events.NewEventBus()}
	app.providers.Store(providers)
	app.logEvents()

	var (
		auth  session.Authenticator
		store session.Store
	)
	if cfg.Stub.Enabled {
		list, err := providers.Models()
		if err != nil {
			return nil, err
		}
		stub := backend.NewStub(list, nil)
		for user, password := range cfg.Stub.Users {
			stub.AddUser(user, password)
		}
		app.Stub = stub
		auth, store = stub, session.NewMemoryStore()
	} else {
		db, err := database.NewDB(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		app.db = db
		store = database.NewCredentialStore(db)

		client, err := apiclient.NewClient(cfg.API.Endpoints, apiclient.Options{
			ProbeTimeout:      cfg.ProbeTimeout(),
			RequestTimeout:    cfg.RequestTimeout(),
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			Burst:             cfg.API.Burst,
			Breaker: apiclient.BreakerSettings{
				FailureThreshold: cfg.API.BreakerFailures,
				OpenTimeout:      cfg.BreakerOpenTimeout(),
			},
			Events: app.Events,
		}, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		api := apiclient.NewAPI(client)
		if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
			app.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			api.UseRedisCache(app.rdb, cfg.CacheTTL())
		}
		app.Client, app.Backend = client, api
		auth = api
	}

	app.Session = session.NewManager(auth, store, session.ManagerOptions{
		RefreshTimeout: cfg.RefreshTimeout(),
		Events:         app.Events,
	}, logger)
	if app.Client != nil {
		app.Client.UseSession(app.Session)
	}
	if app.Stub != nil {
		app.Backend = app.Stub.As(app.Session.UserID)
	}
	if ok, err := app.Session.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("restore session failed")
	} else if ok {
		logger.Debug().Str("user_id", app.Session.UserID()).Msg("using saved session")
	}
	return app, nil
}

// Close releases storage and cache connections.
func (a *App) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// Providers returns the current provider catalog.
func (a *App) Providers() *config.ProvidersConfig {
	return a.providers.Load()
}

// SetProviders swaps the provider catalog, used by the file watcher.
func (a *App) SetProviders(cfg *config.ProvidersConfig) {
	a.providers.Store(cfg)
}

// Provider returns the provider with the given id.
func (a *App) Provider(id string) (models.Provider, error) {
	p, err := a.Providers().Provider(id)
	if err != nil {
		return models.Provider{}, apperr.Wrap(apperr.KindValidation, "cli.provider", err)
	}
	return p, nil
}

// EnsureLogin logs in with the given credentials unless a session exists.
func (a *App) EnsureLogin(ctx context.Context, user, password string) error {
	if a.Session.Authenticated() {
		return nil
	}
	if user == "" {
		return apperr.New(apperr.KindUnauthenticated, "cli.login", "not logged in, run 'slotbook login' or pass --user")
	}
	return a.Session.Login(ctx, user, password)
}

// Workflow starts a booking workflow for the provider.
func (a *App) Workflow(p models.Provider) (*booking.Workflow, error) {
	return booking.New(p, booking.Deps{
		Backend: a.Backend,
		Session: a.Session,
		Events:  a.Events,
		Logger:  a.Logger,
	})
}

// Operations returns the one-shot booking operations.
func (a *App) Operations() *booking.Operations {
	return booking.NewOperations(a.Backend, a.Events, nil, a.Logger)
}

// FindBooking looks a booking up by id in the caller's list for role.
func (a *App) FindBooking(ctx context.Context, role backend.Role, id string) (*models.Booking, error) {
	list, err := a.Backend.ListBookings(ctx, role)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, apperr.New(apperr.KindValidation, "cli.find_booking", fmt.Sprintf("booking %s not found", id))
}

func (a *App) logEvents() {
	for _, t := range []string{
		events.BookingPending,
		events.BookingConfirmed,
		events.BookingRolledBack,
		events.BookingUpdated,
		events.SessionEnded,
		events.EndpointSwitched,
	} {
		a.Events.Subscribe(t, func(e events.Event) error {
			a.Logger.Debug().Str("event", e.Type).Str("payload", string(e.Payload)).Msg("event")
			return nil
		})
	}
}
