package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/events"
	"slotbook/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 15 * time.Second

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	RefreshTimeout time.Duration
	Events         *events.EventBus
}

// Manager is the only owner of the session credentials. At most one refresh
// runs at a time; concurrent rejections wait on it.
type Manager struct {
	auth    Authenticator
	store   Store
	bus     *events.EventBus
	logger  *zerolog.Logger
	timeout time.Duration

	mu    sync.RWMutex
	creds *Credentials
	group singleflight.Group
}

// NewManager constructs a manager with no active session.
func NewManager(auth Authenticator, store Store, opts ManagerOptions, logger *zerolog.Logger) *Manager {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		auth:    auth,
		store:   store,
		bus:     opts.Events,
		logger:  logger,
		timeout: opts.RefreshTimeout,
	}
}

// Restore loads persisted credentials, if any.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	creds, err := m.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if creds == nil || creds.AccessToken == "" {
		return false, nil
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	m.logger.Debug().Str("user_id", creds.UserID).Msg("session restored")
	return true, nil
}

// Login authenticates and starts a new session.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	creds, err := m.auth.Login(ctx, username, password)
	if err != nil {
		return apperr.Classify("session.login", err)
	}
	if creds == nil || creds.AccessToken == "" {
		return apperr.New(apperr.KindAuthFailure, "session.login", "empty credentials in login response")
	}
	m.establish(ctx, creds)
	m.logger.Info().Str("user_id", creds.UserID).Msg("logged in")
	return nil
}

// Logout ends the session remotely (best effort) and clears local state.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	cur := m.creds
	m.mu.RUnlock()
	if cur == nil {
		return nil
	}

	if err := m.auth.Logout(ctx, *cur); err != nil {
		m.logger.Warn().Err(err).Msg("remote logout failed")
	}
	return m.teardown(ctx, "logout")
}

// Authenticated reports whether a session exists.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds != nil
}

// UserID returns the last-known user identity.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.UserID
}

// Authorize attaches the current access token and returns it.
func (m *Manager) Authorize(req *http.Request) (string, error) {
	m.mu.RLock()
	cur := m.creds
	m.mu.RUnlock()
	if cur == nil {
		return "", apperr.New(apperr.KindUnauthenticated, "session.authorize", "no active session")
	}
	req.Header.Set("Authorization", "Bearer "+cur.AccessToken)
	return cur.AccessToken, nil
}

// HandleRejection recovers from a credential rejection of a request sent
// with usedToken. It refreshes at most once and calls resend at most once.
func (m *Manager) HandleRejection(ctx context.Context, usedToken string, resend func(ctx context.Context) error) error {
	if err := m.refresh(ctx, usedToken); err != nil {
		return err
	}

	err := resend(ctx)
	if errors.Is(err, ErrRejected) {
		if tdErr := m.teardown(ctx, "rejected after refresh"); tdErr != nil {
			m.logger.Error().Err(tdErr).Msg("failed to clear session")
		}
		return apperr.New(apperr.KindAuthFailure, "session.retry", "credentials rejected after refresh")
	}
	return err
}

func (m *Manager) refresh(ctx context.Context, usedToken string) error {
	ch := m.group.DoChan("refresh", func() (any, error) {
		return nil, m.doRefresh(usedToken)
	})

	select {
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindTimeout, "session.refresh", ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

// doRefresh runs inside the single flight.
func (m *Manager) doRefresh(usedToken string) error {
	m.mu.RLock()
	cur := m.creds
	m.mu.RUnlock()

	if cur == nil {
		return apperr.New(apperr.KindAuthFailure, "session.refresh", "session ended")
	}
	if cur.AccessToken != usedToken {
		// Another caller already refreshed.
		return nil
	}

	// Detached from any single caller so one cancellation does not fail the waiters.
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	next, err := m.auth.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if !irrecoverable(err) {
			metrics.IncTokenRefresh("error")
			m.logger.Warn().Err(err).Msg("token refresh failed, keeping session")
			return apperr.Classify("session.refresh", err)
		}
		metrics.IncTokenRefresh("rejected")
		m.logger.Warn().Err(err).Msg("token refresh rejected")
		if tdErr := m.teardown(ctx, "refresh rejected"); tdErr != nil {
			m.logger.Error().Err(tdErr).Msg("failed to clear session")
		}
		return apperr.Wrap(apperr.KindAuthFailure, "session.refresh", err)
	}
	if next == nil || next.AccessToken == "" {
		metrics.IncTokenRefresh("rejected")
		if tdErr := m.teardown(ctx, "empty refresh response"); tdErr != nil {
			m.logger.Error().Err(tdErr).Msg("failed to clear session")
		}
		return apperr.New(apperr.KindAuthFailure, "session.refresh", "empty credentials in refresh response")
	}

	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.UserID == "" {
		next.UserID = cur.UserID
	}
	m.establish(ctx, next)
	metrics.IncTokenRefresh("ok")
	m.logger.Debug().Msg("token refreshed")
	return nil
}

// irrecoverable reports whether a refresh error means the refresh token is
// no longer usable. Network, Timeout and Server errors say nothing about the
// token, so the session is kept and the next rejection refreshes again.
func irrecoverable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindAuthFailure, apperr.KindUnauthenticated, apperr.KindValidation:
		return true
	}
	return false
}

func (m *Manager) establish(ctx context.Context, creds *Credentials) {
	if creds.UserID == "" {
		creds.UserID = UserIDFromToken(creds.AccessToken)
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, creds); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist session")
	}
}

func (m *Manager) teardown(ctx context.Context, reason string) error {
	m.mu.Lock()
	userID := ""
	if m.creds != nil {
		userID = m.creds.UserID
	}
	m.creds = nil
	m.mu.Unlock()

	m.logger.Info().Str("reason", reason).Str("user_id", userID).Msg("session ended")
	_ = m.bus.PublishJSON(events.SessionEnded, map[string]string{"reason": reason, "userId": userID})

	if m.store == nil {
		return nil
	}
	return m.store.Clear(ctx)
}
