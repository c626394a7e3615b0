package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slotbook/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) Login(ctx context.Context, username, password string) (*Credentials, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Credentials), args.Error(1)
}

func (m *mockAuth) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Credentials), args.Error(1)
}

func (m *mockAuth) Logout(ctx context.Context, c Credentials) error {
	return m.Called(ctx, c).Error(0)
}

// blockingAuth counts refreshes and holds each one until released.
type blockingAuth struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingAuth) Login(context.Context, string, string) (*Credentials, error) {
	return nil, errors.New("not used")
}

func (b *blockingAuth) Refresh(_ context.Context, _ string) (*Credentials, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return &Credentials{AccessToken: "new", RefreshToken: "r2"}, nil
}

func (b *blockingAuth) Logout(context.Context, Credentials) error { return nil }

func newTestManager(t *testing.T, auth Authenticator, store Store) *Manager {
	t.Helper()
	logger := zerolog.New(io.Discard)
	return NewManager(auth, store, ManagerOptions{RefreshTimeout: time.Second}, &logger)
}

func loggedIn(t *testing.T, m *Manager, store Store) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), &Credentials{AccessToken: "old", RefreshToken: "r1", UserID: "u1"}))
	ok, err := m.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func tokenOf(t *testing.T, m *Manager) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, "http://example.test", http.NoBody)
	tok, err := m.Authorize(req)
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+tok, req.Header.Get("Authorization"))
	return tok
}

func TestAuthorizeWithoutSession(t *testing.T) {
	m := newTestManager(t, new(mockAuth), NewMemoryStore())

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", http.NoBody)
	_, err := m.Authorize(req)

	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.False(t, m.Authenticated())
}

func TestLoginPersistsAndDerivesIdentity(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	ctx := context.Background()

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-42"}).SignedString([]byte("k"))
	require.NoError(t, err)
	auth.On("Login", ctx, "ann", "pw").Return(&Credentials{AccessToken: access, RefreshToken: "r"}, nil).Once()

	require.NoError(t, m.Login(ctx, "ann", "pw"))

	assert.True(t, m.Authenticated())
	assert.Equal(t, "user-42", m.UserID())
	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, access, stored.AccessToken)
	assert.Equal(t, "user-42", stored.UserID)
	auth.AssertExpectations(t)
}

func TestLoginFailure(t *testing.T) {
	auth := new(mockAuth)
	m := newTestManager(t, auth, NewMemoryStore())
	ctx := context.Background()

	auth.On("Login", ctx, "ann", "bad").Return(nil, apperr.FromStatus("login", 401, "invalid credentials")).Once()

	err := m.Login(ctx, "ann", "bad")
	assert.True(t, apperr.Is(err, apperr.KindAuthFailure))
	assert.False(t, m.Authenticated())
}

func TestHandleRejectionRefreshesAndRetriesOnce(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Refresh", mock.Anything, "r1").Return(&Credentials{AccessToken: "new"}, nil).Once()

	resends := 0
	err := m.HandleRejection(context.Background(), "old", func(ctx context.Context) error {
		resends++
		assert.Equal(t, "new", tokenOf(t, m))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, resends)
	stored, _ := store.Load(context.Background())
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken, "refresh token kept when not rotated")
	assert.Equal(t, "u1", stored.UserID)
	auth.AssertExpectations(t)
}

func TestHandleRejectionSkipsRefreshWhenAlreadyRotated(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Refresh", mock.Anything, "r1").Return(&Credentials{AccessToken: "new", RefreshToken: "r2"}, nil).Once()
	require.NoError(t, m.HandleRejection(context.Background(), "old", func(context.Context) error { return nil }))

	// A late rejection of the old token must not refresh again.
	require.NoError(t, m.HandleRejection(context.Background(), "old", func(context.Context) error { return nil }))
	auth.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestConcurrentRejectionsShareOneRefresh(t *testing.T) {
	auth := &blockingAuth{started: make(chan struct{}), release: make(chan struct{})}
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	const n = 20
	var wg sync.WaitGroup
	var resends atomic.Int32
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.HandleRejection(context.Background(), "old", func(ctx context.Context) error {
				resends.Add(1)
				return nil
			})
		}()
	}

	<-auth.started
	close(auth.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), auth.calls.Load())
	assert.Equal(t, int32(n), resends.Load())
	assert.Equal(t, "new", tokenOf(t, m))
}

func TestRefreshRejectedTearsDownSession(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Refresh", mock.Anything, "r1").Return(nil, apperr.FromStatus("refresh", 401, "refresh token expired")).Once()

	resent := false
	err := m.HandleRejection(context.Background(), "old", func(context.Context) error {
		resent = true
		return nil
	})

	assert.True(t, apperr.Is(err, apperr.KindAuthFailure))
	assert.False(t, resent, "no retry after failed refresh")

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", http.NoBody)
	_, err = m.Authorize(req)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored, "persisted credentials cleared")
}

func TestRefreshNetworkErrorKeepsSession(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Refresh", mock.Anything, "r1").Return(nil, apperr.Wrap(apperr.KindNetwork, "refresh", errors.New("no route"))).Once()

	err := m.HandleRejection(context.Background(), "old", func(context.Context) error { return nil })

	assert.True(t, apperr.Is(err, apperr.KindNetwork))
	assert.True(t, m.Authenticated())
	assert.Equal(t, "old", tokenOf(t, m))
}

func TestRefreshServerErrorKeepsSession(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Refresh", mock.Anything, "r1").Return(nil, apperr.FromStatus("refresh", 503, "maintenance")).Once()
	auth.On("Refresh", mock.Anything, "r1").Return(&Credentials{AccessToken: "new", RefreshToken: "r2"}, nil).Once()

	err := m.HandleRejection(context.Background(), "old", func(context.Context) error { return nil })
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.True(t, m.Authenticated())

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored, "persisted credentials kept")
	assert.Equal(t, "r1", stored.RefreshToken)

	// The kept refresh token still works once the server recovers.
	resent := false
	err = m.HandleRejection(context.Background(), "old", func(context.Context) error {
		resent = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, resent)
	assert.Equal(t, "new", tokenOf(t, m))
	auth.AssertExpectations(t)
}

func TestRejectedAgainAfterRefresh(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Refresh", mock.Anything, "r1").Return(&Credentials{AccessToken: "new"}, nil).Once()

	resends := 0
	err := m.HandleRejection(context.Background(), "old", func(context.Context) error {
		resends++
		return ErrRejected
	})

	assert.True(t, apperr.Is(err, apperr.KindAuthFailure))
	assert.Equal(t, 1, resends)
	assert.False(t, m.Authenticated())
	auth.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestLogoutClearsEvenWhenRemoteFails(t *testing.T) {
	auth := new(mockAuth)
	store := NewMemoryStore()
	m := newTestManager(t, auth, store)
	loggedIn(t, m, store)

	auth.On("Logout", mock.Anything, mock.AnythingOfType("session.Credentials")).Return(errors.New("offline")).Once()

	require.NoError(t, m.Logout(context.Background()))
	assert.False(t, m.Authenticated())
	stored, _ := store.Load(context.Background())
	assert.Nil(t, stored)

	require.NoError(t, m.Logout(context.Background()), "logout without session is a no-op")
	auth.AssertExpectations(t)
}

func TestUserIDFromToken(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "abc"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	assert.Equal(t, "abc", UserIDFromToken(tok))
	assert.Equal(t, "", UserIDFromToken("opaque-token"))
}
