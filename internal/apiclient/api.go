package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/backend"
	"slotbook/internal/models"
	"slotbook/internal/session"

	"github.com/redis/go-redis/v9"
)

// API is the typed booking API over the resilient client.
type API struct {
	client *Client

	redis    *redis.Client
	cacheTTL time.Duration
}

var (
	_ backend.Backend       = (*API)(nil)
	_ session.Authenticator = (*API)(nil)
)

// NewAPI wraps a client.
func NewAPI(client *Client) *API {
	return &API{client: client}
}

// UseRedisCache configures optional Redis caching for slot listings.
func (a *API) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	a.redis = redisClient
	a.cacheTTL = ttl
}

// Slots fetches the server slot state for one provider day.
func (a *API) Slots(ctx context.Context, q backend.SlotQuery) ([]models.ServerSlot, error) {
	date := backend.DateKey(q.Date)
	cacheKey := slotsCacheKey(q.ProviderID, date, q.ServiceIDs)

	var rows []models.ServerSlot
	if !q.Fresh && a.readCache(ctx, cacheKey, &rows) {
		return rows, nil
	}

	query := url.Values{}
	query.Set("providerId", q.ProviderID)
	query.Set("date", date)
	if len(q.ServiceIDs) > 0 {
		query.Set("serviceIds", strings.Join(q.ServiceIDs, ","))
	}

	err := a.client.Do(ctx, Request{Op: "slots.list", Method: http.MethodGet, Path: "/slots", Query: query}, &rows)
	if err != nil {
		return nil, err
	}
	a.writeCache(ctx, cacheKey, rows)
	return rows, nil
}

// CreateBooking submits a new booking. The server answers with the created
// record in pending status.
func (a *API) CreateBooking(ctx context.Context, req backend.CreateBookingRequest) (*models.Booking, error) {
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var out models.Booking
	err := a.client.Do(ctx, Request{
		Op:     "bookings.create",
		Method: http.MethodPost,
		Path:   "/bookings",
		Body:   req,
		Header: header,
	}, &out)

	// Whatever the server decided, the cached day no longer reflects it.
	if err == nil || apperr.Is(err, apperr.KindConflict) {
		a.invalidateDay(ctx, req.ProviderID, backend.DateKey(req.Start))
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBooking patches status, notes or start time of a booking.
func (a *API) UpdateBooking(ctx context.Context, id string, req backend.UpdateBookingRequest) (*models.Booking, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindValidation, "bookings.update", "booking id is required")
	}

	var out models.Booking
	err := a.client.Do(ctx, Request{
		Op:     "bookings.update",
		Method: http.MethodPatch,
		Path:   "/bookings/" + url.PathEscape(id),
		Body:   req,
	}, &out)
	if err != nil {
		return nil, err
	}
	a.invalidateDay(ctx, out.ProviderID, backend.DateKey(out.Start))
	if req.Start != nil {
		a.invalidateDay(ctx, out.ProviderID, backend.DateKey(*req.Start))
	}
	return &out, nil
}

// ListBookings returns the caller's bookings in the given role.
func (a *API) ListBookings(ctx context.Context, role backend.Role) ([]models.Booking, error) {
	query := url.Values{}
	query.Set("role", string(role))

	var out []models.Booking
	err := a.client.Do(ctx, Request{Op: "bookings.list", Method: http.MethodGet, Path: "/bookings", Query: query}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges user credentials for tokens.
func (a *API) Login(ctx context.Context, username, password string) (*session.Credentials, error) {
	var out session.Credentials
	err := a.client.Do(ctx, Request{
		Op:     "auth.login",
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   loginRequest{Username: username, Password: password},
		NoAuth: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges the refresh token for a new access token.
func (a *API) Refresh(ctx context.Context, refreshToken string) (*session.Credentials, error) {
	var out session.Credentials
	err := a.client.Do(ctx, Request{
		Op:     "auth.refresh",
		Method: http.MethodPost,
		Path:   "/auth/refresh-token",
		Body:   refreshRequest{RefreshToken: refreshToken},
		NoAuth: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session on the server.
func (a *API) Logout(ctx context.Context, c session.Credentials) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.AccessToken)
	return a.client.Do(ctx, Request{
		Op:     "auth.logout",
		Method: http.MethodPost,
		Path:   "/auth/logout",
		Body:   refreshRequest{RefreshToken: c.RefreshToken},
		Header: header,
		NoAuth: true,
	}, nil)
}

func slotsCacheKey(providerID, date string, serviceIDs []string) string {
	return fmt.Sprintf("slots:%s:%s:%s", providerID, date, strings.Join(serviceIDs, ","))
}

func (a *API) readCache(ctx context.Context, key string, out any) bool {
	if a.redis == nil || a.cacheTTL <= 0 {
		return false
	}
	val, err := a.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (a *API) writeCache(ctx context.Context, key string, val any) {
	if a.redis == nil || a.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = a.redis.Set(ctx, key, data, a.cacheTTL).Err()
}

// invalidateDay drops every cached listing of the provider day, whatever
// service filter it was fetched with.
func (a *API) invalidateDay(ctx context.Context, providerID, date string) {
	if a.redis == nil || providerID == "" {
		return
	}
	pattern := fmt.Sprintf("slots:%s:%s:*", providerID, date)
	iter := a.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		a.client.logger.Warn().Err(err).Str("pattern", pattern).Msg("slot cache scan failed")
		return
	}
	if len(keys) > 0 {
		_ = a.redis.Del(ctx, keys...).Err()
	}
}
