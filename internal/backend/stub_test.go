package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-04 is a Wednesday.
var (
	wednesday = time.Date(2026, 3, 4, 0, 0, 0, 0, time.Local)
	morning   = wednesday.Add(8 * time.Hour)
)

func testProvider(t *testing.T) models.Provider {
	t.Helper()
	rule, err := models.NewWorkingHoursRule("p1",
		[]time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		"09:00", "17:00", time.Hour, 0, 0)
	require.NoError(t, err)
	return models.Provider{
		ID:   "p1",
		Name: "Dr. Stone",
		Rule: rule,
		Services: []models.Service{
			{ID: "consult", Name: "Consultation", Duration: time.Hour, Price: 5000},
			{ID: "xray", Name: "X-ray", Duration: 30 * time.Minute, Price: 3000},
		},
	}
}

func newTestStub(t *testing.T) *Stub {
	t.Helper()
	s := NewStub([]models.Provider{testProvider(t)}, func() time.Time { return morning })
	s.AddUser("ann", "pw")
	return s
}

func TestStubSlots(t *testing.T) {
	s := newTestStub(t)
	s.Seed(models.Booking{ID: "b0", ProviderID: "p1", Start: wednesday.Add(10 * time.Hour), End: wednesday.Add(11 * time.Hour), Status: models.StatusConfirmed})
	s.Seed(models.Booking{ID: "b1", ProviderID: "p1", Start: wednesday.Add(12 * time.Hour), End: wednesday.Add(13 * time.Hour), Status: models.StatusCancelled})

	rows, err := s.Slots(context.Background(), SlotQuery{ProviderID: "p1", Date: wednesday})
	require.NoError(t, err)
	require.Len(t, rows, 8)

	assert.False(t, rows[1].Available)
	assert.Equal(t, "booked", rows[1].Reason)
	assert.True(t, rows[3].Available)

	_, err = s.Slots(context.Background(), SlotQuery{ProviderID: "nobody", Date: wednesday})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStubCreateBooking(t *testing.T) {
	s := newTestStub(t)
	ctx := WithUser(context.Background(), "ann")
	start := wednesday.Add(9 * time.Hour)

	b, err := s.CreateBooking(ctx, CreateBookingRequest{
		ProviderID: "p1", ServiceIDs: []string{"consult", "xray"}, Start: start, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "ann", b.ClientID)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, start.Add(90*time.Minute), b.End)
	assert.Equal(t, int64(8000), b.TotalPrice)

	again, err := s.CreateBooking(ctx, CreateBookingRequest{
		ProviderID: "p1", ServiceIDs: []string{"consult", "xray"}, Start: start, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)

	tests := []struct {
		name string
		req  CreateBookingRequest
		want apperr.Kind
	}{
		{"overlap", CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: start.Add(time.Hour)}, apperr.KindConflict},
		{"no services", CreateBookingRequest{ProviderID: "p1", Start: start.Add(3 * time.Hour)}, apperr.KindValidation},
		{"unknown service", CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"nope"}, Start: start.Add(3 * time.Hour)}, apperr.KindValidation},
		{"past", CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"xray"}, Start: morning.Add(-time.Hour)}, apperr.KindValidation},
		{"after hours", CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(16*time.Hour + 30*time.Minute)}, apperr.KindValidation},
		{"day off", CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.AddDate(0, 0, 3).Add(10 * time.Hour)}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateBooking(ctx, tt.req)
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}

	list, err := s.ListBookings(ctx, RoleClient)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStubUpdateBooking(t *testing.T) {
	s := newTestStub(t)
	ctx := WithUser(context.Background(), "ann")

	b, err := s.CreateBooking(ctx, CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(9 * time.Hour)})
	require.NoError(t, err)
	other, err := s.CreateBooking(ctx, CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(11 * time.Hour)})
	require.NoError(t, err)

	confirmed := models.StatusConfirmed
	got, err := s.UpdateBooking(ctx, b.ID, UpdateBookingRequest{Status: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	clash := other.Start
	_, err = s.UpdateBooking(ctx, b.ID, UpdateBookingRequest{Start: &clash})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Moving within its own interval is not a conflict with itself.
	shifted := b.Start.Add(30 * time.Minute)
	got, err = s.UpdateBooking(ctx, b.ID, UpdateBookingRequest{Start: &shifted})
	require.NoError(t, err)
	assert.Equal(t, shifted.Add(time.Hour), got.End)

	completed := models.StatusCompleted
	_, err = s.UpdateBooking(ctx, b.ID, UpdateBookingRequest{Status: &completed})
	require.NoError(t, err)

	pending := models.StatusPending
	_, err = s.UpdateBooking(ctx, b.ID, UpdateBookingRequest{Status: &pending})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.UpdateBooking(ctx, "missing", UpdateBookingRequest{Status: &pending})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStubAuth(t *testing.T) {
	s := newTestStub(t)
	ctx := context.Background()

	_, err := s.Login(ctx, "ann", "bad")
	assert.Equal(t, apperr.KindAuthFailure, apperr.KindOf(err))

	creds, err := s.Login(ctx, "ann", "pw")
	require.NoError(t, err)
	assert.True(t, s.Valid(creds.AccessToken))

	s.ExpireAccess()
	assert.False(t, s.Valid(creds.AccessToken))

	next, err := s.Refresh(ctx, creds.RefreshToken)
	require.NoError(t, err)
	assert.True(t, s.Valid(next.AccessToken))

	_, err = s.Refresh(ctx, creds.RefreshToken)
	assert.Equal(t, apperr.KindAuthFailure, apperr.KindOf(err))

	require.NoError(t, s.Logout(ctx, *next))
	assert.False(t, s.Valid(next.AccessToken))
}

func TestStubRequiresCaller(t *testing.T) {
	s := newTestStub(t)
	ctx := context.Background()

	_, err := s.CreateBooking(ctx, CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(9 * time.Hour)})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, err = s.ListBookings(ctx, RoleClient)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, err = s.ListBookings(ctx, RoleProvider)
	assert.NoError(t, err)

	user := "ann"
	view := s.As(func() string { return user })
	b, err := view.CreateBooking(ctx, CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(9 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "ann", b.ClientID)

	user = "bob"
	list, err := view.ListBookings(ctx, RoleClient)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStubHTTPAttributesBookingsByToken(t *testing.T) {
	s := newTestStub(t)
	s.AddUser("bob", "pw")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	call := func(method, path, token string, body any, out any) int {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req, err := http.NewRequest(method, srv.URL+path, &buf)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		if out != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		}
		return resp.StatusCode
	}
	login := func(user string) map[string]string {
		var creds map[string]string
		require.Equal(t, http.StatusOK, call(http.MethodPost, "/auth/login", "", map[string]string{"username": user, "password": "pw"}, &creds))
		return creds
	}

	ann := login("ann")
	bob := login("bob")

	var booked models.Booking
	status := call(http.MethodPost, "/bookings", ann["accessToken"],
		CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(9 * time.Hour)}, &booked)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ann", booked.ClientID)

	require.Equal(t, http.StatusNoContent, call(http.MethodPost, "/auth/logout", bob["accessToken"], map[string]string{"refreshToken": bob["refreshToken"]}, nil))

	status = call(http.MethodPost, "/bookings", ann["accessToken"],
		CreateBookingRequest{ProviderID: "p1", ServiceIDs: []string{"consult"}, Start: wednesday.Add(11 * time.Hour)}, &booked)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ann", booked.ClientID)

	var mine []models.Booking
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/bookings?role=client", ann["accessToken"], nil, &mine))
	assert.Len(t, mine, 2)

	bob = login("bob")
	var theirs []models.Booking
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/bookings?role=client", bob["accessToken"], nil, &theirs))
	assert.Empty(t, theirs)

	var all []models.Booking
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/bookings?role=provider", bob["accessToken"], nil, &all))
	assert.Len(t, all, 2)
}
