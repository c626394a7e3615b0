package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/models"
	"slotbook/internal/session"
	"slotbook/internal/slots"

	"github.com/google/uuid"
)

// Stub is an in-memory backend for offline use and tests. It keeps the
// same rules the server enforces: bookings inside working hours, no
// overlap with blocking bookings, monotonic status changes.
type Stub struct {
	mu        sync.Mutex
	now       func() time.Time
	providers map[string]models.Provider
	bookings  []models.Booking
	idem      map[string]string

	users   map[string]string
	access  map[string]string
	refresh map[string]string
}

type userKey struct{}

// WithUser marks ctx as acting for user. The stub attributes new bookings
// and client listings to that user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the user set by WithUser, or "".
func UserFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

func caller(ctx context.Context, op string) (string, error) {
	user := UserFrom(ctx)
	if user == "" {
		return "", apperr.New(apperr.KindUnauthenticated, op, "no authenticated user")
	}
	return user, nil
}

var (
	_ Backend               = (*Stub)(nil)
	_ session.Authenticator = (*Stub)(nil)
)

// NewStub creates a stub serving the given providers. now defaults to time.Now.
func NewStub(providers []models.Provider, now func() time.Time) *Stub {
	if now == nil {
		now = time.Now
	}
	s := &Stub{
		now:       now,
		providers: make(map[string]models.Provider, len(providers)),
		idem:      make(map[string]string),
		users:     make(map[string]string),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
	}
	for _, p := range providers {
		s.providers[p.ID] = p
	}
	return s
}

// AddUser registers a login.
func (s *Stub) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// Seed stores an existing booking as is.
func (s *Stub) Seed(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.bookings = append(s.bookings, b)
}

// Slots reports the provider day as the server would.
func (s *Stub) Slots(_ context.Context, q SlotQuery) ([]models.ServerSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[q.ProviderID]
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "stub.slots", "unknown provider "+q.ProviderID)
	}

	grid := slots.Generate(q.Date, p.Rule, s.now())
	grid = slots.Detect(grid, s.providerBookings(p.ID, ""), p.Rule.Buffer)

	rows := make([]models.ServerSlot, len(grid))
	for i, g := range grid {
		rows[i] = models.ServerSlot{Start: g.Start, End: g.End, Available: g.IsAvailable()}
		if !rows[i].Available {
			rows[i].Reason = string(g.Availability)
		}
	}
	return rows, nil
}

// CreateBooking stores a pending booking for the user in ctx or rejects it
// as conflicting.
func (s *Stub) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	const op = "stub.create"

	user, err := caller(ctx, op)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.idem[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		b := s.find(id)
		cp := *b
		return &cp, nil
	}

	p, ok := s.providers[req.ProviderID]
	if !ok {
		return nil, apperr.New(apperr.KindValidation, op, "unknown provider "+req.ProviderID)
	}
	if len(req.ServiceIDs) == 0 {
		return nil, apperr.New(apperr.KindValidation, op, "at least one service is required")
	}

	var total time.Duration
	var price int64
	for _, id := range req.ServiceIDs {
		svc, ok := p.Service(id)
		if !ok {
			return nil, apperr.New(apperr.KindValidation, op, "unknown service "+id)
		}
		total += svc.Duration
		price += svc.Price
	}

	end := req.Start.Add(total)
	if err := s.checkInterval(op, p, req.Start, end, ""); err != nil {
		return nil, err
	}

	now := s.now()
	b := models.Booking{
		ID:         uuid.NewString(),
		ClientID:   user,
		ProviderID: p.ID,
		ServiceIDs: append([]string(nil), req.ServiceIDs...),
		Start:      req.Start,
		End:        end,
		Status:     models.StatusPending,
		TotalPrice: price,
		Notes:      req.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.bookings = append(s.bookings, b)
	if req.IdempotencyKey != "" {
		s.idem[req.IdempotencyKey] = b.ID
	}
	return &b, nil
}

// UpdateBooking applies a status change, new notes or a new start time.
func (s *Stub) UpdateBooking(_ context.Context, id string, req UpdateBookingRequest) (*models.Booking, error) {
	const op = "stub.update"

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.find(id)
	if b == nil {
		return nil, apperr.New(apperr.KindValidation, op, "booking not found")
	}

	if req.Start != nil && !req.Start.Equal(b.Start) {
		if !b.Blocking() {
			return nil, apperr.New(apperr.KindValidation, op, "booking cannot be rescheduled in status "+string(b.Status))
		}
		p := s.providers[b.ProviderID]
		end := req.Start.Add(b.Duration())
		if err := s.checkInterval(op, p, *req.Start, end, b.ID); err != nil {
			return nil, err
		}
		b.Start, b.End = *req.Start, end
	}
	if req.Status != nil && *req.Status != b.Status {
		if !b.CanTransition(*req.Status) {
			return nil, apperr.New(apperr.KindValidation, op,
				"cannot change status from "+string(b.Status)+" to "+string(*req.Status))
		}
		b.Status = *req.Status
	}
	if req.Notes != nil {
		b.Notes = *req.Notes
	}
	b.UpdatedAt = s.now()

	cp := *b
	return &cp, nil
}

// ListBookings returns the bookings of the user in ctx for RoleClient and
// every booking for RoleProvider, ordered by start.
func (s *Stub) ListBookings(ctx context.Context, role Role) ([]models.Booking, error) {
	var user string
	if role == RoleClient {
		var err error
		if user, err = caller(ctx, "stub.list"); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if role == RoleClient && b.ClientID != user {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Login issues tokens for a registered user.
func (s *Stub) Login(_ context.Context, username, password string) (*session.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pw, ok := s.users[username]; !ok || pw != password {
		return nil, apperr.New(apperr.KindAuthFailure, "stub.login", "invalid username or password")
	}
	return s.issue(username), nil
}

// Refresh rotates tokens. An unknown refresh token is rejected.
func (s *Stub) Refresh(_ context.Context, refreshToken string) (*session.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.refresh[refreshToken]
	if !ok {
		return nil, apperr.New(apperr.KindAuthFailure, "stub.refresh", "refresh token revoked")
	}
	delete(s.refresh, refreshToken)
	return s.issue(user), nil
}

// Logout revokes the tokens.
func (s *Stub) Logout(_ context.Context, c session.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, c.AccessToken)
	delete(s.refresh, c.RefreshToken)
	return nil
}

// ExpireAccess revokes all access tokens, leaving refresh tokens valid.
func (s *Stub) ExpireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefresh invalidates all refresh tokens.
func (s *Stub) RevokeRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// Valid reports whether an access token is current.
func (s *Stub) Valid(accessToken string) bool {
	_, ok := s.UserFor(accessToken)
	return ok
}

// UserFor resolves an access token to the user it was issued to.
func (s *Stub) UserFor(accessToken string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.access[accessToken]
	return user, ok
}

// As returns a Backend that calls the stub on behalf of user(), for
// in-process callers that have no bearer token to resolve.
func (s *Stub) As(user func() string) Backend {
	return &userView{stub: s, user: user}
}

type userView struct {
	stub *Stub
	user func() string
}

func (v *userView) Slots(ctx context.Context, q SlotQuery) ([]models.ServerSlot, error) {
	return v.stub.Slots(WithUser(ctx, v.user()), q)
}

func (v *userView) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	return v.stub.CreateBooking(WithUser(ctx, v.user()), req)
}

func (v *userView) UpdateBooking(ctx context.Context, id string, req UpdateBookingRequest) (*models.Booking, error) {
	return v.stub.UpdateBooking(WithUser(ctx, v.user()), id, req)
}

func (v *userView) ListBookings(ctx context.Context, role Role) ([]models.Booking, error) {
	return v.stub.ListBookings(WithUser(ctx, v.user()), role)
}

func (s *Stub) issue(user string) *session.Credentials {
	c := &session.Credentials{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		UserID:       user,
	}
	s.access[c.AccessToken] = user
	s.refresh[c.RefreshToken] = user
	return c
}

func (s *Stub) find(id string) *models.Booking {
	for i := range s.bookings {
		if s.bookings[i].ID == id {
			return &s.bookings[i]
		}
	}
	return nil
}

func (s *Stub) providerBookings(providerID, except string) []models.Booking {
	var out []models.Booking
	for _, b := range s.bookings {
		if b.ProviderID == providerID && b.ID != except {
			out = append(out, b)
		}
	}
	return out
}

func (s *Stub) checkInterval(op string, p models.Provider, start, end time.Time, except string) error {
	if !start.After(s.now()) {
		return apperr.New(apperr.KindValidation, op, "start time is in the past")
	}
	if p.Rule == nil || !p.Rule.WorksOn(start.Weekday()) {
		return apperr.New(apperr.KindValidation, op, "provider does not work on "+start.Weekday().String())
	}
	open, closeAt := p.Rule.Window(start)
	if start.Before(open) || end.After(closeAt) {
		return apperr.New(apperr.KindValidation, op, "booking is outside working hours")
	}
	if slots.Conflicts(start, end, s.providerBookings(p.ID, except), p.Rule.Buffer) {
		return apperr.New(apperr.KindConflict, op, "slot is no longer available")
	}
	return nil
}
