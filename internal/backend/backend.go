// Package backend defines the boundary between the booking core and the
// remote booking API.
package backend

import (
	"context"
	"time"

	"slotbook/internal/models"
)

// Role selects which side of the bookings the caller lists.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

// SlotQuery asks for the server's slot state on one day.
type SlotQuery struct {
	ProviderID string
	Date       time.Time
	ServiceIDs []string
	// Fresh skips any cached listing.
	Fresh bool
}

// CreateBookingRequest is the POST /bookings payload.
type CreateBookingRequest struct {
	ProviderID     string    `json:"providerId"`
	ServiceIDs     []string  `json:"serviceIds"`
	Start          time.Time `json:"startTime"`
	Notes          string    `json:"notes,omitempty"`
	IdempotencyKey string    `json:"-"`
}

// UpdateBookingRequest is the PATCH /bookings/{id} payload. Nil fields are
// left unchanged.
type UpdateBookingRequest struct {
	Status *models.BookingStatus `json:"status,omitempty"`
	Notes  *string               `json:"notes,omitempty"`
	Start  *time.Time            `json:"startTime,omitempty"`
}

// Backend is the remote booking API.
type Backend interface {
	Slots(ctx context.Context, q SlotQuery) ([]models.ServerSlot, error)
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error)
	UpdateBooking(ctx context.Context, id string, req UpdateBookingRequest) (*models.Booking, error)
	ListBookings(ctx context.Context, role Role) ([]models.Booking, error)
}

// DateKey formats a date for the wire and for cache keys.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
