package models

import "time"

// BookingStatus is the lifecycle status of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// statusFlow lists the statuses reachable from each status.
var statusFlow = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
	StatusCancelled: nil,
	StatusCompleted: nil,
}

// Booking represents an appointment record. ID is assigned by the server and
// stays empty while the booking is pending submission.
type Booking struct {
	ID         string        `json:"id,omitempty"`
	ClientID   string        `json:"clientId"`
	ProviderID string        `json:"providerId"`
	ServiceIDs []string      `json:"serviceIds"`
	Start      time.Time     `json:"startTime"`
	End        time.Time     `json:"endTime"`
	Status     BookingStatus `json:"status"`
	TotalPrice int64         `json:"totalPrice"`
	Notes      string        `json:"notes,omitempty"`
	CreatedAt  time.Time     `json:"createdAt,omitempty"`
	UpdatedAt  time.Time     `json:"updatedAt,omitempty"`
}

// CanTransition reports whether the status may move to the given status.
func (b *Booking) CanTransition(to BookingStatus) bool {
	for _, s := range statusFlow[b.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Blocking reports whether the booking occupies its interval.
// Cancelled and completed bookings never block a slot.
func (b *Booking) Blocking() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// Duration returns the booked length.
func (b *Booking) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// IsSubmitted reports whether the server has assigned an id.
func (b *Booking) IsSubmitted() bool {
	return b.ID != ""
}
