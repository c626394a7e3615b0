package models

import "time"

// Availability is the presentation state of a slot.
type Availability string

const (
	Available Availability = "available"
	Booked    Availability = "booked"
	Past      Availability = "past"
	Blocked   Availability = "blocked"
)

// TimeSlot is a candidate appointment interval [Start, End).
type TimeSlot struct {
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	ProviderID   string       `json:"providerId"`
	Availability Availability `json:"availability"`
}

// IsAvailable reports whether the slot can be chosen.
func (s TimeSlot) IsAvailable() bool {
	return s.Availability == Available
}

// ServerSlot is one row of the server's slot listing.
type ServerSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
}
