package slots

import (
	"time"

	"slotbook/internal/models"
)

// Server reasons for an unavailable slot.
const (
	ReasonBooked  = "booked"
	ReasonPast    = "past"
	ReasonBlocked = "blocked"
)

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Detect annotates candidates against existing bookings. Each blocking
// booking is widened by buffer on both sides before the overlap test.
// Past and blocked candidates keep their state. The result has the same
// length and order as candidates, which are left untouched.
func Detect(candidates []models.TimeSlot, bookings []models.Booking, buffer time.Duration) []models.TimeSlot {
	out := make([]models.TimeSlot, len(candidates))
	for i, c := range candidates {
		out[i] = c
		if c.Availability == models.Past || c.Availability == models.Blocked {
			continue
		}

		out[i].Availability = models.Available
		if Conflicts(c.Start, c.End, bookings, buffer) {
			out[i].Availability = models.Booked
		}
	}
	return out
}

// Conflicts reports whether an interval overlaps any blocking booking.
func Conflicts(start, end time.Time, bookings []models.Booking, buffer time.Duration) bool {
	for i := range bookings {
		b := &bookings[i]
		if !b.Blocking() {
			continue
		}
		if Overlaps(start, end, b.Start.Add(-buffer), b.End.Add(buffer)) {
			return true
		}
	}
	return false
}

// BusyFromServer turns booked rows of a server slot listing into blocking
// intervals. Past rows are left to the local generator.
func BusyFromServer(rows []models.ServerSlot, providerID string) []models.Booking {
	var busy []models.Booking
	for _, r := range rows {
		if r.Available || r.Reason == ReasonPast || r.Reason == ReasonBlocked {
			continue
		}
		busy = append(busy, models.Booking{
			ProviderID: providerID,
			Start:      r.Start,
			End:        r.End,
			Status:     models.StatusConfirmed,
		})
	}
	return busy
}

// MarkBlocked marks candidates that overlap a server row blocked by the provider.
func MarkBlocked(candidates []models.TimeSlot, rows []models.ServerSlot) []models.TimeSlot {
	out := make([]models.TimeSlot, len(candidates))
	copy(out, candidates)
	for i := range out {
		if out[i].Availability == models.Past {
			continue
		}
		for _, r := range rows {
			if !r.Available && r.Reason == ReasonBlocked && Overlaps(out[i].Start, out[i].End, r.Start, r.End) {
				out[i].Availability = models.Blocked
				break
			}
		}
	}
	return out
}

// Except drops the booking with the given id, used when a booking is
// checked against its own day during reschedule.
func Except(bookings []models.Booking, id string) []models.Booking {
	out := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if id != "" && b.ID == id {
			continue
		}
		out = append(out, b)
	}
	return out
}
