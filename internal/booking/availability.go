package booking

import (
	"context"
	"time"

	"slotbook/internal/backend"
	"slotbook/internal/models"
	"slotbook/internal/slots"
)

// day is the annotated slot grid of one provider day plus the intervals
// that block a booking on it.
type day struct {
	date time.Time
	grid []models.TimeSlot
	busy []models.Booking
}

// loadDay builds the grid locally and checks it against the server's slot
// state and the client's own bookings. Own bookings are widened by the rule
// buffer; server rows already reflect it. exclude, when set, is left out so
// a booking does not conflict with itself on reschedule.
func loadDay(
	ctx context.Context,
	be backend.Backend,
	p models.Provider,
	serviceIDs []string,
	date, now time.Time,
	fresh bool,
	exclude *models.Booking,
) (*day, error) {
	rows, err := be.Slots(ctx, backend.SlotQuery{ProviderID: p.ID, Date: date, ServiceIDs: serviceIDs, Fresh: fresh})
	if err != nil {
		return nil, err
	}
	own, err := be.ListBookings(ctx, backend.RoleClient)
	if err != nil {
		return nil, err
	}

	busy := slots.BusyFromServer(rows, p.ID)
	if exclude != nil {
		busy = withoutInterval(busy, exclude.Start, exclude.End)
		own = slots.Except(own, exclude.ID)
	}
	for _, b := range own {
		if b.ProviderID != p.ID || !b.Blocking() {
			continue
		}
		b.Start = b.Start.Add(-p.Rule.Buffer)
		b.End = b.End.Add(p.Rule.Buffer)
		busy = append(busy, b)
	}

	grid := slots.Generate(date, p.Rule, now)
	grid = slots.MarkBlocked(grid, rows)
	grid = slots.Detect(grid, busy, 0)

	return &day{date: date, grid: grid, busy: busy}, nil
}

// withoutInterval drops server rows lying inside [start, end), which the
// excluded booking occupies itself.
func withoutInterval(busy []models.Booking, start, end time.Time) []models.Booking {
	out := busy[:0:0]
	for _, b := range busy {
		if !b.Start.Before(start) && !b.End.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// fits checks that [start, end) lies in working hours, touches only
// available grid slots and overlaps no busy interval.
func (d *day) fits(rule *models.WorkingHoursRule, start, end time.Time) bool {
	open, closeAt := rule.Window(d.date)
	if start.Before(open) || end.After(closeAt) {
		return false
	}
	for _, s := range d.grid {
		if slots.Overlaps(start, end, s.Start, s.End) && !s.IsAvailable() {
			return false
		}
	}
	return !slots.Conflicts(start, end, d.busy, 0)
}
