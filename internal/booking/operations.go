package booking

import (
	"context"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/backend"
	"slotbook/internal/events"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// Operations are the one-shot changes to a submitted booking.
type Operations struct {
	backend backend.Backend
	bus     *events.EventBus
	now     func() time.Time
	logger  *zerolog.Logger
}

// NewOperations creates the operations over a backend. now defaults to time.Now.
func NewOperations(be backend.Backend, bus *events.EventBus, now func() time.Time, logger *zerolog.Logger) *Operations {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Operations{backend: be, bus: bus, now: now, logger: logger}
}

// Cancel cancels a pending or confirmed booking.
func (o *Operations) Cancel(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return o.setStatus(ctx, "booking.cancel", b, models.StatusCancelled)
}

// Confirm confirms a pending booking.
func (o *Operations) Confirm(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return o.setStatus(ctx, "booking.confirm", b, models.StatusConfirmed)
}

// Complete marks a confirmed booking as held.
func (o *Operations) Complete(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	return o.setStatus(ctx, "booking.complete", b, models.StatusCompleted)
}

// UpdateNotes replaces the notes of a booking.
func (o *Operations) UpdateNotes(ctx context.Context, b *models.Booking, notes string) (*models.Booking, error) {
	const op = "booking.update_notes"
	if err := submitted(op, b); err != nil {
		return nil, err
	}
	return o.update(ctx, op, b, backend.UpdateBookingRequest{Notes: &notes})
}

// Reschedule moves a booking to newStart, keeping its length. The new
// interval is checked against fresh slot state first; the booking's own
// interval does not count against it.
func (o *Operations) Reschedule(ctx context.Context, p models.Provider, b *models.Booking, newStart time.Time) (*models.Booking, error) {
	const op = "booking.reschedule"

	if err := submitted(op, b); err != nil {
		return nil, err
	}
	if !b.Blocking() {
		return nil, apperr.New(apperr.KindValidation, op, "cannot reschedule a "+string(b.Status)+" booking")
	}
	if p.ID != b.ProviderID || p.Rule == nil {
		return nil, apperr.New(apperr.KindValidation, op, "provider does not match the booking")
	}
	now := o.now()
	if !newStart.After(now) {
		return nil, apperr.New(apperr.KindValidation, op, "new time has already passed")
	}
	if newStart.Equal(b.Start) {
		cp := *b
		return &cp, nil
	}

	newEnd := newStart.Add(b.Duration())
	if !p.Rule.WorksOn(newStart.Weekday()) {
		return nil, apperr.New(apperr.KindValidation, op, "provider does not work on "+newStart.Weekday().String())
	}
	open, closeAt := p.Rule.Window(newStart)
	if newStart.Before(open) || newEnd.After(closeAt) {
		return nil, apperr.New(apperr.KindValidation, op, "new time is outside working hours")
	}

	d, err := loadDay(ctx, o.backend, p, b.ServiceIDs, newStart, now, true, b)
	if err != nil {
		return nil, apperr.Classify(op, err)
	}
	if !d.fits(p.Rule, newStart, newEnd) {
		return nil, apperr.New(apperr.KindConflict, op, "new time overlaps another booking")
	}

	return o.update(ctx, op, b, backend.UpdateBookingRequest{Start: &newStart})
}

func (o *Operations) setStatus(ctx context.Context, op string, b *models.Booking, to models.BookingStatus) (*models.Booking, error) {
	if err := submitted(op, b); err != nil {
		return nil, err
	}
	if !b.CanTransition(to) {
		return nil, apperr.New(apperr.KindValidation, op,
			"cannot change status from "+string(b.Status)+" to "+string(to))
	}
	return o.update(ctx, op, b, backend.UpdateBookingRequest{Status: &to})
}

func (o *Operations) update(ctx context.Context, op string, b *models.Booking, req backend.UpdateBookingRequest) (*models.Booking, error) {
	updated, err := o.backend.UpdateBooking(ctx, b.ID, req)
	if err != nil {
		return nil, apperr.Classify(op, err)
	}
	_ = o.bus.PublishJSON(events.BookingUpdated, updated)
	o.logger.Info().Str("op", op).Str("booking_id", updated.ID).Str("status", string(updated.Status)).Msg("booking updated")
	return updated, nil
}

func submitted(op string, b *models.Booking) error {
	if b == nil || !b.IsSubmitted() {
		return apperr.New(apperr.KindValidation, op, "booking has not been submitted")
	}
	return nil
}
