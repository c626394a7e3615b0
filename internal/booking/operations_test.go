package booking

import (
	"context"
	"io"
	"testing"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/backend"
	"slotbook/internal/events"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newOperations(be backend.Backend, bus *events.EventBus) *Operations {
	logger := zerolog.New(io.Discard)
	return NewOperations(be, bus, func() time.Time { return morning }, &logger)
}

func createBooking(t *testing.T, stub *backend.Stub, start time.Time, services ...string) *models.Booking {
	t.Helper()
	b, err := asAnn(stub).CreateBooking(context.Background(), backend.CreateBookingRequest{ProviderID: "p1", ServiceIDs: services, Start: start})
	require.NoError(t, err)
	return b
}

func TestStatusOperations(t *testing.T) {
	stub := newStub(t)
	bus := events.NewEventBus()
	var updates int
	bus.Subscribe(events.BookingUpdated, func(events.Event) error {
		updates++
		return nil
	})
	ops := newOperations(asAnn(stub), bus)
	ctx := context.Background()

	b := createBooking(t, stub, at(9, 0), "consult")

	_, err := ops.Complete(ctx, b)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	b, err = ops.Confirm(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	b, err = ops.Complete(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)

	_, err = ops.Cancel(ctx, b)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	other := createBooking(t, stub, at(11, 0), "xray")
	other, err = ops.Cancel(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, other.Status)

	other, err = ops.UpdateNotes(ctx, other, "called to cancel")
	require.NoError(t, err)
	assert.Equal(t, "called to cancel", other.Notes)

	assert.Equal(t, 4, updates)
}

func TestOperationsRequireSubmittedBooking(t *testing.T) {
	be := new(mockBackend)
	ops := newOperations(be, nil)
	ctx := context.Background()
	draft := &models.Booking{Status: models.StatusPending}

	_, err := ops.Cancel(ctx, draft)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = ops.Cancel(ctx, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = ops.Reschedule(ctx, testProvider(t), draft, at(12, 0))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	be.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestReschedule(t *testing.T) {
	stub := newStub(t)
	ops := newOperations(asAnn(stub), nil)
	p := testProvider(t)
	ctx := context.Background()

	b := createBooking(t, stub, at(9, 0), "consult")
	createBooking(t, stub, at(12, 0), "consult")
	stub.Seed(models.Booking{ProviderID: "p1", ClientID: "bob", Start: at(14, 0), End: at(15, 0), Status: models.StatusConfirmed})

	tests := []struct {
		name  string
		start time.Time
		want  apperr.Kind
	}{
		{"own other booking", at(11, 30), apperr.KindConflict},
		{"someone else's booking", at(14, 0), apperr.KindConflict},
		{"past", morning.Add(-time.Hour), apperr.KindValidation},
		{"after closing", at(16, 30), apperr.KindValidation},
		{"day off", wednesday.AddDate(0, 0, 4).Add(10 * time.Hour), apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ops.Reschedule(ctx, p, b, tt.start)
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}

	// Overlapping its own current interval is fine.
	moved, err := ops.Reschedule(ctx, p, b, at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, at(9, 30), moved.Start)
	assert.Equal(t, at(10, 30), moved.End)

	moved, err = ops.Reschedule(ctx, p, moved, at(15, 0))
	require.NoError(t, err)
	assert.Equal(t, at(16, 0), moved.End)

	cancelled, err := ops.Cancel(ctx, moved)
	require.NoError(t, err)
	_, err = ops.Reschedule(ctx, p, cancelled, at(10, 0))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRescheduleServerConflict(t *testing.T) {
	be := new(mockBackend).emptyDay()
	be.On("UpdateBooking", mock.Anything, "b1", mock.Anything).
		Return(nil, apperr.FromStatus("bookings.update", 409, "slot taken")).Once()
	ops := newOperations(be, nil)

	b := &models.Booking{ID: "b1", ProviderID: "p1", Start: at(9, 0), End: at(10, 0), Status: models.StatusConfirmed}
	_, err := ops.Reschedule(context.Background(), testProvider(t), b, at(13, 0))

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	be.AssertExpectations(t)
}
