package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/backend"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/slots"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState is the read side of the session the workflow needs.
type SessionState interface {
	Authenticated() bool
	UserID() string
}

// Deps are the collaborators of a workflow.
type Deps struct {
	Backend backend.Backend
	Session SessionState
	Events  *events.EventBus
	Now     func() time.Time
	Logger  *zerolog.Logger
}

func (d *Deps) defaults() error {
	if d.Backend == nil {
		return errors.New("backend is required")
	}
	if d.Session == nil {
		return errors.New("session is required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	return nil
}

// Draft is the booking being assembled. It belongs to the workflow until
// the server's record replaces it.
type Draft struct {
	ProviderID string
	ServiceIDs []string
	Duration   time.Duration
	Price      int64
	Start      time.Time
	End        time.Time
	Notes      string
}

// HasSlot reports whether a start time was chosen.
func (d Draft) HasSlot() bool {
	return !d.Start.IsZero()
}

// Workflow is one user's pass through
// ServiceReview -> TimeSelection -> Summary -> Confirmation.
// Actions are processed one at a time; accessors may be called while an
// action is in flight and see the optimistic state.
type Workflow struct {
	provider models.Provider
	deps     Deps
	fsm      *FSM

	// action serializes user actions, including the network calls they make.
	action sync.Mutex

	mu      sync.RWMutex
	state   State
	draft   Draft
	day     *day
	stale   bool
	booking *models.Booking
	lastErr *apperr.Error
	idemKey string
}

// New starts a workflow for the provider in ServiceReview.
func New(provider models.Provider, deps Deps) (*Workflow, error) {
	if provider.Rule == nil {
		return nil, fmt.Errorf("provider %s has no working hours", provider.ID)
	}
	if err := deps.defaults(); err != nil {
		return nil, err
	}
	return &Workflow{
		provider: provider,
		deps:     deps,
		fsm:      NewFSM(),
		state:    StateServiceReview,
		draft:    Draft{ProviderID: provider.ID},
	}, nil
}

// State returns the current step.
func (w *Workflow) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Draft returns a copy of the draft.
func (w *Workflow) Draft() Draft {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d := w.draft
	d.ServiceIDs = append([]string(nil), w.draft.ServiceIDs...)
	return d
}

// Booking returns the optimistic booking while a submission is in flight,
// the server's booking after it succeeded, and nil otherwise.
func (w *Workflow) Booking() *models.Booking {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.booking == nil {
		return nil
	}
	b := *w.booking
	return &b
}

// Slots returns the annotated slots of the loaded day.
func (w *Workflow) Slots() []models.TimeSlot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.day == nil {
		return nil
	}
	return append([]models.TimeSlot(nil), w.day.grid...)
}

// SlotsStale reports whether the slot list must be refreshed before the
// next submission.
func (w *Workflow) SlotsStale() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stale
}

// LastError returns the error surfaced by the last failed action.
func (w *Workflow) LastError() *apperr.Error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// SelectServices replaces the selected services.
func (w *Workflow) SelectServices(ids ...string) error {
	const op = "booking.select_services"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateServiceReview); err != nil {
		return err
	}

	seen := make(map[string]bool, len(ids))
	var total time.Duration
	var price int64
	for _, id := range ids {
		if seen[id] {
			return w.fail(apperr.New(apperr.KindValidation, op, "service "+id+" selected twice"))
		}
		seen[id] = true
		svc, ok := w.provider.Service(id)
		if !ok {
			return w.fail(apperr.New(apperr.KindValidation, op, "unknown service "+id))
		}
		total += svc.Duration
		price += svc.Price
	}

	w.mu.Lock()
	w.draft.ServiceIDs = append([]string(nil), ids...)
	w.draft.Duration = total
	w.draft.Price = price
	w.draft.Start, w.draft.End = time.Time{}, time.Time{}
	w.idemKey = ""
	w.lastErr = nil
	w.mu.Unlock()
	return nil
}

// ToTimeSelection validates the service choice and loads the slots of date.
func (w *Workflow) ToTimeSelection(ctx context.Context, date time.Time) error {
	const op = "booking.to_time_selection"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateServiceReview); err != nil {
		return err
	}
	if len(w.Draft().ServiceIDs) == 0 {
		return w.fail(apperr.New(apperr.KindValidation, op, "select at least one service"))
	}
	if err := w.load(ctx, op, date, false); err != nil {
		return err
	}

	// A slot kept from an earlier pass must belong to the loaded day and
	// still fit on it.
	w.mu.Lock()
	if w.draft.HasSlot() && (!sameDay(w.draft.Start, w.day.date) || !w.day.fits(w.provider.Rule, w.draft.Start, w.draft.End)) {
		w.draft.Start, w.draft.End = time.Time{}, time.Time{}
		w.idemKey = ""
	}
	w.mu.Unlock()

	w.moveTo(StateTimeSelection)
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// LoadSlots switches the time selection to another date.
func (w *Workflow) LoadSlots(ctx context.Context, date time.Time) error {
	const op = "booking.load_slots"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateTimeSelection); err != nil {
		return err
	}
	if err := w.load(ctx, op, date, false); err != nil {
		return err
	}
	w.mu.Lock()
	w.draft.Start, w.draft.End = time.Time{}, time.Time{}
	w.idemKey = ""
	w.mu.Unlock()
	return nil
}

// RefreshSlots reloads the current day bypassing caches. When the chosen
// start is no longer free the selection is cleared and a workflow in
// Summary goes back to TimeSelection.
func (w *Workflow) RefreshSlots(ctx context.Context) error {
	const op = "booking.refresh_slots"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateTimeSelection, StateSummary); err != nil {
		return err
	}

	w.mu.RLock()
	date := w.day.date
	w.mu.RUnlock()

	if err := w.load(ctx, op, date, true); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft.HasSlot() && !w.day.fits(w.provider.Rule, w.draft.Start, w.draft.End) {
		w.draft.Start, w.draft.End = time.Time{}, time.Time{}
		w.idemKey = ""
		if w.state == StateSummary {
			w.state = StateTimeSelection
		}
	}
	return nil
}

// SelectSlot chooses the start of the booking. The whole booked interval
// must be free, not only the first slot.
func (w *Workflow) SelectSlot(start time.Time) error {
	const op = "booking.select_slot"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateTimeSelection); err != nil {
		return err
	}

	w.mu.RLock()
	d, duration := w.day, w.draft.Duration
	w.mu.RUnlock()

	slot, ok := slots.Find(d.grid, start)
	if !ok {
		return w.fail(apperr.New(apperr.KindValidation, op, "no slot starts at "+start.Format("15:04")))
	}
	if !slot.IsAvailable() {
		return w.fail(apperr.New(apperr.KindValidation, op, "slot at "+start.Format("15:04")+" is "+string(slot.Availability)))
	}
	end := start.Add(duration)
	if !d.fits(w.provider.Rule, start, end) {
		return w.fail(apperr.New(apperr.KindValidation, op,
			fmt.Sprintf("%s does not fit at %s", duration, start.Format("15:04"))))
	}

	w.mu.Lock()
	w.draft.Start, w.draft.End = start, end
	w.idemKey = ""
	w.lastErr = nil
	w.mu.Unlock()
	return nil
}

// ToSummary validates the slot choice.
func (w *Workflow) ToSummary() error {
	const op = "booking.to_summary"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateTimeSelection); err != nil {
		return err
	}
	if !w.Draft().HasSlot() {
		return w.fail(apperr.New(apperr.KindValidation, op, "choose a time slot"))
	}
	w.moveTo(StateSummary)
	return nil
}

// SetNotes sets the free-text notes of the draft.
func (w *Workflow) SetNotes(notes string) error {
	const op = "booking.set_notes"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateServiceReview, StateTimeSelection, StateSummary); err != nil {
		return err
	}
	w.mu.Lock()
	if w.draft.Notes != notes {
		w.draft.Notes = notes
		w.idemKey = ""
	}
	w.mu.Unlock()
	return nil
}

// Back returns to the previous step. Choices made so far are kept.
func (w *Workflow) Back() error {
	const op = "booking.back"

	w.action.Lock()
	defer w.action.Unlock()

	cur := w.State()
	prev, ok := previous(cur)
	if !ok {
		return apperr.New(apperr.KindValidation, op, "cannot go back from "+string(cur))
	}
	w.moveTo(prev)
	return nil
}

// Abandon discards the draft and starts over. Nothing is sent.
func (w *Workflow) Abandon() error {
	const op = "booking.abandon"

	w.action.Lock()
	defer w.action.Unlock()

	if cur := w.State(); cur == StateConfirmation {
		return apperr.New(apperr.KindValidation, op, "booking already submitted")
	}

	w.mu.Lock()
	w.state = StateServiceReview
	w.draft = Draft{ProviderID: w.provider.ID}
	w.day = nil
	w.stale = false
	w.booking = nil
	w.lastErr = nil
	w.idemKey = ""
	w.mu.Unlock()
	return nil
}

// Submit sends the draft once. The booking is shown as pending right away
// and replaced by the server's record on success. On failure it is dropped
// and the workflow returns to Summary, or to Failed when the session is
// gone. A new attempt needs another Submit call.
func (w *Workflow) Submit(ctx context.Context) (*models.Booking, error) {
	const op = "booking.submit"

	w.action.Lock()
	defer w.action.Unlock()

	if err := w.expect(op, StateSummary); err != nil {
		return nil, err
	}
	if !w.deps.Session.Authenticated() {
		return nil, w.fail(apperr.New(apperr.KindUnauthenticated, op, "log in to submit the booking"))
	}
	if w.SlotsStale() {
		return nil, w.fail(apperr.New(apperr.KindConflict, op, "slot list is out of date, refresh it first"))
	}

	draft := w.Draft()
	if !draft.Start.After(w.deps.Now()) {
		return nil, w.fail(apperr.New(apperr.KindValidation, op, "chosen time has already passed"))
	}

	optimistic := &models.Booking{
		ClientID:   w.deps.Session.UserID(),
		ProviderID: draft.ProviderID,
		ServiceIDs: draft.ServiceIDs,
		Start:      draft.Start,
		End:        draft.End,
		Status:     models.StatusPending,
		TotalPrice: draft.Price,
		Notes:      draft.Notes,
	}

	w.mu.Lock()
	if w.idemKey == "" {
		w.idemKey = uuid.NewString()
	}
	key := w.idemKey
	w.state = StateConfirmation
	w.booking = optimistic
	w.lastErr = nil
	w.mu.Unlock()
	_ = w.deps.Events.PublishJSON(events.BookingPending, optimistic)

	// Once sent, the outcome is processed even if the caller goes away.
	created, err := w.deps.Backend.CreateBooking(context.WithoutCancel(ctx), backend.CreateBookingRequest{
		ProviderID:     draft.ProviderID,
		ServiceIDs:     draft.ServiceIDs,
		Start:          draft.Start,
		Notes:          draft.Notes,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, w.rollback(op, err)
	}

	w.mu.Lock()
	w.booking = created
	w.idemKey = ""
	w.mu.Unlock()

	metrics.IncSubmission("ok")
	_ = w.deps.Events.PublishJSON(events.BookingConfirmed, created)
	w.deps.Logger.Info().Str("booking_id", created.ID).Str("provider_id", created.ProviderID).
		Time("start", created.Start).Msg("booking submitted")

	b := *created
	return &b, nil
}

func (w *Workflow) rollback(op string, err error) error {
	e := apperr.Classify(op, err)

	w.mu.Lock()
	w.booking = nil
	w.lastErr = e
	switch e.Kind {
	case apperr.KindUnauthenticated, apperr.KindAuthFailure:
		w.state = StateFailed
	case apperr.KindConflict:
		w.state = StateSummary
		w.stale = true
		w.idemKey = ""
	default:
		// Network, timeout and server errors keep the key: the server may
		// have stored the booking and a retry must not duplicate it.
		w.state = StateSummary
	}
	state := w.state
	w.mu.Unlock()

	metrics.IncSubmission(string(e.Kind))
	_ = w.deps.Events.PublishJSON(events.BookingRolledBack, map[string]string{
		"providerId": w.provider.ID,
		"kind":       string(e.Kind),
		"error":      e.Error(),
	})
	w.deps.Logger.Warn().Err(e).Str("state", string(state)).Msg("booking submission failed")
	return e
}

func (w *Workflow) load(ctx context.Context, op string, date time.Time, fresh bool) error {
	d, err := loadDay(ctx, w.deps.Backend, w.provider, w.Draft().ServiceIDs, date, w.deps.Now(), fresh, nil)
	if err != nil {
		return w.fail(apperr.Classify(op, err))
	}

	w.mu.Lock()
	w.day = d
	w.stale = false
	w.lastErr = nil
	w.mu.Unlock()
	return nil
}

func (w *Workflow) expect(op string, allowed ...State) error {
	cur := w.State()
	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	return apperr.New(apperr.KindValidation, op, "not allowed in step "+string(cur))
}

func (w *Workflow) moveTo(to State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fsm.CanTransition(w.state, to) {
		w.deps.Logger.Error().Str("from", string(w.state)).Str("to", string(to)).Msg("invalid workflow transition")
		return
	}
	w.state = to
}

func (w *Workflow) fail(e *apperr.Error) *apperr.Error {
	w.mu.Lock()
	w.lastErr = e
	w.mu.Unlock()
	return e
}
