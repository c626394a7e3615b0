// Package models holds the booking core data types.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkingHoursRule describes when a provider accepts appointments.
// Start and End are offsets from local midnight.
type WorkingHoursRule struct {
	ProviderID   string
	Days         map[time.Weekday]bool
	Start        time.Duration
	End          time.Duration
	SlotDuration time.Duration
	Break        time.Duration
	Buffer       time.Duration
}

// NewWorkingHoursRule validates the parameters and builds a rule.
// start and end use the "HH:MM" format.
func NewWorkingHoursRule(
	providerID string,
	days []time.Weekday,
	start, end string,
	slotDuration, breakDuration, buffer time.Duration,
) (*WorkingHoursRule, error) {
	startOffset, err := ParseClock(start)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	endOffset, err := ParseClock(end)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}
	if startOffset >= endOffset {
		return nil, fmt.Errorf("start %s must be before end %s", start, end)
	}
	if slotDuration <= 0 {
		return nil, errors.New("slot duration must be positive")
	}
	if breakDuration < 0 {
		return nil, errors.New("break cannot be negative")
	}
	if buffer < 0 {
		return nil, errors.New("buffer cannot be negative")
	}

	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
		set[d] = true
	}

	return &WorkingHoursRule{
		ProviderID:   providerID,
		Days:         set,
		Start:        startOffset,
		End:          endOffset,
		SlotDuration: slotDuration,
		Break:        breakDuration,
		Buffer:       buffer,
	}, nil
}

// WorksOn reports whether the provider works on the weekday.
func (r *WorkingHoursRule) WorksOn(d time.Weekday) bool {
	return r.Days[d]
}

// Window returns the working interval on the given date, in the date's location.
func (r *WorkingHoursRule) Window(date time.Time) (time.Time, time.Time) {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return midnight.Add(r.Start), midnight.Add(r.End)
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}

	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Service is a bookable service from a provider's catalog.
type Service struct {
	ID       string
	Name     string
	Duration time.Duration
	Price    int64 // minor currency units
}

// Provider is a bookable provider with its schedule and catalog.
type Provider struct {
	ID       string
	Name     string
	Rule     *WorkingHoursRule
	Services []Service
}

// Service looks up a catalog entry by id.
func (p *Provider) Service(id string) (Service, bool) {
	for _, s := range p.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}
