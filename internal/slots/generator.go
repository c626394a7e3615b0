// Package slots computes candidate appointment slots and their availability.
package slots

import (
	"sort"
	"time"

	"slotbook/internal/models"
)

// Generate builds the day's slot grid for a working-hours rule.
// Slots ending at or before now are marked past. A trailing slot that would
// cross the end of working hours is dropped.
func Generate(date time.Time, rule *models.WorkingHoursRule, now time.Time) []models.TimeSlot {
	if rule == nil || !rule.WorksOn(date.Weekday()) {
		return nil
	}

	start, end := rule.Window(date)
	step := rule.SlotDuration + rule.Break

	var result []models.TimeSlot
	for cursor := start; !cursor.Add(rule.SlotDuration).After(end); cursor = cursor.Add(step) {
		slotEnd := cursor.Add(rule.SlotDuration)

		state := models.Available
		if !slotEnd.After(now) {
			state = models.Past
		}

		result = append(result, models.TimeSlot{
			Start:        cursor,
			End:          slotEnd,
			ProviderID:   rule.ProviderID,
			Availability: state,
		})
	}

	return result
}

// Available returns only selectable slots.
func Available(slots []models.TimeSlot) []models.TimeSlot {
	var available []models.TimeSlot
	for _, s := range slots {
		if s.IsAvailable() {
			available = append(available, s)
		}
	}
	return available
}

// Find returns the slot starting at the given instant.
func Find(slots []models.TimeSlot, start time.Time) (models.TimeSlot, bool) {
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s, true
		}
	}
	return models.TimeSlot{}, false
}

// FindConsecutive groups available slots that touch end-to-start.
func FindConsecutive(slots []models.TimeSlot) [][]models.TimeSlot {
	available := Available(slots)
	if len(available) == 0 {
		return nil
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].Start.Before(available[j].Start)
	})

	var groups [][]models.TimeSlot
	current := []models.TimeSlot{available[0]}

	for i := 1; i < len(available); i++ {
		if available[i].Start.Equal(current[len(current)-1].End) {
			current = append(current, available[i])
		} else {
			groups = append(groups, current)
			current = []models.TimeSlot{available[i]}
		}
	}
	groups = append(groups, current)

	return groups
}

// CanBookConsecutive checks that count touching available slots start at the given instant.
func CanBookConsecutive(slots []models.TimeSlot, start time.Time, count int) bool {
	if count <= 0 {
		return false
	}

	startIdx := -1
	for i, s := range slots {
		if s.Start.Equal(start) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 || startIdx+count > len(slots) {
		return false
	}

	for i := 0; i < count; i++ {
		idx := startIdx + i
		if !slots[idx].IsAvailable() {
			return false
		}
		if i > 0 && !slots[idx].Start.Equal(slots[idx-1].End) {
			return false
		}
	}

	return true
}

// SlotsNeeded returns how many slots of the given length cover total.
func SlotsNeeded(total, slot time.Duration) int {
	if slot <= 0 || total <= 0 {
		return 0
	}
	n := int(total / slot)
	if total%slot != 0 {
		n++
	}
	return n
}
