package scheduling

import (
	"context"
	"time"

	"github.com/dmaia/clinicsched/internal/model"
	"github.com/dmaia/clinicsched/internal/timeutil"
)

// Working hours are fixed clinic-wide: 08:00-18:00 local with a non-bookable
// lunch window 12:00-13:00.
const (
	workdayStartHour = 8
	workdayEndHour   = 18
	lunchStartHour   = 12
	lunchEndHour     = 13
)

type interval struct {
	start time.Time
	end   time.Time
}

// AvailableSlots returns the bookable slot start times for the practitioner
// on the given local date (YYYY-MM-DD), stepping slotMinutes through the
// working day. A candidate slot survives only if its full [start, start+slot)
// interval avoids every booked appointment. An empty result is a valid,
// fully-booked day.
func (e *Engine) AvailableSlots(ctx context.Context, practitionerID string, date string, slotMinutes int) ([]time.Time, error) {
	if slotMinutes <= 0 {
		slotMinutes = model.DefaultDurationMinutes
	}
	slot := time.Duration(slotMinutes) * time.Minute

	dayStart, dayEnd, err := timeutil.DayBounds(date, e.loc)
	if err != nil {
		return nil, &model.ValidationError{Field: "date", Reason: err.Error()}
	}

	booked, err := e.store.ListPractitionerAppointments(ctx, practitionerID, dayStart, dayEnd, model.BlockingStatuses())
	if err != nil {
		return nil, err
	}
	busy := make([]interval, 0, len(booked))
	for i := range booked {
		busy = append(busy, interval{start: booked[i].Start(), end: booked[i].End()})
	}

	day, _ := time.ParseInLocation("2006-01-02", date, e.loc)
	windows := []interval{
		{start: localHour(day, workdayStartHour), end: localHour(day, lunchStartHour)},
		{start: localHour(day, lunchEndHour), end: localHour(day, workdayEndHour)},
	}

	var slots []time.Time
	for _, win := range windows {
		for t := win.start; !t.Add(slot).After(win.end); t = t.Add(slot) {
			if overlapsAny(t, t.Add(slot), busy) {
				continue
			}
			slots = append(slots, t)
		}
	}
	return slots, nil
}

func overlapsAny(start, end time.Time, busy []interval) bool {
	for _, b := range busy {
		if timeutil.Overlaps(start, end, b.start, b.end) {
			return true
		}
	}
	return false
}

func localHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}
