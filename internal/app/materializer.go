// internal/app/materializer.go
package app

import (
	"time"

	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
)

// Materialize returns the ascending, duplicate-free dates in window on which rule is due,
// restricted to the control's active window. It is pure: no I/O and no clock.
// The rule is assumed valid; an invalid rule yields no dates.
func Materialize(rule control.FrequencyRule, bounds control.ActiveWindow, window calendar.Range) []calendar.Date {
	if !bounds.IsActive {
		return nil
	}
	r := window.Intersect(bounds.Start, bounds.End)
	if r.Empty() {
		return nil
	}

	switch p := rule.Params.(type) {
	case control.DailyParams:
		return r.Days()
	case control.WeeklyParams:
		return weekly(r, p.DayOfWeek)
	case control.MonthlyParams:
		return monthly(r, p.DayOfMonth)
	case control.YearlyParams:
		return yearly(r, p.Month, p.DayOfMonth)
	case control.CustomParams:
		return onWeekdays(r, p.DaysOfWeek)
	}
	return nil
}

// MaterializeControl is Materialize for a stored control.
func MaterializeControl(c *control.Control, window calendar.Range) []calendar.Date {
	return Materialize(c.Rule, c.Window(), window)
}

func weekly(r calendar.Range, day time.Weekday) []calendar.Date {
	first := r.Start
	// Advance to the first matching weekday, then step a week at a time.
	first = first.AddDays((int(day) - int(first.Weekday()) + 7) % 7)

	var out []calendar.Date
	for d := first; r.Contains(d); d = d.AddDays(7) {
		out = append(out, d)
	}
	return out
}

// monthly skips a month entirely when dayOfMonth does not exist in it.
func monthly(r calendar.Range, dayOfMonth int) []calendar.Date {
	var out []calendar.Date
	r.Months(func(year int, month time.Month) {
		if dayOfMonth > calendar.DaysIn(year, month) {
			return
		}
		d := calendar.Date{Year: year, Month: month, Day: dayOfMonth}
		if r.Contains(d) {
			out = append(out, d)
		}
	})
	return out
}

// yearly clamps dayOfMonth to the length of the target month.
func yearly(r calendar.Range, month time.Month, dayOfMonth int) []calendar.Date {
	var out []calendar.Date
	for year := r.Start.Year; year <= r.End.Year; year++ {
		day := min(dayOfMonth, calendar.DaysIn(year, month))
		d := calendar.Date{Year: year, Month: month, Day: day}
		if r.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

func onWeekdays(r calendar.Range, days []time.Weekday) []calendar.Date {
	var set [7]bool
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			set[d] = true
		}
	}

	var out []calendar.Date
	for _, d := range r.Days() {
		if set[d.Weekday()] {
			out = append(out, d)
		}
	}
	return out
}
