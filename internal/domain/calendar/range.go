package calendar

import "time"

// Range is a closed interval [Start, End] of days.
type Range struct {
	Start Date
	End   Date
}

// Day is the single-day range used by look-ahead generation.
func Day(d Date) Range { return Range{Start: d, End: d} }

// Month is the full calendar month.
func Month(year int, month time.Month) Range {
	return Range{
		Start: Date{Year: year, Month: month, Day: 1},
		End:   Date{Year: year, Month: month, Day: DaysIn(year, month)},
	}
}

// Empty reports whether the range contains no day.
func (r Range) Empty() bool { return r.End.Before(r.Start) }

// Contains reports whether d lies in [Start, End].
func (r Range) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Intersect narrows r by optional lower and upper bounds. A nil bound is unbounded.
func (r Range) Intersect(from, to *Date) Range {
	out := r
	if from != nil && from.After(out.Start) {
		out.Start = *from
	}
	if to != nil && to.Before(out.End) {
		out.End = *to
	}
	return out
}

// Days lists every day of the range in order.
func (r Range) Days() []Date {
	if r.Empty() {
		return nil
	}
	days := make([]Date, 0, r.Len())
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Len is the number of days in the range.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return int(r.End.utc().Sub(r.Start.utc()).Hours()/24) + 1
}

func (r Range) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}

// Months calls fn with the year and month of every calendar month overlapping r.
func (r Range) Months(fn func(year int, month time.Month)) {
	if r.Empty() {
		return
	}
	y, m := r.Start.Year, r.Start.Month
	for {
		fn(y, m)
		if y == r.End.Year && m == r.End.Month {
			return
		}
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
}
