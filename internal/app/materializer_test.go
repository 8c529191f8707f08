package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
)

var alwaysActive = control.ActiveWindow{IsActive: true}

func dateStrings(ds []calendar.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func TestMaterialize_DailyIntersectsActiveWindow(t *testing.T) {
	window := calendar.Month(2024, time.March)
	bounds := control.ActiveWindow{Start: datePtr("2024-03-10"), End: datePtr("2024-03-12"), IsActive: true}

	got := app.Materialize(control.Daily(), bounds, window)
	assert.Equal(t, []string{"2024-03-10", "2024-03-11", "2024-03-12"}, dateStrings(got))

	all := app.Materialize(control.Daily(), alwaysActive, window)
	assert.Len(t, all, 31)
}

func TestMaterialize_InactiveControlHasNoDates(t *testing.T) {
	bounds := control.ActiveWindow{IsActive: false}
	for _, rule := range []control.FrequencyRule{
		control.Daily(),
		control.Weekly(time.Monday),
		control.Monthly(1),
		control.Yearly(time.March, 1),
		control.Custom(time.Monday, time.Friday),
	} {
		assert.Empty(t, app.Materialize(rule, bounds, calendar.Month(2024, time.March)), rule.String())
	}
}

func TestMaterialize_ControlWindowOutsideRange(t *testing.T) {
	bounds := control.ActiveWindow{Start: datePtr("2024-04-01"), IsActive: true}
	assert.Empty(t, app.Materialize(control.Daily(), bounds, calendar.Month(2024, time.March)))

	ended := control.ActiveWindow{End: datePtr("2024-02-29"), IsActive: true}
	assert.Empty(t, app.Materialize(control.Daily(), ended, calendar.Month(2024, time.March)))
}

func TestMaterialize_WeeklyWednesdaysInMarch2024(t *testing.T) {
	got := app.Materialize(control.Weekly(time.Wednesday), alwaysActive, calendar.Month(2024, time.March))
	assert.Equal(t, []string{"2024-03-06", "2024-03-13", "2024-03-20", "2024-03-27"}, dateStrings(got))
}

func TestMaterialize_WeeklyMatchesWeekdayOnly(t *testing.T) {
	windows := []calendar.Range{
		calendar.Month(2024, time.February),
		{Start: calendar.MustParse("2023-12-20"), End: calendar.MustParse("2024-01-10")},
		calendar.Day(calendar.MustParse("2024-03-06")),
	}
	for _, w := range windows {
		for dow := time.Sunday; dow <= time.Saturday; dow++ {
			got := app.Materialize(control.Weekly(dow), alwaysActive, w)

			expected := 0
			for _, d := range w.Days() {
				if d.Weekday() == dow {
					expected++
				}
			}
			require.Len(t, got, expected, "%s %s", w, dow)
			for _, d := range got {
				assert.Equal(t, dow, d.Weekday())
				assert.True(t, w.Contains(d), "%s outside %s", d, w)
			}
		}
	}
}

func TestMaterialize_MonthlySkipsShortMonths(t *testing.T) {
	assert.Empty(t, app.Materialize(control.Monthly(31), alwaysActive, calendar.Month(2024, time.April)))

	w := calendar.Range{Start: calendar.MustParse("2024-01-01"), End: calendar.MustParse("2024-04-30")}
	got := app.Materialize(control.Monthly(31), alwaysActive, w)
	assert.Equal(t, []string{"2024-01-31", "2024-03-31"}, dateStrings(got))

	assert.Empty(t, app.Materialize(control.Monthly(29), alwaysActive, calendar.Month(2023, time.February)))
	assert.Equal(t, []string{"2024-02-29"},
		dateStrings(app.Materialize(control.Monthly(29), alwaysActive, calendar.Month(2024, time.February))))
}

func TestMaterialize_MonthlyRespectsPartialWindow(t *testing.T) {
	w := calendar.Range{Start: calendar.MustParse("2024-03-16"), End: calendar.MustParse("2024-04-20")}
	got := app.Materialize(control.Monthly(15), alwaysActive, w)
	assert.Equal(t, []string{"2024-04-15"}, dateStrings(got))
}

func TestMaterialize_YearlyFeb28NeverFeb29(t *testing.T) {
	w := calendar.Range{Start: calendar.MustParse("2020-01-01"), End: calendar.MustParse("2025-12-31")}
	got := app.Materialize(control.Yearly(time.February, 28), alwaysActive, w)

	assert.Equal(t, []string{
		"2020-02-28", "2021-02-28", "2022-02-28", "2023-02-28", "2024-02-28", "2025-02-28",
	}, dateStrings(got))
}

func TestMaterialize_YearlyOutsideWindow(t *testing.T) {
	assert.Empty(t, app.Materialize(control.Yearly(time.June, 1), alwaysActive, calendar.Month(2024, time.March)))

	got := app.Materialize(control.Yearly(time.March, 5), alwaysActive, calendar.Month(2024, time.March))
	assert.Equal(t, []string{"2024-03-05"}, dateStrings(got))
}

func TestMaterialize_CustomDeduplicatesAndOrders(t *testing.T) {
	rule := control.Custom(time.Friday, time.Monday, time.Friday)
	w := calendar.Range{Start: calendar.MustParse("2024-03-01"), End: calendar.MustParse("2024-03-11")}

	got := app.Materialize(rule, alwaysActive, w)
	assert.Equal(t, []string{"2024-03-01", "2024-03-04", "2024-03-08", "2024-03-11"}, dateStrings(got))
}

func TestMaterialize_IsDeterministic(t *testing.T) {
	c := &control.Control{
		Rule:      control.Custom(time.Tuesday, time.Thursday),
		StartDate: datePtr("2024-01-15"),
		IsActive:  true,
	}
	w := calendar.Range{Start: calendar.MustParse("2024-01-01"), End: calendar.MustParse("2024-03-31")}

	first := app.MaterializeControl(c, w)
	second := app.MaterializeControl(c, w)
	assert.Equal(t, first, second)
	assert.Equal(t, "2024-01-16", first[0].String())

	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].Before(first[i]), "dates must be strictly ascending")
	}
}
