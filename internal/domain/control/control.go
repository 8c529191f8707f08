package control

import (
	"database/sql"
	"time"

	"compliance_scheduler/internal/domain/calendar"
)

// Control is a recurring compliance check assigned to a location.
// Corresponds to the 'location_controls' table.
type Control struct {
	ID         int64
	LocationID int64
	CategoryID sql.NullInt64
	Rule       FrequencyRule
	// RuleErr is set by the registry when the stored rule no longer validates.
	// Such a control contributes no dates and is reported as a per-control failure.
	RuleErr   error
	StartDate *calendar.Date // nil: unbounded past
	EndDate   *calendar.Date // nil: unbounded future
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveWindow is the part of a control that bounds its due dates.
type ActiveWindow struct {
	Start    *calendar.Date
	End      *calendar.Date
	IsActive bool
}

func (c *Control) Window() ActiveWindow {
	return ActiveWindow{Start: c.StartDate, End: c.EndDate, IsActive: c.IsActive}
}
