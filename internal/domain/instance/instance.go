// internal/domain/instance/instance.go
package instance

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"compliance_scheduler/internal/domain/calendar"
)

// Status is the lifecycle state of an Instance. Only pending -> completed and
// pending -> missed are allowed; completed and missed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusMissed:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusMissed }

// Instance is one scheduled occurrence of a control on one calendar date.
// Corresponds to the 'control_instances' table.
type Instance struct {
	ID            int64
	ControlID     int64
	ScheduledDate calendar.Date
	Status        Status
	ExpiresAt     time.Time // end of ScheduledDate in the reference time zone
	CompletedAt   sql.NullTime
	CompletedBy   sql.NullInt64
	Measurements  json.RawMessage // opaque to the scheduler
	Notes         sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Actor identifies who moved an instance to missed.
type Actor string

// SystemActor is recorded when the expiry sweeper performs the transition.
const SystemActor Actor = "system"

// UserActor is the actor for a human reporter.
func UserActor(userID int64) Actor { return Actor(fmt.Sprintf("user:%d", userID)) }

func (a Actor) IsSystem() bool { return a == SystemActor }

// AutoMissedReason is written by the expiry sweeper.
const AutoMissedReason = "Automatically marked as missed"

// MissedRecord is the audit entry written alongside every transition to missed.
// Corresponds to the 'missed_controls' table.
type MissedRecord struct {
	ID             int64
	InstanceID     int64
	Reason         string
	StandardExcuse sql.NullString
	Actor          Actor
	ReportedAt     time.Time
}

// Completion carries the data recorded when an instance is completed.
type Completion struct {
	CompletedBy  int64
	CompletedAt  time.Time
	Measurements json.RawMessage
	Notes        string
}
