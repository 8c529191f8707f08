package instance

import (
	"context"
	"time"

	"compliance_scheduler/internal/domain/calendar"
)

// Filter narrows Store.List. Zero fields are ignored.
type Filter struct {
	LocationID int64
	ControlID  int64
	Status     Status
	From       *calendar.Date
	To         *calendar.Date
	Limit      uint64
}

// Store is the instance persistence the scheduler reads and writes.
type Store interface {
	// ListScheduledDates returns the dates in r that already have an instance for the
	// control, whatever its status.
	ListScheduledDates(ctx context.Context, controlID int64, r calendar.Range) ([]calendar.Date, error)
	// CreatePending inserts a pending instance. It returns domain.ErrAlreadyExists when an
	// instance for (controlID, date) is already stored.
	CreatePending(ctx context.Context, controlID int64, date calendar.Date, expiresAt time.Time) (*Instance, error)
	// ListPendingBefore returns pending, uncompleted instances scheduled strictly before date.
	ListPendingBefore(ctx context.Context, date calendar.Date) ([]*Instance, error)
	// MarkMissed moves a pending instance to missed and writes rec in one transaction.
	// It returns domain.ErrConflict when the instance is no longer pending.
	MarkMissed(ctx context.Context, instanceID int64, rec MissedRecord) error

	GetByID(ctx context.Context, id int64) (*Instance, error)
	// Complete moves a pending instance to completed. domain.ErrConflict when not pending.
	Complete(ctx context.Context, id int64, c Completion) (*Instance, error)
	GetMissedRecord(ctx context.Context, instanceID int64) (*MissedRecord, error)
	List(ctx context.Context, f Filter) ([]*Instance, error)
}
