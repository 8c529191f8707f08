// internal/domain/control/repository.go
package control

import (
	"context"
	"time"

	"compliance_scheduler/internal/domain/calendar"
)

// Registry is the read side the scheduler depends on.
type Registry interface {
	// ListActiveControls returns controls with is_active set whose end date is not before asOf.
	ListActiveControls(ctx context.Context, asOf calendar.Date) ([]*Control, error)
	GetControl(ctx context.Context, id int64) (*Control, error)
	// ListChangedSince returns active controls created or updated at or after since.
	ListChangedSince(ctx context.Context, since time.Time) ([]*Control, error)
}

// Repository adds the administrative write side.
type Repository interface {
	Registry
	Create(ctx context.Context, c *Control) error
	Update(ctx context.Context, c *Control) error
	// SetActive flips is_active only, so it also works on a control whose stored rule is invalid.
	SetActive(ctx context.Context, id int64, active bool) error
	ListByLocation(ctx context.Context, locationID int64) ([]*Control, error)
}
