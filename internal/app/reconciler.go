package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/instance"
)

// ReconcileResult reports what one Reconcile call did.
type ReconcileResult struct {
	Created        []*instance.Instance
	AlreadyExisted int
}

// Reconciler creates the pending instances that are due but not yet stored.
type Reconciler struct {
	store instance.Store
	loc   *time.Location
}

func NewReconciler(store instance.Store, loc *time.Location) *Reconciler {
	return &Reconciler{store: store, loc: loc}
}

// Reconcile creates one pending instance for every date in due that is not in existing.
// Dates in existing are never touched, whatever the status of their instance.
// A create that finds the (control, date) pair already taken counts as existing.
// On a store failure the instances created so far are returned with the error;
// calling again with the same input is safe.
func (r *Reconciler) Reconcile(ctx context.Context, controlID int64, due, existing []calendar.Date) (ReconcileResult, error) {
	var res ReconcileResult

	have := make(map[calendar.Date]struct{}, len(existing))
	for _, d := range existing {
		have[d] = struct{}{}
	}

	seen := make(map[calendar.Date]struct{}, len(due))
	for _, d := range due {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}

		if _, ok := have[d]; ok {
			res.AlreadyExisted++
			continue
		}

		inst, err := r.store.CreatePending(ctx, controlID, d, calendar.EndOfDay(d, r.loc))
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				res.AlreadyExisted++
				continue
			}
			return res, fmt.Errorf("create pending instance for control %d on %s: %w", controlID, d, err)
		}
		res.Created = append(res.Created, inst)
	}
	return res, nil
}
