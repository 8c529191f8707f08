package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/instance"
)

// SweepResult lists what one expiry pass did.
type SweepResult struct {
	ReferenceDate calendar.Date
	SweptAt       time.Time
	Candidates    int
	Transitioned  []int64
	// Skipped counts instances completed or reported between selection and transition.
	Skipped  int
	Failures []Failure
}

// Sweeper moves overdue pending instances to missed.
type Sweeper struct {
	store instance.Store
	now   func() time.Time
	log   *logrus.Entry
}

func NewSweeper(store instance.Store, now func() time.Time, log *logrus.Entry) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{store: store, now: now, log: log}
}

// Sweep transitions every pending instance scheduled strictly before ref to missed,
// writing an audit record with the system actor. The same ref and timestamp apply to
// the whole pass. Failures are isolated per instance; the error return is reserved for
// the candidate query itself.
func (s *Sweeper) Sweep(ctx context.Context, ref calendar.Date) (SweepResult, error) {
	res := SweepResult{ReferenceDate: ref, SweptAt: s.now()}

	pending, err := s.store.ListPendingBefore(ctx, ref)
	if err != nil {
		return res, fmt.Errorf("list pending instances before %s: %w", ref, err)
	}
	res.Candidates = len(pending)

	for _, inst := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// The store filter is authoritative; these guards keep a stale row from being expired.
		if inst.Status != instance.StatusPending || inst.CompletedAt.Valid || !inst.ScheduledDate.Before(ref) {
			res.Skipped++
			continue
		}

		rec := instance.MissedRecord{
			InstanceID: inst.ID,
			Reason:     instance.AutoMissedReason,
			Actor:      instance.SystemActor,
			ReportedAt: res.SweptAt,
		}
		err := s.store.MarkMissed(ctx, inst.ID, rec)
		switch {
		case err == nil:
			res.Transitioned = append(res.Transitioned, inst.ID)
		case errors.Is(err, domain.ErrConflict):
			res.Skipped++
			s.log.WithField("instance_id", inst.ID).Debug("Instance left pending state before sweep, skipped")
		default:
			res.Failures = append(res.Failures, Failure{ControlID: inst.ControlID, InstanceID: inst.ID, Err: err})
			s.log.WithFields(logrus.Fields{
				"instance_id": inst.ID,
				"control_id":  inst.ControlID,
			}).WithError(err).Error("Failed to mark instance as missed")
		}
	}
	return res, nil
}
