// internal/app/driver.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
	"compliance_scheduler/internal/domain/instance"
)

// Driver runs generation and expiry against the control registry and the instance store.
// It holds no state between calls; every trigger can be re-run from scratch.
type Driver struct {
	registry   control.Registry
	store      instance.Store
	reconciler *Reconciler
	sweeper    *Sweeper
	loc        *time.Location
	now        func() time.Time
	logger     *logrus.Entry
}

type DriverOption func(*Driver)

// WithClock replaces time.Now. Tests use it to pin "today".
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

func NewDriver(registry control.Registry, store instance.Store, loc *time.Location, logger *logrus.Entry, opts ...DriverOption) *Driver {
	d := &Driver{
		registry: registry,
		store:    store,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reconciler = NewReconciler(store, loc)
	d.sweeper = NewSweeper(store, d.now, logger.WithField("component", "sweeper"))
	return d
}

// Today is the current calendar day in the reference time zone.
func (d *Driver) Today() calendar.Date {
	return calendar.Today(d.now(), d.loc)
}

// RunLookAheadGeneration creates tomorrow's instances for every active control.
func (d *Driver) RunLookAheadGeneration(ctx context.Context) (RunSummary, error) {
	tomorrow := d.Today().AddDays(1)
	window := calendar.Day(tomorrow)

	controls, err := d.registry.ListActiveControls(ctx, tomorrow)
	if err != nil {
		return d.abort(newRunSummary(OpLookAhead, window, d.now()), err)
	}
	return d.generate(ctx, newRunSummary(OpLookAhead, window, d.now()), controls)
}

// RunForControl is the on-demand trigger after a control is created or edited.
// It covers today through the end of the current month.
func (d *Driver) RunForControl(ctx context.Context, controlID int64) (RunSummary, error) {
	today := d.Today()
	window := calendar.Month(today.Year, today.Month).Intersect(&today, nil)

	c, err := d.registry.GetControl(ctx, controlID)
	if err != nil {
		return d.abort(newRunSummary(OpControl, window, d.now()), err)
	}
	return d.generate(ctx, newRunSummary(OpControl, window, d.now()), []*control.Control{c})
}

// RunMonthBatch generates a whole month for every active control, or only for controlID
// when it is set. Days before today are never offered for creation; existing instances
// for any day, past or future, are left untouched.
func (d *Driver) RunMonthBatch(ctx context.Context, year int, month time.Month, controlID *int64) (RunSummary, error) {
	if month < time.January || month > time.December {
		return RunSummary{}, domain.NewValidationError("month", fmt.Sprintf("must be between 1 and 12, got %d", month))
	}
	if year < 1 || year > 9999 {
		return RunSummary{}, domain.NewValidationError("year", fmt.Sprintf("must be between 1 and 9999, got %d", year))
	}

	today := d.Today()
	window := calendar.Month(year, month).Intersect(&today, nil)
	summary := newRunSummary(OpMonthBatch, window, d.now())

	var controls []*control.Control
	if controlID != nil {
		c, err := d.registry.GetControl(ctx, *controlID)
		if err != nil {
			return d.abort(summary, err)
		}
		controls = []*control.Control{c}
	}

	if window.Empty() {
		d.logger.WithFields(logrus.Fields{
			"run_id":    summary.RunID,
			"operation": OpMonthBatch,
			"month":     fmt.Sprintf("%04d-%02d", year, month),
		}).Info("Month lies before today, nothing to generate")
		summary.Attempted = len(controls)
		summary.FinishedAt = d.now()
		return summary, nil
	}

	if controlID == nil {
		var err error
		controls, err = d.registry.ListActiveControls(ctx, window.Start)
		if err != nil {
			return d.abort(summary, err)
		}
	}
	return d.generate(ctx, summary, controls)
}

// RunRecentlyChanged repeats the on-demand trigger for controls created or updated since
// the given instant, catching edits whose immediate run failed.
func (d *Driver) RunRecentlyChanged(ctx context.Context, since time.Time) (RunSummary, error) {
	today := d.Today()
	window := calendar.Month(today.Year, today.Month).Intersect(&today, nil)

	controls, err := d.registry.ListChangedSince(ctx, since)
	if err != nil {
		return d.abort(newRunSummary(OpRecentlyChanged, window, d.now()), err)
	}
	return d.generate(ctx, newRunSummary(OpRecentlyChanged, window, d.now()), controls)
}

// RunExpirySweep marks every pending instance scheduled before today as missed.
func (d *Driver) RunExpirySweep(ctx context.Context) (RunSummary, error) {
	today := d.Today()
	summary := newRunSummary(OpExpirySweep, calendar.Day(today), d.now())
	log := d.logger.WithFields(logrus.Fields{"run_id": summary.RunID, "operation": OpExpirySweep})

	res, err := d.sweeper.Sweep(ctx, today)
	summary.Attempted = res.Candidates
	summary.Transitioned = len(res.Transitioned)
	summary.Failures = res.Failures
	summary.FinishedAt = d.now()
	if err != nil {
		log.WithError(err).Error("Expiry sweep aborted")
		return summary, err
	}

	log.WithFields(logrus.Fields{
		"reference_date": today.String(),
		"candidates":     res.Candidates,
		"missed":         len(res.Transitioned),
		"skipped":        res.Skipped,
		"failures":       len(res.Failures),
	}).Info("Expiry sweep finished")
	return summary, nil
}

// generate runs materialize + reconcile for each control independently.
// A failing control is recorded and the loop moves on.
func (d *Driver) generate(ctx context.Context, summary RunSummary, controls []*control.Control) (RunSummary, error) {
	window := summary.Window
	log := d.logger.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"operation": summary.Operation,
		"window":    window.String(),
	})
	log.WithField("controls", len(controls)).Info("Generation run started")

	for _, c := range controls {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = d.now()
			log.WithError(err).Warn("Generation run interrupted")
			return summary, err
		}
		summary.Attempted++

		res, err := d.generateForControl(ctx, c, window)
		summary.Created += len(res.Created)
		summary.Existing += res.AlreadyExisted
		if err != nil {
			summary.Failures = append(summary.Failures, Failure{ControlID: c.ID, Err: err})
			log.WithField("control_id", c.ID).WithError(err).Error("Failed to generate instances for control")
			continue
		}
		if len(res.Created) > 0 {
			log.WithFields(logrus.Fields{
				"control_id": c.ID,
				"created":    len(res.Created),
			}).Debug("Created pending instances")
		}
	}

	summary.FinishedAt = d.now()
	log.WithFields(logrus.Fields{
		"attempted": summary.Attempted,
		"created":   summary.Created,
		"existing":  summary.Existing,
		"failures":  len(summary.Failures),
	}).Info("Generation run finished")
	return summary, nil
}

func (d *Driver) generateForControl(ctx context.Context, c *control.Control, window calendar.Range) (ReconcileResult, error) {
	if c.RuleErr != nil {
		return ReconcileResult{}, fmt.Errorf("control %d has an invalid frequency rule: %w", c.ID, c.RuleErr)
	}

	// Materialize first: the due set must be complete before existing dates are read.
	due := MaterializeControl(c, window)
	if len(due) == 0 {
		return ReconcileResult{}, nil
	}

	existing, err := d.store.ListScheduledDates(ctx, c.ID, window)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list scheduled dates: %w", err)
	}
	return d.reconciler.Reconcile(ctx, c.ID, due, existing)
}

func (d *Driver) abort(summary RunSummary, err error) (RunSummary, error) {
	summary.FinishedAt = d.now()
	d.logger.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"operation": summary.Operation,
	}).WithError(err).Error("Run aborted before processing controls")
	return summary, err
}
