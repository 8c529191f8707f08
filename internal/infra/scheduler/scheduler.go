package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/infra/lock"
)

// Triggers is the part of the scheduling driver the cron jobs call.
type Triggers interface {
	Today() calendar.Date
	RunLookAheadGeneration(ctx context.Context) (app.RunSummary, error)
	RunMonthBatch(ctx context.Context, year int, month time.Month, controlID *int64) (app.RunSummary, error)
	RunExpirySweep(ctx context.Context) (app.RunSummary, error)
	RunRecentlyChanged(ctx context.Context, since time.Time) (app.RunSummary, error)
}

// Specs holds the cron expressions and per-run timeouts.
type Specs struct {
	LookAhead         string
	Sweep             string
	Monthly           string
	Recent            string
	GenerationTimeout time.Duration
	SweepTimeout      time.Duration
	LockTTL           time.Duration
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) (app.RunSummary, error)
}

// GenerationScheduler is the time-driven trigger: it only decides when the driver runs.
type GenerationScheduler struct {
	cronEngine *cron.Cron
	triggers   Triggers
	locker     lock.Locker
	specs      Specs
	logger     *logrus.Entry
	now        func() time.Time
}

func NewGenerationScheduler(triggers Triggers, locker lock.Locker, specs Specs, loc *time.Location, logger *logrus.Entry) *GenerationScheduler {
	return &GenerationScheduler{
		cronEngine: cron.New(cron.WithLocation(loc)), // cron days follow the reference time zone
		triggers:   triggers,
		locker:     locker,
		specs:      specs,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *GenerationScheduler) jobs() []job {
	return []job{
		{
			name:    "lookahead",
			spec:    s.specs.LookAhead,
			timeout: s.specs.GenerationTimeout,
			run:     s.triggers.RunLookAheadGeneration,
		},
		{
			// Registered after look-ahead; the default specs also run it a few minutes later.
			name:    "expiry_sweep",
			spec:    s.specs.Sweep,
			timeout: s.specs.SweepTimeout,
			run:     s.triggers.RunExpirySweep,
		},
		{
			name:    "month_batch",
			spec:    s.specs.Monthly,
			timeout: s.specs.GenerationTimeout,
			run: func(ctx context.Context) (app.RunSummary, error) {
				today := s.triggers.Today()
				return s.triggers.RunMonthBatch(ctx, today.Year, today.Month, nil)
			},
		},
		{
			name:    "recently_changed",
			spec:    s.specs.Recent,
			timeout: s.specs.GenerationTimeout,
			run: func(ctx context.Context) (app.RunSummary, error) {
				return s.triggers.RunRecentlyChanged(ctx, s.now().Add(-24*time.Hour))
			},
		},
	}
}

// Start registers every job and starts the cron engine.
func (s *GenerationScheduler) Start() error {
	s.logger.Info("Starting generation scheduler...")

	for _, j := range s.jobs() {
		if _, err := s.cronEngine.AddFunc(j.spec, func() { s.runJob(j) }); err != nil {
			return fmt.Errorf("could not add %s cron job (%q): %w", j.name, j.spec, err)
		}
		s.logger.WithFields(logrus.Fields{"job": j.name, "spec": j.spec}).Info("Cron job registered")
	}

	s.cronEngine.Start()
	s.logger.Info("Generation scheduler started with jobs.")
	return nil
}

// runJob executes one job under the job lock and its timeout. A job already running
// elsewhere is skipped rather than queued.
func (s *GenerationScheduler) runJob(j job) {
	log := s.logger.WithField("job", j.name)
	log.Info("Cron job triggered")

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	held, err := s.locker.Obtain(ctx, "job:"+j.name, s.specs.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			log.Info("Job already running elsewhere, skipping")
			return
		}
		log.WithError(err).Warn("Could not obtain job lock, running without it")
	} else {
		defer func() {
			if releaseErr := held.Release(context.Background()); releaseErr != nil {
				log.WithError(releaseErr).Warn("Failed to release job lock")
			}
		}()
	}

	summary, err := j.run(ctx)
	if err != nil {
		log.WithError(err).WithField("run_id", summary.RunID).Error("Cron job failed")
		return
	}
	entry := log.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"attempted": summary.Attempted,
		"created":   summary.Created,
		"missed":    summary.Transitioned,
		"failures":  len(summary.Failures),
	})
	if summary.OK() {
		entry.Info("Cron job finished")
	} else {
		entry.Warn("Cron job finished with failures")
	}
}

func (s *GenerationScheduler) Stop() {
	s.logger.Info("Stopping generation scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Generation scheduler gracefully stopped.")
}
