package database_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
	"compliance_scheduler/internal/domain/instance"
	"compliance_scheduler/internal/infra/database"
)

func datePtr(s string) *calendar.Date {
	d := calendar.MustParse(s)
	return &d
}

func createControl(t *testing.T, repo *database.PostgresControlRepository, c *control.Control) *control.Control {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), c))
	require.NotZero(t, c.ID)
	return c
}

func TestControlRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := database.NewPostgresControlRepository(setupTestDB(t))

	c := createControl(t, repo, &control.Control{
		LocationID: 10,
		Rule:       control.Weekly(time.Sunday),
		StartDate:  datePtr("2024-03-01"),
		IsActive:   true,
	})

	got, err := repo.GetControl(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, control.Weekly(time.Sunday), got.Rule)
	assert.NoError(t, got.RuleErr)
	require.NotNil(t, got.StartDate)
	assert.Equal(t, "2024-03-01", got.StartDate.String())
	assert.Nil(t, got.EndDate)
	assert.False(t, got.CategoryID.Valid)

	got.Rule = control.Custom(time.Monday, time.Thursday)
	got.EndDate = datePtr("2024-12-31")
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.GetControl(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, control.Custom(time.Monday, time.Thursday), again.Rule)
	assert.Equal(t, "2024-12-31", again.EndDate.String())

	_, err = repo.GetControl(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestControlRepository_ListActiveControls(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := database.NewPostgresControlRepository(db)

	open := createControl(t, repo, &control.Control{LocationID: 1, Rule: control.Daily(), IsActive: true})
	endsLater := createControl(t, repo, &control.Control{LocationID: 1, Rule: control.Daily(), EndDate: datePtr("2024-03-31"), IsActive: true})
	createControl(t, repo, &control.Control{LocationID: 1, Rule: control.Daily(), EndDate: datePtr("2024-02-29"), IsActive: true})
	createControl(t, repo, &control.Control{LocationID: 1, Rule: control.Daily(), IsActive: false})

	// A rule corrupted outside the application must not break the listing.
	corrupt := createControl(t, repo, &control.Control{LocationID: 2, Rule: control.Weekly(time.Monday), IsActive: true})
	_, err := db.ExecContext(ctx, `UPDATE location_controls SET frequency_config = '{"dayOfWeek": "monday"}' WHERE id = $1`, corrupt.ID)
	require.NoError(t, err)

	got, err := repo.ListActiveControls(ctx, calendar.MustParse("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{open.ID, endsLater.ID, corrupt.ID}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.ErrorIs(t, got[2].RuleErr, domain.ErrValidation)

	byLocation, err := repo.ListByLocation(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byLocation, 4)
}

func TestControlService_DeactivatesControlWithCorruptRule(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	controls := database.NewPostgresControlRepository(db)
	instances := database.NewPostgresInstanceRepository(db)

	corrupt := createControl(t, controls, &control.Control{LocationID: 3, Rule: control.Weekly(time.Monday), IsActive: true})
	_, err := db.ExecContext(ctx, `UPDATE location_controls SET frequency_config = '{"dayOfWeek": 9}' WHERE id = $1`, corrupt.ID)
	require.NoError(t, err)

	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)
	svc := app.NewControlService(controls, app.NewDriver(controls, instances, time.UTC, log), log)

	c, err := svc.DeactivateControl(ctx, corrupt.ID)
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	got, err := controls.GetControl(ctx, corrupt.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.ErrorIs(t, got.RuleErr, domain.ErrValidation)

	active, err := controls.ListActiveControls(ctx, calendar.MustParse("2024-03-01"))
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, controls.SetActive(ctx, 9999, false), domain.ErrNotFound)
}

func TestControlRepository_UpdateClearsBounds(t *testing.T) {
	ctx := context.Background()
	repo := database.NewPostgresControlRepository(setupTestDB(t))

	c := createControl(t, repo, &control.Control{
		LocationID: 4,
		Rule:       control.Daily(),
		StartDate:  datePtr("2024-03-01"),
		EndDate:    datePtr("2024-03-05"),
		IsActive:   true,
	})
	c.StartDate, c.EndDate = nil, nil
	require.NoError(t, repo.Update(ctx, c))

	got, err := repo.GetControl(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartDate)
	assert.Nil(t, got.EndDate)
}

func TestControlRepository_RejectsInvertedWindow(t *testing.T) {
	repo := database.NewPostgresControlRepository(setupTestDB(t))

	err := repo.Create(context.Background(), &control.Control{
		LocationID: 1,
		Rule:       control.Daily(),
		StartDate:  datePtr("2024-03-10"),
		EndDate:    datePtr("2024-03-01"),
		IsActive:   true,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestInstanceRepository_CreatePendingIsUnique(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	c := createControl(t, database.NewPostgresControlRepository(db), &control.Control{LocationID: 1, Rule: control.Daily(), IsActive: true})
	store := database.NewPostgresInstanceRepository(db)

	day := calendar.MustParse("2024-03-06")
	expires := calendar.EndOfDay(day, time.UTC)

	inst, err := store.CreatePending(ctx, c.ID, day, expires)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusPending, inst.Status)
	assert.Equal(t, "2024-03-06", inst.ScheduledDate.String())
	assert.True(t, expires.Equal(inst.ExpiresAt))

	_, err = store.CreatePending(ctx, c.ID, day, expires)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = store.CreatePending(ctx, 4040, day, expires)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInstanceRepository_ConcurrentCreateLeavesOneRow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	c := createControl(t, database.NewPostgresControlRepository(db), &control.Control{LocationID: 1, Rule: control.Daily(), IsActive: true})
	store := database.NewPostgresInstanceRepository(db)
	day := calendar.MustParse("2024-03-06")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreatePending(ctx, c.ID, day, calendar.EndOfDay(day, time.UTC))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	dates, err := store.ListScheduledDates(ctx, c.ID, calendar.Month(2024, time.March))
	require.NoError(t, err)
	assert.Len(t, dates, 1)
}

func TestInstanceRepository_SweepLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	c := createControl(t, database.NewPostgresControlRepository(db), &control.Control{LocationID: 1, Rule: control.Daily(), IsActive: true})
	store := database.NewPostgresInstanceRepository(db)

	mk := func(s string) *instance.Instance {
		d := calendar.MustParse(s)
		inst, err := store.CreatePending(ctx, c.ID, d, calendar.EndOfDay(d, time.UTC))
		require.NoError(t, err)
		return inst
	}
	overdue := mk("2024-03-06")
	done := mk("2024-03-07")
	today := mk("2024-03-08")

	_, err := store.Complete(ctx, done.ID, instance.Completion{
		CompletedBy:  42,
		CompletedAt:  time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC),
		Measurements: json.RawMessage(`{"temperature": 3.5}`),
		Notes:        "ok",
	})
	require.NoError(t, err)

	pending, err := store.ListPendingBefore(ctx, calendar.MustParse("2024-03-08"))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, overdue.ID, pending[0].ID)

	sweptAt := time.Date(2024, 3, 8, 0, 5, 0, 0, time.UTC)
	require.NoError(t, store.MarkMissed(ctx, overdue.ID, instance.MissedRecord{
		Reason:     instance.AutoMissedReason,
		Actor:      instance.SystemActor,
		ReportedAt: sweptAt,
	}))

	rec, err := store.GetMissedRecord(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.SystemActor, rec.Actor)
	assert.Equal(t, instance.AutoMissedReason, rec.Reason)
	assert.True(t, sweptAt.Equal(rec.ReportedAt))

	// Terminal states refuse a second transition.
	err = store.MarkMissed(ctx, overdue.ID, instance.MissedRecord{Reason: "x", Actor: instance.SystemActor, ReportedAt: sweptAt})
	assert.ErrorIs(t, err, domain.ErrConflict)
	err = store.MarkMissed(ctx, done.ID, instance.MissedRecord{Reason: "x", Actor: instance.SystemActor, ReportedAt: sweptAt})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = store.Complete(ctx, overdue.ID, instance.Completion{CompletedBy: 1, CompletedAt: sweptAt})
	assert.ErrorIs(t, err, domain.ErrConflict)
	err = store.MarkMissed(ctx, 9999, instance.MissedRecord{Reason: "x", Actor: instance.SystemActor, ReportedAt: sweptAt})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stillDone, err := store.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusCompleted, stillDone.Status)
	assert.JSONEq(t, `{"temperature": 3.5}`, string(stillDone.Measurements))

	stillPending, err := store.GetByID(ctx, today.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusPending, stillPending.Status)
}

func TestInstanceRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	controls := database.NewPostgresControlRepository(db)
	a := createControl(t, controls, &control.Control{LocationID: 1, Rule: control.Daily(), IsActive: true})
	b := createControl(t, controls, &control.Control{LocationID: 2, Rule: control.Daily(), IsActive: true})
	store := database.NewPostgresInstanceRepository(db)

	for _, c := range []*control.Control{a, b} {
		for _, s := range []string{"2024-03-05", "2024-03-06", "2024-03-07"} {
			d := calendar.MustParse(s)
			_, err := store.CreatePending(ctx, c.ID, d, calendar.EndOfDay(d, time.UTC))
			require.NoError(t, err)
		}
	}

	byLocation, err := store.List(ctx, instance.Filter{LocationID: 2})
	require.NoError(t, err)
	assert.Len(t, byLocation, 3)
	for _, inst := range byLocation {
		assert.Equal(t, b.ID, inst.ControlID)
	}

	ranged, err := store.List(ctx, instance.Filter{ControlID: a.ID, From: datePtr("2024-03-06"), To: datePtr("2024-03-07")})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "2024-03-06", ranged[0].ScheduledDate.String())

	limited, err := store.List(ctx, instance.Filter{Status: instance.StatusPending, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, limited, 4)
}
