package app_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
	"compliance_scheduler/internal/domain/instance"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func datePtr(s string) *calendar.Date {
	d := calendar.MustParse(s)
	return &d
}

// memRegistry is an in-memory control.Repository.
type memRegistry struct {
	mu       sync.Mutex
	nextID   int64
	controls map[int64]*control.Control
	listErr  error
}

func newMemRegistry(controls ...*control.Control) *memRegistry {
	r := &memRegistry{controls: map[int64]*control.Control{}}
	for _, c := range controls {
		if c.ID == 0 {
			r.nextID++
			c.ID = r.nextID
		} else if c.ID > r.nextID {
			r.nextID = c.ID
		}
		r.controls[c.ID] = c
	}
	return r
}

func (r *memRegistry) sorted(keep func(*control.Control) bool) []*control.Control {
	var out []*control.Control
	for _, c := range r.controls {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRegistry) ListActiveControls(_ context.Context, asOf calendar.Date) ([]*control.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.sorted(func(c *control.Control) bool {
		return c.IsActive && (c.EndDate == nil || !c.EndDate.Before(asOf))
	}), nil
}

func (r *memRegistry) GetControl(_ context.Context, id int64) (*control.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[id]
	if !ok {
		return nil, domain.NotFoundf("control", id)
	}
	cp := *c
	return &cp, nil
}

func (r *memRegistry) ListChangedSince(_ context.Context, since time.Time) ([]*control.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(c *control.Control) bool {
		return c.IsActive && !c.UpdatedAt.Before(since)
	}), nil
}

func (r *memRegistry) Create(_ context.Context, c *control.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.controls[c.ID] = &cp
	return nil
}

func (r *memRegistry) Update(_ context.Context, c *control.Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.controls[c.ID]; !ok {
		return domain.NotFoundf("control", c.ID)
	}
	// The Postgres repository re-encodes the rule on every update.
	if _, err := c.Rule.Config(); err != nil {
		return err
	}
	cp := *c
	r.controls[c.ID] = &cp
	return nil
}

func (r *memRegistry) SetActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controls[id]
	if !ok {
		return domain.NotFoundf("control", id)
	}
	c.IsActive = active
	return nil
}

func (r *memRegistry) ListByLocation(_ context.Context, locationID int64) ([]*control.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(c *control.Control) bool { return c.LocationID == locationID }), nil
}

type instanceKey struct {
	controlID int64
	date      calendar.Date
}

// memStore is an in-memory instance.Store with the same uniqueness and
// conditional-transition rules as the Postgres store.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*instance.Instance
	byKey   map[instanceKey]int64
	missed  map[int64]instance.MissedRecord
	creates int

	listDatesErr map[int64]error
	createErr    map[calendar.Date]error
	markErr      map[int64]error
}

func newMemStore() *memStore {
	return &memStore{
		byID:         map[int64]*instance.Instance{},
		byKey:        map[instanceKey]int64{},
		missed:       map[int64]instance.MissedRecord{},
		listDatesErr: map[int64]error{},
		createErr:    map[calendar.Date]error{},
		markErr:      map[int64]error{},
	}
}

// seed stores an instance directly, bypassing CreatePending.
func (s *memStore) seed(controlID int64, date string, status instance.Status) *instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := calendar.MustParse(date)
	s.nextID++
	inst := &instance.Instance{
		ID:            s.nextID,
		ControlID:     controlID,
		ScheduledDate: d,
		Status:        status,
		ExpiresAt:     calendar.EndOfDay(d, time.UTC),
	}
	if status == instance.StatusCompleted {
		inst.CompletedAt.Time = d.StartIn(time.UTC).Add(10 * time.Hour)
		inst.CompletedAt.Valid = true
	}
	s.byID[inst.ID] = inst
	s.byKey[instanceKey{controlID, d}] = inst.ID
	return inst
}

func (s *memStore) forControl(controlID int64) []*instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range s.byID {
		if inst.ControlID == controlID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledDate.Before(out[j].ScheduledDate) })
	return out
}

func (s *memStore) ListScheduledDates(_ context.Context, controlID int64, r calendar.Range) ([]calendar.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listDatesErr[controlID]; err != nil {
		return nil, err
	}
	var out []calendar.Date
	for k := range s.byKey {
		if k.controlID == controlID && r.Contains(k.date) {
			out = append(out, k.date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *memStore) CreatePending(_ context.Context, controlID int64, date calendar.Date, expiresAt time.Time) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[date]; err != nil {
		return nil, err
	}
	if _, ok := s.byKey[instanceKey{controlID, date}]; ok {
		return nil, domain.ErrAlreadyExists
	}
	s.nextID++
	s.creates++
	inst := &instance.Instance{
		ID:            s.nextID,
		ControlID:     controlID,
		ScheduledDate: date,
		Status:        instance.StatusPending,
		ExpiresAt:     expiresAt,
	}
	s.byID[inst.ID] = inst
	s.byKey[instanceKey{controlID, date}] = inst.ID
	cp := *inst
	return &cp, nil
}

func (s *memStore) ListPendingBefore(_ context.Context, date calendar.Date) ([]*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range s.byID {
		if inst.Status == instance.StatusPending && !inst.CompletedAt.Valid && inst.ScheduledDate.Before(date) {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) MarkMissed(_ context.Context, instanceID int64, rec instance.MissedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErr[instanceID]; err != nil {
		return err
	}
	inst, ok := s.byID[instanceID]
	if !ok {
		return domain.NotFoundf("instance", instanceID)
	}
	if inst.Status != instance.StatusPending {
		return domain.ErrConflict
	}
	inst.Status = instance.StatusMissed
	rec.InstanceID = instanceID
	s.missed[instanceID] = rec
	return nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFoundf("instance", id)
	}
	cp := *inst
	return &cp, nil
}

func (s *memStore) Complete(_ context.Context, id int64, c instance.Completion) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFoundf("instance", id)
	}
	if inst.Status != instance.StatusPending {
		return nil, domain.ErrConflict
	}
	inst.Status = instance.StatusCompleted
	inst.CompletedAt.Time, inst.CompletedAt.Valid = c.CompletedAt, true
	inst.CompletedBy.Int64, inst.CompletedBy.Valid = c.CompletedBy, true
	inst.Measurements = c.Measurements
	if c.Notes != "" {
		inst.Notes.String, inst.Notes.Valid = c.Notes, true
	}
	cp := *inst
	return &cp, nil
}

func (s *memStore) GetMissedRecord(_ context.Context, instanceID int64) (*instance.MissedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.missed[instanceID]
	if !ok {
		return nil, domain.NotFoundf("missed record for instance", instanceID)
	}
	return &rec, nil
}

func (s *memStore) List(_ context.Context, f instance.Filter) ([]*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range s.byID {
		if f.ControlID != 0 && inst.ControlID != f.ControlID {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.From != nil && inst.ScheduledDate.Before(*f.From) {
			continue
		}
		if f.To != nil && inst.ScheduledDate.After(*f.To) {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
