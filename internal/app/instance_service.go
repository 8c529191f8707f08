package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/instance"
)

// InstanceDetails is an instance with its missed audit record, when it has one.
type InstanceDetails struct {
	Instance *instance.Instance
	Missed   *instance.MissedRecord
}

// InstanceService covers the human side of the instance lifecycle.
type InstanceService struct {
	store  instance.Store
	now    func() time.Time
	logger *logrus.Entry
}

func NewInstanceService(store instance.Store, now func() time.Time, logger *logrus.Entry) *InstanceService {
	if now == nil {
		now = time.Now
	}
	return &InstanceService{store: store, now: now, logger: logger}
}

// Complete records a completion. Only a pending instance can be completed.
func (s *InstanceService) Complete(ctx context.Context, id, completedBy int64, measurements json.RawMessage, notes string) (*instance.Instance, error) {
	if completedBy <= 0 {
		return nil, domain.NewValidationError("completed_by", "is required")
	}
	if len(measurements) > 0 && !json.Valid(measurements) {
		return nil, domain.NewValidationError("measurements", "must be valid JSON")
	}

	inst, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != instance.StatusPending {
		return nil, fmt.Errorf("instance %d is %s: %w", id, inst.Status, domain.ErrConflict)
	}

	done, err := s.store.Complete(ctx, id, instance.Completion{
		CompletedBy:  completedBy,
		CompletedAt:  s.now(),
		Measurements: measurements,
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"instance_id": id, "completed_by": completedBy}).Info("Instance completed")
	return done, nil
}

// ReportMissed is the explicit "report missed" action by a person.
func (s *InstanceService) ReportMissed(ctx context.Context, id int64, reason, standardExcuse string, reportedBy int64) (*InstanceDetails, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	if reportedBy <= 0 {
		return nil, domain.NewValidationError("reported_by", "is required")
	}

	inst, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != instance.StatusPending {
		return nil, fmt.Errorf("instance %d is %s: %w", id, inst.Status, domain.ErrConflict)
	}

	rec := instance.MissedRecord{
		InstanceID: id,
		Reason:     reason,
		Actor:      instance.UserActor(reportedBy),
		ReportedAt: s.now(),
	}
	if excuse := strings.TrimSpace(standardExcuse); excuse != "" {
		rec.StandardExcuse.String = excuse
		rec.StandardExcuse.Valid = true
	}
	if err := s.store.MarkMissed(ctx, id, rec); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"instance_id": id, "reported_by": reportedBy}).Info("Instance reported as missed")

	return s.Get(ctx, id)
}

// Get returns the instance and, when it is missed, its audit record.
func (s *InstanceService) Get(ctx context.Context, id int64) (*InstanceDetails, error) {
	inst, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &InstanceDetails{Instance: inst}
	if inst.Status == instance.StatusMissed {
		rec, err := s.store.GetMissedRecord(ctx, id)
		if err != nil && !domain.IsNotFound(err) {
			return nil, err
		}
		details.Missed = rec
	}
	return details, nil
}

func (s *InstanceService) List(ctx context.Context, f instance.Filter) ([]*instance.Instance, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, domain.NewValidationError("end_date", "is before start_date")
	}
	return s.store.List(ctx, f)
}
