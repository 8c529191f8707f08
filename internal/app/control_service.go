package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
)

// Custom application-level errors for the control service
var ErrControlAlreadyInactive = fmt.Errorf("control is already inactive")

// ControlInput is an administrator's create or edit request.
// FrequencyType and FrequencyConfig arrive raw and are validated here.
type ControlInput struct {
	LocationID      int64
	CategoryID      *int64
	FrequencyType   string
	FrequencyConfig json.RawMessage
	StartDate       *calendar.Date
	EndDate         *calendar.Date
	// ClearStartDate and ClearEndDate remove a bound on update. A nil date alone keeps it.
	ClearStartDate bool
	ClearEndDate   bool
	IsActive       *bool // nil keeps the current value; new controls default to active
}

type ControlService struct {
	controlRepo control.Repository
	driver      *Driver
	logger      *logrus.Entry
}

func NewControlService(cr control.Repository, driver *Driver, logger *logrus.Entry) *ControlService {
	return &ControlService{
		controlRepo: cr,
		driver:      driver,
		logger:      logger,
	}
}

// CreateControl validates and stores a new control, then generates its instances for
// the rest of the current month. A failed generation does not undo the creation; it is
// reported in the returned summary.
func (s *ControlService) CreateControl(ctx context.Context, in ControlInput) (*control.Control, RunSummary, error) {
	if in.LocationID <= 0 {
		return nil, RunSummary{}, domain.NewValidationError("location_id", "is required")
	}
	rule, err := control.ParseRule(in.FrequencyType, in.FrequencyConfig)
	if err != nil {
		return nil, RunSummary{}, err
	}
	if err := checkDateOrder(in.StartDate, in.EndDate); err != nil {
		return nil, RunSummary{}, err
	}

	c := &control.Control{
		LocationID: in.LocationID,
		CategoryID: nullInt64(in.CategoryID),
		Rule:       rule,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		IsActive:   true, // New controls are active by default
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}

	if err := s.controlRepo.Create(ctx, c); err != nil {
		return nil, RunSummary{}, fmt.Errorf("failed to create control in repository: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"control_id":  c.ID,
		"location_id": c.LocationID,
		"rule":        c.Rule.String(),
	}).Info("Control created")

	return c, s.generate(ctx, c), nil
}

// UpdateControl applies an edit. Instances that already exist are never rewritten;
// the new rule only adds the dates it newly requires.
func (s *ControlService) UpdateControl(ctx context.Context, id int64, in ControlInput) (*control.Control, RunSummary, error) {
	c, err := s.controlRepo.GetControl(ctx, id)
	if err != nil {
		return nil, RunSummary{}, err
	}

	if in.FrequencyType == "" && len(in.FrequencyConfig) > 0 {
		return nil, RunSummary{}, domain.NewValidationError("frequency_type", "is required when frequency_config is given")
	}
	if in.ClearStartDate && in.StartDate != nil {
		return nil, RunSummary{}, domain.NewValidationError("start_date", "cannot be set and cleared at once")
	}
	if in.ClearEndDate && in.EndDate != nil {
		return nil, RunSummary{}, domain.NewValidationError("end_date", "cannot be set and cleared at once")
	}
	if in.FrequencyType != "" {
		rule, err := control.ParseRule(in.FrequencyType, in.FrequencyConfig)
		if err != nil {
			return nil, RunSummary{}, err
		}
		c.Rule = rule
		c.RuleErr = nil
	}
	if in.LocationID > 0 {
		c.LocationID = in.LocationID
	}
	if in.CategoryID != nil {
		c.CategoryID = nullInt64(in.CategoryID)
	}
	switch {
	case in.ClearStartDate:
		c.StartDate = nil
	case in.StartDate != nil:
		c.StartDate = in.StartDate
	}
	switch {
	case in.ClearEndDate:
		c.EndDate = nil
	case in.EndDate != nil:
		c.EndDate = in.EndDate
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if c.RuleErr != nil {
		return nil, RunSummary{}, domain.NewValidationError("frequency_config", "stored rule is invalid and must be replaced")
	}
	if err := checkDateOrder(c.StartDate, c.EndDate); err != nil {
		return nil, RunSummary{}, err
	}

	if err := s.controlRepo.Update(ctx, c); err != nil {
		return nil, RunSummary{}, fmt.Errorf("failed to update control in repository: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"control_id": c.ID, "rule": c.Rule.String()}).Info("Control updated")

	if !c.IsActive {
		return c, RunSummary{}, nil
	}
	return c, s.generate(ctx, c), nil
}

// DeactivateControl stops future generation. Pending instances already created stay
// pending and are handled by the sweeper like any other.
func (s *ControlService) DeactivateControl(ctx context.Context, id int64) (*control.Control, error) {
	c, err := s.controlRepo.GetControl(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return c, ErrControlAlreadyInactive
	}

	if err := s.controlRepo.SetActive(ctx, c.ID, false); err != nil {
		return nil, fmt.Errorf("failed to update control to inactive in repository: %w", err)
	}
	c.IsActive = false
	s.logger.WithField("control_id", c.ID).Info("Control deactivated")
	return c, nil
}

func (s *ControlService) GetControl(ctx context.Context, id int64) (*control.Control, error) {
	return s.controlRepo.GetControl(ctx, id)
}

func (s *ControlService) ListControls(ctx context.Context, locationID int64) ([]*control.Control, error) {
	if locationID <= 0 {
		return nil, domain.NewValidationError("location_id", "must be positive")
	}
	return s.controlRepo.ListByLocation(ctx, locationID)
}

func (s *ControlService) generate(ctx context.Context, c *control.Control) RunSummary {
	summary, err := s.driver.RunForControl(ctx, c.ID)
	if err != nil {
		s.logger.WithField("control_id", c.ID).WithError(err).Error("On-demand generation failed")
		summary.Failures = append(summary.Failures, Failure{ControlID: c.ID, Err: err})
	}
	return summary
}

func checkDateOrder(start, end *calendar.Date) error {
	if start != nil && end != nil && end.Before(*start) {
		return domain.NewValidationError("end_date", fmt.Sprintf("%s is before start date %s", end, start))
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// IsAlreadyInactive lets transports tell the benign deactivate case apart.
func IsAlreadyInactive(err error) bool { return errors.Is(err, ErrControlAlreadyInactive) }
