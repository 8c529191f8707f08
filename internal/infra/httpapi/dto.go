package httpapi

import (
	"encoding/json"
	"time"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
	"compliance_scheduler/internal/domain/instance"
)

// =============================================================================
// REQUESTS
// =============================================================================

type batchRequest struct {
	Year      int    `json:"year" validate:"required,gte=1970,lte=9999"`
	Month     int    `json:"month" validate:"required,gte=1,lte=12"`
	ControlID *int64 `json:"controlId" validate:"omitempty,gt=0"`
}

type recentRequest struct {
	// Hours to look back. Zero means 24.
	SinceHours int `json:"sinceHours" validate:"omitempty,gt=0,lte=720"`
}

type controlRequest struct {
	LocationID      int64           `json:"locationId" validate:"omitempty,gt=0"`
	CategoryID      *int64          `json:"categoryId" validate:"omitempty,gt=0"`
	FrequencyType   string          `json:"frequencyType" validate:"omitempty,oneof=daily weekly monthly yearly custom"`
	FrequencyConfig json.RawMessage `json:"frequencyConfig"`
	StartDate       nullableDate    `json:"startDate"`
	EndDate         nullableDate    `json:"endDate"`
	IsActive        *bool           `json:"isActive"`
}

func (r controlRequest) input() app.ControlInput {
	return app.ControlInput{
		LocationID:      r.LocationID,
		CategoryID:      r.CategoryID,
		FrequencyType:   r.FrequencyType,
		FrequencyConfig: r.FrequencyConfig,
		StartDate:       r.StartDate.Date,
		EndDate:         r.EndDate.Date,
		ClearStartDate:  r.StartDate.Null(),
		ClearEndDate:    r.EndDate.Null(),
		IsActive:        r.IsActive,
	}
}

// nullableDate tells an absent field (keep) apart from an explicit null (clear).
type nullableDate struct {
	Present bool
	Date    *calendar.Date
}

func (n *nullableDate) UnmarshalJSON(b []byte) error {
	n.Present = true
	if string(b) == "null" {
		n.Date = nil
		return nil
	}
	var d calendar.Date
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	n.Date = &d
	return nil
}

// Null reports an explicit JSON null.
func (n nullableDate) Null() bool { return n.Present && n.Date == nil }

type completeRequest struct {
	CompletedBy  int64           `json:"completedBy" validate:"required,gt=0"`
	Measurements json.RawMessage `json:"measurements"`
	Notes        string          `json:"notes" validate:"max=2000"`
}

type missedRequest struct {
	Reason         string `json:"reason" validate:"required,max=500"`
	StandardExcuse string `json:"standardExcuse" validate:"max=200"`
	ReportedBy     int64  `json:"reportedBy" validate:"required,gt=0"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type WindowDTO struct {
	Start calendar.Date `json:"start"`
	End   calendar.Date `json:"end"`
}

type FailureDTO struct {
	ControlID  int64  `json:"controlId"`
	InstanceID int64  `json:"instanceId,omitempty"`
	Error      string `json:"error"`
}

type SummaryDTO struct {
	RunID        string       `json:"runId"`
	Operation    string       `json:"operation"`
	Window       WindowDTO    `json:"window"`
	Attempted    int          `json:"attempted"`
	Created      int          `json:"created"`
	Existing     int          `json:"existing"`
	Transitioned int          `json:"transitioned"`
	Failures     []FailureDTO `json:"failures"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
}

func toSummaryDTO(s app.RunSummary) SummaryDTO {
	dto := SummaryDTO{
		RunID:        s.RunID.String(),
		Operation:    string(s.Operation),
		Window:       WindowDTO{Start: s.Window.Start, End: s.Window.End},
		Attempted:    s.Attempted,
		Created:      s.Created,
		Existing:     s.Existing,
		Transitioned: s.Transitioned,
		Failures:     make([]FailureDTO, 0, len(s.Failures)),
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
	}
	for _, f := range s.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{ControlID: f.ControlID, InstanceID: f.InstanceID, Error: f.Err.Error()})
	}
	return dto
}

type ControlDTO struct {
	ID              int64           `json:"id"`
	LocationID      int64           `json:"locationId"`
	CategoryID      *int64          `json:"categoryId,omitempty"`
	FrequencyType   string          `json:"frequencyType"`
	FrequencyConfig json.RawMessage `json:"frequencyConfig,omitempty"`
	RuleError       string          `json:"ruleError,omitempty"`
	StartDate       *calendar.Date  `json:"startDate,omitempty"`
	EndDate         *calendar.Date  `json:"endDate,omitempty"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func toControlDTO(c *control.Control) ControlDTO {
	dto := ControlDTO{
		ID:         c.ID,
		LocationID: c.LocationID,
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
		IsActive:   c.IsActive,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.CategoryID.Valid {
		id := c.CategoryID.Int64
		dto.CategoryID = &id
	}
	if c.RuleErr != nil {
		dto.RuleError = c.RuleErr.Error()
		return dto
	}
	dto.FrequencyType = string(c.Rule.Kind)
	if cfg, err := c.Rule.Config(); err == nil {
		dto.FrequencyConfig = cfg
	}
	return dto
}

type ControlWithRunDTO struct {
	Control ControlDTO  `json:"control"`
	Run     *SummaryDTO `json:"run,omitempty"`
}

type MissedDTO struct {
	Reason         string    `json:"reason"`
	StandardExcuse string    `json:"standardExcuse,omitempty"`
	ReportedBy     string    `json:"reportedBy"`
	ReportedAt     time.Time `json:"reportedAt"`
}

type InstanceDTO struct {
	ID            int64           `json:"id"`
	ControlID     int64           `json:"controlId"`
	ScheduledDate calendar.Date   `json:"scheduledDate"`
	Status        string          `json:"status"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CompletedBy   *int64          `json:"completedBy,omitempty"`
	Measurements  json.RawMessage `json:"measurements,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Missed        *MissedDTO      `json:"missed,omitempty"`
}

func toInstanceDTO(inst *instance.Instance, missed *instance.MissedRecord) InstanceDTO {
	dto := InstanceDTO{
		ID:            inst.ID,
		ControlID:     inst.ControlID,
		ScheduledDate: inst.ScheduledDate,
		Status:        string(inst.Status),
		ExpiresAt:     inst.ExpiresAt,
		Measurements:  inst.Measurements,
		Notes:         inst.Notes.String,
	}
	if inst.CompletedAt.Valid {
		t := inst.CompletedAt.Time
		dto.CompletedAt = &t
	}
	if inst.CompletedBy.Valid {
		id := inst.CompletedBy.Int64
		dto.CompletedBy = &id
	}
	if missed != nil {
		dto.Missed = &MissedDTO{
			Reason:         missed.Reason,
			StandardExcuse: missed.StandardExcuse.String,
			ReportedBy:     string(missed.Actor),
			ReportedAt:     missed.ReportedAt,
		}
	}
	return dto
}
