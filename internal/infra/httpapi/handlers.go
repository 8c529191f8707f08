package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
	"compliance_scheduler/internal/domain/instance"
)

type Triggers interface {
	RunLookAheadGeneration(ctx context.Context) (app.RunSummary, error)
	RunMonthBatch(ctx context.Context, year int, month time.Month, controlID *int64) (app.RunSummary, error)
	RunExpirySweep(ctx context.Context) (app.RunSummary, error)
	RunForControl(ctx context.Context, controlID int64) (app.RunSummary, error)
	RunRecentlyChanged(ctx context.Context, since time.Time) (app.RunSummary, error)
}

type Controls interface {
	CreateControl(ctx context.Context, in app.ControlInput) (*control.Control, app.RunSummary, error)
	UpdateControl(ctx context.Context, id int64, in app.ControlInput) (*control.Control, app.RunSummary, error)
	DeactivateControl(ctx context.Context, id int64) (*control.Control, error)
	GetControl(ctx context.Context, id int64) (*control.Control, error)
	ListControls(ctx context.Context, locationID int64) ([]*control.Control, error)
}

type Instances interface {
	Complete(ctx context.Context, id, completedBy int64, measurements json.RawMessage, notes string) (*instance.Instance, error)
	ReportMissed(ctx context.Context, id int64, reason, standardExcuse string, reportedBy int64) (*app.InstanceDetails, error)
	Get(ctx context.Context, id int64) (*app.InstanceDetails, error)
	List(ctx context.Context, f instance.Filter) ([]*instance.Instance, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	triggers  Triggers
	controls  Controls
	instances Instances
	validate  *validator.Validate
	now       func() time.Time
	logger    *logrus.Entry
}

func NewHandler(triggers Triggers, controls Controls, instances Instances, logger *logrus.Entry) *Handler {
	return &Handler{
		triggers:  triggers,
		controls:  controls,
		instances: instances,
		validate:  validator.New(),
		now:       time.Now,
		logger:    logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// TRIGGERS
// =============================================================================

func (h *Handler) TriggerLookAhead(w http.ResponseWriter, r *http.Request) {
	h.writeSummary(w, r, "lookahead")(h.triggers.RunLookAheadGeneration(r.Context()))
}

func (h *Handler) TriggerExpirySweep(w http.ResponseWriter, r *http.Request) {
	h.writeSummary(w, r, "expiry sweep")(h.triggers.RunExpirySweep(r.Context()))
}

func (h *Handler) TriggerMonthBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeSummary(w, r, "month batch")(h.triggers.RunMonthBatch(r.Context(), req.Year, time.Month(req.Month), req.ControlID))
}

func (h *Handler) TriggerRecentlyChanged(w http.ResponseWriter, r *http.Request) {
	var req recentRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	hours := req.SinceHours
	if hours == 0 {
		hours = 24
	}
	since := h.now().Add(-time.Duration(hours) * time.Hour)
	h.writeSummary(w, r, "recently changed")(h.triggers.RunRecentlyChanged(r.Context(), since))
}

func (h *Handler) GenerateControl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.writeSummary(w, r, "control generation")(h.triggers.RunForControl(r.Context(), id))
}

// writeSummary reports a run. A run with per-control failures is still a 200;
// the failures are listed in the body.
func (h *Handler) writeSummary(w http.ResponseWriter, r *http.Request, what string) func(app.RunSummary, error) {
	return func(s app.RunSummary, err error) {
		if err != nil {
			h.writeDomainError(w, r, what+" failed", err)
			return
		}
		writeJSON(w, http.StatusOK, toSummaryDTO(s))
	}
}

// =============================================================================
// CONTROLS
// =============================================================================

func (h *Handler) ListControls(w http.ResponseWriter, r *http.Request) {
	locationID, err := strconv.ParseInt(r.URL.Query().Get("locationId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "locationId query parameter is required", nil)
		return
	}
	list, err := h.controls.ListControls(r.Context(), locationID)
	if err != nil {
		h.writeDomainError(w, r, "list controls failed", err)
		return
	}
	out := make([]ControlDTO, 0, len(list))
	for _, c := range list {
		out = append(out, toControlDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, summary, err := h.controls.CreateControl(r.Context(), req.input())
	if err != nil {
		h.writeDomainError(w, r, "create control failed", err)
		return
	}
	run := toSummaryDTO(summary)
	writeJSON(w, http.StatusCreated, ControlWithRunDTO{Control: toControlDTO(c), Run: &run})
}

func (h *Handler) GetControl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.controls.GetControl(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "get control failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toControlDTO(c))
}

func (h *Handler) UpdateControl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req controlRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, summary, err := h.controls.UpdateControl(r.Context(), id, req.input())
	if err != nil {
		h.writeDomainError(w, r, "update control failed", err)
		return
	}
	resp := ControlWithRunDTO{Control: toControlDTO(c)}
	if summary.Operation != "" {
		run := toSummaryDTO(summary)
		resp.Run = &run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeactivateControl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.controls.DeactivateControl(r.Context(), id)
	if err != nil && !(app.IsAlreadyInactive(err) && c != nil) {
		h.writeDomainError(w, r, "deactivate control failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toControlDTO(c))
}

// =============================================================================
// INSTANCES
// =============================================================================

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeDomainError(w, r, "invalid filter", err)
		return
	}
	list, err := h.instances.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, "list instances failed", err)
		return
	}
	out := make([]InstanceDTO, 0, len(list))
	for _, inst := range list {
		out = append(out, toInstanceDTO(inst, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	details, err := h.instances.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "get instance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceDTO(details.Instance, details.Missed))
}

func (h *Handler) CompleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	inst, err := h.instances.Complete(r.Context(), id, req.CompletedBy, req.Measurements, req.Notes)
	if err != nil {
		h.writeDomainError(w, r, "complete instance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceDTO(inst, nil))
}

func (h *Handler) ReportMissed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req missedRequest
	if !h.decode(w, r, &req) {
		return
	}
	details, err := h.instances.ReportMissed(r.Context(), id, req.Reason, req.StandardExcuse, req.ReportedBy)
	if err != nil {
		h.writeDomainError(w, r, "report missed failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceDTO(details.Instance, details.Missed))
}

func parseFilter(r *http.Request) (instance.Filter, error) {
	q := r.URL.Query()
	var f instance.Filter
	var err error
	if f.LocationID, err = optionalInt(q.Get("locationId"), "locationId"); err != nil {
		return f, err
	}
	if f.ControlID, err = optionalInt(q.Get("controlId"), "controlId"); err != nil {
		return f, err
	}
	limit, err := optionalInt(q.Get("limit"), "limit")
	if err != nil {
		return f, err
	}
	f.Limit = uint64(limit)
	f.Status = instance.Status(q.Get("status"))
	if f.From, err = optionalDate(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = optionalDate(q.Get("to"), "to"); err != nil {
		return f, err
	}
	return f, nil
}

func optionalInt(s, field string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(field, "must be a non-negative integer")
	}
	return n, nil
}

func optionalDate(s, field string) (*calendar.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := calendar.Parse(s)
	if err != nil {
		return nil, domain.NewValidationError(field, "must be a YYYY-MM-DD date")
	}
	return &d, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id", err)
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Warn(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists), app.IsAlreadyInactive(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
