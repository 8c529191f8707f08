// internal/infra/telegram/commands.go
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
	"compliance_scheduler/internal/domain/instance"
)

// Triggers is the on-demand side of the scheduling driver.
type Triggers interface {
	RunLookAheadGeneration(ctx context.Context) (app.RunSummary, error)
	RunMonthBatch(ctx context.Context, year int, month time.Month, controlID *int64) (app.RunSummary, error)
	RunExpirySweep(ctx context.Context) (app.RunSummary, error)
	RunForControl(ctx context.Context, controlID int64) (app.RunSummary, error)
}

type ControlAdmin interface {
	CreateControl(ctx context.Context, in app.ControlInput) (*control.Control, app.RunSummary, error)
	UpdateControl(ctx context.Context, id int64, in app.ControlInput) (*control.Control, app.RunSummary, error)
	DeactivateControl(ctx context.Context, id int64) (*control.Control, error)
	ListControls(ctx context.Context, locationID int64) ([]*control.Control, error)
}

type InstanceLister interface {
	List(ctx context.Context, f instance.Filter) ([]*instance.Instance, error)
}

const (
	msgUnauthorized = "Error: you are not allowed to run this command."
	maxListed       = 30
)

// AdminCommands turns admin chat commands into driver and service calls and
// renders the reply text. It knows nothing about telebot so it can be tested directly.
type AdminCommands struct {
	triggers  Triggers
	controls  ControlAdmin
	instances InstanceLister
	adminID   int64
	timeout   time.Duration
	logger    *logrus.Entry
}

// NewAdminCommands builds the handler. Each command runs under timeout, the same
// bound the cron jobs get.
func NewAdminCommands(triggers Triggers, controls ControlAdmin, instances InstanceLister, adminID int64, timeout time.Duration, logger *logrus.Entry) *AdminCommands {
	return &AdminCommands{
		triggers:  triggers,
		controls:  controls,
		instances: instances,
		adminID:   adminID,
		timeout:   timeout,
		logger:    logger,
	}
}

// Commands lists every admin command this handler understands.
func (a *AdminCommands) Commands() []string {
	return []string{
		"/lookahead", "/batch", "/sweep", "/run_control",
		"/add_control", "/edit_control", "/set_window", "/deactivate_control",
		"/list_controls", "/instances",
	}
}

// Execute runs one command for senderID and returns the reply.
func (a *AdminCommands) Execute(ctx context.Context, senderID int64, command string, args []string) string {
	handlerLogger := a.logger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": senderID,
	})
	handlerLogger.Info("Command received")

	if senderID != a.adminID {
		handlerLogger.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	reply, err := a.dispatch(ctx, command, args)
	if err != nil {
		return a.errorReply(handlerLogger, err)
	}
	return reply
}

func (a *AdminCommands) dispatch(ctx context.Context, command string, args []string) (string, error) {
	switch command {
	case "/lookahead":
		return summaryReply(a.triggers.RunLookAheadGeneration(ctx))

	case "/sweep":
		return summaryReply(a.triggers.RunExpirySweep(ctx))

	case "/batch":
		// Expected format: /batch <YYYY> <MM> [controlID]
		if len(args) < 2 || len(args) > 3 {
			return "", usage("/batch <YYYY> <MM> [controlID]")
		}
		year, err := parseInt("year", args[0])
		if err != nil {
			return "", err
		}
		month, err := parseInt("month", args[1])
		if err != nil {
			return "", err
		}
		var controlID *int64
		if len(args) == 3 {
			id, err := parseID(args[2])
			if err != nil {
				return "", err
			}
			controlID = &id
		}
		return summaryReply(a.triggers.RunMonthBatch(ctx, int(year), time.Month(month), controlID))

	case "/run_control":
		if len(args) != 1 {
			return "", usage("/run_control <controlID>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		return summaryReply(a.triggers.RunForControl(ctx, id))

	case "/add_control":
		// Expected format: /add_control <locationID> <type> [config JSON]
		if len(args) < 2 {
			return "", usage(`/add_control <locationID> <daily|weekly|monthly|yearly|custom> [{"dayOfWeek": 1}]`)
		}
		locationID, err := parseInt("location_id", args[0])
		if err != nil {
			return "", err
		}
		c, summary, err := a.controls.CreateControl(ctx, app.ControlInput{
			LocationID:      locationID,
			FrequencyType:   strings.ToLower(args[1]),
			FrequencyConfig: json.RawMessage(strings.Join(args[2:], " ")),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Control %d created: %s\n%s", c.ID, describeControl(c), summary), nil

	case "/edit_control":
		// Expected format: /edit_control <controlID> <type> [config JSON]
		if len(args) < 2 {
			return "", usage("/edit_control <controlID> <type> [config JSON]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		c, summary, err := a.controls.UpdateControl(ctx, id, app.ControlInput{
			FrequencyType:   strings.ToLower(args[1]),
			FrequencyConfig: json.RawMessage(strings.Join(args[2:], " ")),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Control %d updated: %s\n%s", c.ID, describeControl(c), summary), nil

	case "/set_window":
		// Expected format: /set_window <controlID> <start|-|none> <end|-|none>
		// "-" keeps the current bound, "none" removes it.
		if len(args) != 3 {
			return "", usage("/set_window <controlID> <YYYY-MM-DD|-|none> <YYYY-MM-DD|-|none>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		start, clearStart, err := parseBound("start_date", args[1])
		if err != nil {
			return "", err
		}
		end, clearEnd, err := parseBound("end_date", args[2])
		if err != nil {
			return "", err
		}
		c, summary, err := a.controls.UpdateControl(ctx, id, app.ControlInput{
			StartDate:      start,
			EndDate:        end,
			ClearStartDate: clearStart,
			ClearEndDate:   clearEnd,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Control %d updated: %s\n%s", c.ID, describeControl(c), summary), nil

	case "/deactivate_control":
		if len(args) != 1 {
			return "", usage("/deactivate_control <controlID>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		c, err := a.controls.DeactivateControl(ctx, id)
		if err != nil {
			if app.IsAlreadyInactive(err) && c != nil {
				return fmt.Sprintf("Control %d was already inactive.", c.ID), nil
			}
			return "", err
		}
		return fmt.Sprintf("Control %d deactivated. Existing instances are kept.", c.ID), nil

	case "/list_controls":
		if len(args) != 1 {
			return "", usage("/list_controls <locationID>")
		}
		locationID, err := parseInt("location_id", args[0])
		if err != nil {
			return "", err
		}
		list, err := a.controls.ListControls(ctx, locationID)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return fmt.Sprintf("No controls found for location %d.", locationID), nil
		}
		var response strings.Builder
		fmt.Fprintf(&response, "--- Controls of location %d ---\n", locationID)
		for _, c := range list {
			fmt.Fprintf(&response, "ID: %d, %s\n", c.ID, describeControl(c))
		}
		return response.String(), nil

	case "/instances":
		// Expected format: /instances <controlID> [pending|completed|missed]
		if len(args) < 1 || len(args) > 2 {
			return "", usage("/instances <controlID> [pending|completed|missed]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		f := instance.Filter{ControlID: id, Limit: maxListed}
		if len(args) == 2 {
			f.Status = instance.Status(strings.ToLower(args[1]))
		}
		list, err := a.instances.List(ctx, f)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return fmt.Sprintf("No instances found for control %d.", id), nil
		}
		var response strings.Builder
		fmt.Fprintf(&response, "--- Instances of control %d ---\n", id)
		for _, inst := range list {
			fmt.Fprintf(&response, "#%d %s %s\n", inst.ID, inst.ScheduledDate, inst.Status)
		}
		return response.String(), nil
	}

	return "", usage("/help")
}

func (a *AdminCommands) errorReply(logger *logrus.Entry, err error) string {
	logWithError := logger.WithError(err)
	var u usageError
	switch {
	case errors.As(err, &u):
		logWithError.Warn("Invalid command format")
		return "Invalid command format. Use: " + string(u)
	case domain.IsValidation(err):
		logWithError.Warn("Rejected input")
		return "Error: " + err.Error()
	case domain.IsNotFound(err):
		logWithError.Warn("Referenced entity not found")
		return "Not found: " + err.Error()
	default:
		logWithError.Error("Command failed")
		return fmt.Sprintf("An error occurred: %s", err.Error())
	}
}

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func usage(format string) error { return usageError(format) }

func parseInt(field, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, domain.NewValidationError(field, fmt.Sprintf("%q is not a number", s))
	}
	return n, nil
}

func parseID(s string) (int64, error) {
	id, err := parseInt("id", s)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, domain.NewValidationError("id", "must be positive")
	}
	return id, nil
}

// parseBound reads a /set_window bound: a date, "-" to keep, or "none" to clear.
func parseBound(field, s string) (*calendar.Date, bool, error) {
	switch strings.ToLower(s) {
	case "-":
		return nil, false, nil
	case "none":
		return nil, true, nil
	}
	d, err := calendar.Parse(s)
	if err != nil {
		return nil, false, domain.NewValidationError(field, fmt.Sprintf("%q is not a YYYY-MM-DD date", s))
	}
	return &d, false, nil
}

func summaryReply(s app.RunSummary, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Run %s\n%s", s.RunID, s), nil
}

func describeControl(c *control.Control) string {
	var b strings.Builder
	if c.RuleErr != nil {
		fmt.Fprintf(&b, "invalid rule (%v)", c.RuleErr)
	} else {
		b.WriteString(c.Rule.String())
	}
	fmt.Fprintf(&b, ", location %d", c.LocationID)
	if c.StartDate != nil {
		fmt.Fprintf(&b, ", from %s", c.StartDate)
	}
	if c.EndDate != nil {
		fmt.Fprintf(&b, ", until %s", c.EndDate)
	}
	if !c.IsActive {
		b.WriteString(", inactive")
	}
	return b.String()
}
