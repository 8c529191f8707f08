package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance_scheduler/internal/domain/calendar"
)

// Operation names a trigger of the scheduling driver.
type Operation string

const (
	OpLookAhead       Operation = "lookahead"
	OpControl         Operation = "control"
	OpMonthBatch      Operation = "month_batch"
	OpExpirySweep     Operation = "expiry_sweep"
	OpRecentlyChanged Operation = "recently_changed"
)

// Failure is one control (generation) or one instance (sweep) that could not be processed.
type Failure struct {
	ControlID  int64
	InstanceID int64
	Err        error
}

func (f Failure) String() string {
	if f.InstanceID != 0 {
		return fmt.Sprintf("instance %d (control %d): %v", f.InstanceID, f.ControlID, f.Err)
	}
	return fmt.Sprintf("control %d: %v", f.ControlID, f.Err)
}

// RunSummary is returned by every driver trigger. Attempted counts controls for
// generation runs and candidate instances for sweeps.
type RunSummary struct {
	RunID        uuid.UUID
	Operation    Operation
	Window       calendar.Range
	Attempted    int
	Created      int
	Existing     int
	Transitioned int
	Failures     []Failure
	StartedAt    time.Time
	FinishedAt   time.Time
}

func newRunSummary(op Operation, window calendar.Range, startedAt time.Time) RunSummary {
	return RunSummary{RunID: uuid.New(), Operation: op, Window: window, StartedAt: startedAt}
}

// OK reports whether the run finished without any per-item failure.
func (s RunSummary) OK() bool { return len(s.Failures) == 0 }

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: attempted=%d created=%d existing=%d", s.Operation, s.Window, s.Attempted, s.Created, s.Existing)
	if s.Operation == OpExpirySweep {
		fmt.Fprintf(&b, " missed=%d", s.Transitioned)
	}
	fmt.Fprintf(&b, " failures=%d", len(s.Failures))
	for _, f := range s.Failures {
		b.WriteString("\n  - ")
		b.WriteString(f.String())
	}
	return b.String()
}
