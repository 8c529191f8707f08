// internal/domain/control/frequency.go
package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"compliance_scheduler/internal/domain"
)

// Kind is the recurrence kind of a FrequencyRule.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindYearly  Kind = "yearly"
	KindCustom  Kind = "custom"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindDaily, KindWeekly, KindMonthly, KindYearly, KindCustom}

func (k Kind) Valid() bool {
	switch k {
	case KindDaily, KindWeekly, KindMonthly, KindYearly, KindCustom:
		return true
	}
	return false
}

// Yearly rules cap dayOfMonth at 28 so the date exists in every month, February included.
const maxYearlyDayOfMonth = 28

// Params is the kind-specific payload of a FrequencyRule.
type Params interface {
	kind() Kind
}

type DailyParams struct{}

type WeeklyParams struct {
	DayOfWeek time.Weekday
}

type MonthlyParams struct {
	DayOfMonth int
}

type YearlyParams struct {
	Month      time.Month
	DayOfMonth int
}

type CustomParams struct {
	DaysOfWeek []time.Weekday
}

func (DailyParams) kind() Kind   { return KindDaily }
func (WeeklyParams) kind() Kind  { return KindWeekly }
func (MonthlyParams) kind() Kind { return KindMonthly }
func (YearlyParams) kind() Kind  { return KindYearly }
func (CustomParams) kind() Kind  { return KindCustom }

// FrequencyRule is a tagged variant: Kind selects which Params record is present.
// Rules are validated once when they enter the system (ParseRule or Validate)
// and trusted afterwards.
type FrequencyRule struct {
	Kind   Kind
	Params Params
}

func Daily() FrequencyRule { return FrequencyRule{Kind: KindDaily, Params: DailyParams{}} }

func Weekly(day time.Weekday) FrequencyRule {
	return FrequencyRule{Kind: KindWeekly, Params: WeeklyParams{DayOfWeek: day}}
}

func Monthly(dayOfMonth int) FrequencyRule {
	return FrequencyRule{Kind: KindMonthly, Params: MonthlyParams{DayOfMonth: dayOfMonth}}
}

func Yearly(month time.Month, dayOfMonth int) FrequencyRule {
	return FrequencyRule{Kind: KindYearly, Params: YearlyParams{Month: month, DayOfMonth: dayOfMonth}}
}

func Custom(days ...time.Weekday) FrequencyRule {
	return FrequencyRule{Kind: KindCustom, Params: CustomParams{DaysOfWeek: days}}
}

// Validate checks a rule built in code against the same bounds ParseRule enforces.
func (r FrequencyRule) Validate() error {
	if !r.Kind.Valid() {
		return domain.NewValidationError("frequency_type", fmt.Sprintf("unknown frequency type %q", r.Kind))
	}
	if r.Params == nil || r.Params.kind() != r.Kind {
		return domain.NewValidationError("frequency_config", fmt.Sprintf("parameters do not match frequency type %q", r.Kind))
	}

	switch p := r.Params.(type) {
	case DailyParams:
		return nil
	case WeeklyParams:
		return checkRange("dayOfWeek", int(p.DayOfWeek), 0, 6)
	case MonthlyParams:
		return checkRange("dayOfMonth", p.DayOfMonth, 1, 31)
	case YearlyParams:
		if err := checkRange("month", int(p.Month), 1, 12); err != nil {
			return err
		}
		return checkRange("dayOfMonth", p.DayOfMonth, 1, maxYearlyDayOfMonth)
	case CustomParams:
		if len(p.DaysOfWeek) == 0 {
			return domain.NewValidationError("daysOfWeek", "must be a non-empty list")
		}
		for i, d := range p.DaysOfWeek {
			if err := checkRange(fmt.Sprintf("daysOfWeek[%d]", i), int(d), 0, 6); err != nil {
				return err
			}
		}
		return nil
	}
	return domain.NewValidationError("frequency_config", "unsupported parameters")
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return domain.NewValidationError(field, fmt.Sprintf("must be between %d and %d, got %d", lo, hi, v))
	}
	return nil
}

// IsValidConfig is the boolean form of ParseRule.
func IsValidConfig(kind string, config []byte) bool {
	_, err := ParseRule(kind, config)
	return err == nil
}

// ParseRule validates a raw frequency_type / frequency_config pair as submitted by an
// administrator or read from storage. Fields must be JSON integers; strings, booleans,
// nulls and fractional numbers are rejected. Zero is a legal dayOfWeek.
func ParseRule(kind string, config []byte) (FrequencyRule, error) {
	k := Kind(kind)
	if !k.Valid() {
		return FrequencyRule{}, domain.NewValidationError("frequency_type",
			fmt.Sprintf("invalid frequency type %q, must be one of: daily, weekly, monthly, yearly, custom", kind))
	}
	if k == KindDaily {
		return Daily(), nil
	}

	fields, err := decodeObject(config)
	if err != nil {
		return FrequencyRule{}, err
	}

	var rule FrequencyRule
	switch k {
	case KindWeekly:
		dow, err := intField(fields, "dayOfWeek")
		if err != nil {
			return FrequencyRule{}, err
		}
		rule = Weekly(time.Weekday(dow))
	case KindMonthly:
		dom, err := intField(fields, "dayOfMonth")
		if err != nil {
			return FrequencyRule{}, err
		}
		rule = Monthly(dom)
	case KindYearly:
		month, err := intField(fields, "month")
		if err != nil {
			return FrequencyRule{}, err
		}
		dom, err := intField(fields, "dayOfMonth")
		if err != nil {
			return FrequencyRule{}, err
		}
		rule = Yearly(time.Month(month), dom)
	case KindCustom:
		days, err := weekdayList(fields, "daysOfWeek")
		if err != nil {
			return FrequencyRule{}, err
		}
		rule = Custom(days...)
	}

	if err := rule.Validate(); err != nil {
		return FrequencyRule{}, err
	}
	return rule, nil
}

func decodeObject(config []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(config)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, domain.NewValidationError("frequency_config", "is required")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, domain.NewValidationError("frequency_config", "must be a JSON object")
	}
	return fields, nil
}

func intField(fields map[string]json.RawMessage, name string) (int, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, domain.NewValidationError(name, "is required")
	}
	return parseInt(name, raw)
}

func parseInt(name string, raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, domain.NewValidationError(name, "is malformed")
	}
	num, ok := v.(json.Number)
	if !ok {
		if v == nil {
			return 0, domain.NewValidationError(name, "is required")
		}
		return 0, domain.NewValidationError(name, "must be a number")
	}
	n, err := strconv.Atoi(num.String())
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

func weekdayList(fields map[string]json.RawMessage, name string) ([]time.Weekday, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, domain.NewValidationError(name, "is required")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, domain.NewValidationError(name, "must be a list of integers")
	}
	days := make([]time.Weekday, 0, len(items))
	for i, item := range items {
		n, err := parseInt(fmt.Sprintf("%s[%d]", name, i), item)
		if err != nil {
			return nil, err
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

// Config renders the rule's parameters in the stored frequency_config shape.
func (r FrequencyRule) Config() ([]byte, error) {
	var payload map[string]any
	switch p := r.Params.(type) {
	case DailyParams:
		payload = map[string]any{}
	case WeeklyParams:
		payload = map[string]any{"dayOfWeek": int(p.DayOfWeek)}
	case MonthlyParams:
		payload = map[string]any{"dayOfMonth": p.DayOfMonth}
	case YearlyParams:
		payload = map[string]any{"month": int(p.Month), "dayOfMonth": p.DayOfMonth}
	case CustomParams:
		days := make([]int, len(p.DaysOfWeek))
		for i, d := range p.DaysOfWeek {
			days[i] = int(d)
		}
		payload = map[string]any{"daysOfWeek": days}
	default:
		return nil, fmt.Errorf("frequency rule %q has no parameters", r.Kind)
	}
	return json.Marshal(payload)
}

func (r FrequencyRule) String() string {
	cfg, err := r.Config()
	if err != nil {
		return string(r.Kind)
	}
	return string(r.Kind) + " " + string(cfg)
}
