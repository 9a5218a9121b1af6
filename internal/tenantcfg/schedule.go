package tenantcfg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ReportType identifies a generated report.
type ReportType string

const (
	ReportWeekFull ReportType = "week_full"
	ReportRR3      ReportType = "rr_3"
	ReportRRBad    ReportType = "rr_bad"
)

// Valid reports whether r is a report type the analyzer can generate.
func (r ReportType) Valid() bool {
	switch r {
	case ReportWeekFull, ReportRR3, ReportRRBad:
		return true
	}
	return false
}

// ScheduleKind is the schedule_type discriminator.
type ScheduleKind string

const (
	KindDaily    ScheduleKind = "daily"
	KindInterval ScheduleKind = "interval"
	KindWeekly   ScheduleKind = "weekly"
	KindCron     ScheduleKind = "cron"
)

// ParseScheduleKind accepts only the four known discriminators. Anything else
// is an invalid configuration, never a silent default.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	switch k := ScheduleKind(s); k {
	case KindDaily, KindInterval, KindWeekly, KindCron:
		return k, nil
	}
	return "", invalid("schedule_type", "unknown schedule type %q", s)
}

// IntervalUnit is the unit of an IntervalSchedule.
type IntervalUnit string

const (
	UnitHours IntervalUnit = "hours"
	UnitDays  IntervalUnit = "days"
)

// Weekday counts from Monday (0) to Sunday (6).
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// cronDow converts to cron's Sunday-based day of week.
func (d Weekday) cronDow() int { return (int(d) + 1) % 7 }

var (
	defaultDailyTime  = TimeOfDay{Hour: 12}
	defaultWeeklyTime = TimeOfDay{Hour: 8}

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ScheduleSpec is the recurrence rule of a report schedule. Exactly one of
// DailySchedule, IntervalSchedule, WeeklySchedule or CronSchedule.
type ScheduleSpec interface {
	Kind() ScheduleKind
	// Next returns the first activation strictly after the given instant,
	// evaluated in loc.
	Next(after time.Time, loc *time.Location) (time.Time, error)
	Validate() error
	isScheduleSpec()
}

// DailySchedule fires once a day at At.
type DailySchedule struct{ At TimeOfDay }

// IntervalSchedule fires every Every units.
type IntervalSchedule struct {
	Every int
	Unit  IntervalUnit
}

// WeeklySchedule fires on Day at At.
type WeeklySchedule struct {
	Day Weekday
	At  TimeOfDay
}

// CronSchedule fires per a five-field cron expression or descriptor.
type CronSchedule struct{ Expr string }

func (DailySchedule) Kind() ScheduleKind    { return KindDaily }
func (IntervalSchedule) Kind() ScheduleKind { return KindInterval }
func (WeeklySchedule) Kind() ScheduleKind   { return KindWeekly }
func (CronSchedule) Kind() ScheduleKind     { return KindCron }

func (DailySchedule) isScheduleSpec()    {}
func (IntervalSchedule) isScheduleSpec() {}
func (WeeklySchedule) isScheduleSpec()   {}
func (CronSchedule) isScheduleSpec()     {}

func (s DailySchedule) Validate() error {
	if !s.At.valid() {
		return invalid("daily_time", "out of range: %s", s.At)
	}
	return nil
}

func (s IntervalSchedule) Validate() error {
	if s.Every <= 0 {
		return invalid("interval_value", "must be positive, got %d", s.Every)
	}
	if s.Unit != UnitHours && s.Unit != UnitDays {
		return invalid("interval_unit", "unknown unit %q", s.Unit)
	}
	return nil
}

func (s WeeklySchedule) Validate() error {
	if s.Day < Monday || s.Day > Sunday {
		return invalid("weekly_day", "must be 0 (Monday) to 6 (Sunday), got %d", s.Day)
	}
	if !s.At.valid() {
		return invalid("weekly_time", "out of range: %s", s.At)
	}
	return nil
}

func (s CronSchedule) Validate() error {
	if strings.TrimSpace(s.Expr) == "" {
		return invalid("cron_expression", "required for cron schedules")
	}
	if _, err := cronParser.Parse(s.Expr); err != nil {
		return invalid("cron_expression", "%v", err)
	}
	return nil
}

func (s DailySchedule) Next(after time.Time, loc *time.Location) (time.Time, error) {
	return nextFromLine(fmt.Sprintf("%d %d * * *", s.At.Minute, s.At.Hour), after, loc)
}

func (s WeeklySchedule) Next(after time.Time, loc *time.Location) (time.Time, error) {
	return nextFromLine(fmt.Sprintf("%d %d * * %d", s.At.Minute, s.At.Hour, s.Day.cronDow()), after, loc)
}

func (s CronSchedule) Next(after time.Time, loc *time.Location) (time.Time, error) {
	return nextFromLine(s.Expr, after, loc)
}

func (s IntervalSchedule) Next(after time.Time, loc *time.Location) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	unit := time.Hour
	if s.Unit == UnitDays {
		unit = 24 * time.Hour
	}
	return cron.Every(time.Duration(s.Every) * unit).Next(after.In(locOrLocal(loc))), nil
}

func nextFromLine(line string, after time.Time, loc *time.Location) (time.Time, error) {
	sched, err := cronParser.Parse(line)
	if err != nil {
		return time.Time{}, invalid("cron_expression", "%v", err)
	}
	next := sched.Next(after.In(locOrLocal(loc)))
	if next.IsZero() {
		return time.Time{}, invalid("cron_expression", "%q never fires", line)
	}
	return next, nil
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// ==============================================================================
// Report periods
// ==============================================================================

// PeriodType selects the automatic date range of a generated report.
type PeriodType string

const (
	PeriodLastDay   PeriodType = "last_day"
	PeriodLastWeek  PeriodType = "last_week"
	PeriodLastMonth PeriodType = "last_month"
	PeriodLastNDays PeriodType = "last_n_days"
)

const defaultPeriodDays = 7

// ReportPeriod is the automatic date range rule. Days only applies to
// PeriodLastNDays.
type ReportPeriod struct {
	Type PeriodType
	Days int
}

func (p ReportPeriod) Validate() error {
	switch p.Type {
	case PeriodLastDay, PeriodLastWeek, PeriodLastMonth:
		return nil
	case PeriodLastNDays:
		if p.Days < 0 {
			return invalid("period_n_days", "must not be negative, got %d", p.Days)
		}
		return nil
	}
	return invalid("period_type", "unknown period %q", p.Type)
}

// DateRange is an inclusive range of civil dates.
type DateRange struct {
	Start Date `json:"start" yaml:"start"`
	End   Date `json:"end" yaml:"end"`
}

// ==============================================================================
// Report schedule
// ==============================================================================

// ReportSchedule is the recurring definition of one report for one tenant.
// Manual, when set, overrides the automatic period when the report runs.
type ReportSchedule struct {
	ReportType ReportType
	Enabled    bool
	Spec       ScheduleSpec
	Period     ReportPeriod
	Manual     *DateRange
	LastRunAt  *time.Time
	NextRunAt  *time.Time
}

// Validate checks the schedule is internally consistent.
func (s ReportSchedule) Validate() error {
	if s.ReportType == "" {
		return invalid("report_type", "required")
	}
	if !s.ReportType.Valid() {
		return invalid("report_type", "unknown report type %q", s.ReportType)
	}
	if s.Spec == nil {
		return invalid("schedule_type", "required")
	}
	if err := s.Spec.Validate(); err != nil {
		return err
	}
	if err := s.Period.Validate(); err != nil {
		return err
	}
	if s.Manual != nil {
		if s.Manual.Start.IsZero() || s.Manual.End.IsZero() {
			return invalid("manual_start_date", "manual range needs both dates")
		}
		if s.Manual.End.Before(s.Manual.Start) {
			return invalid("manual_end_date", "%s is before %s", s.Manual.End, s.Manual.Start)
		}
	}
	return nil
}

// DateRange returns the report range for a run happening on today: the
// manual override when present, otherwise a range ending yesterday.
func (s ReportSchedule) DateRange(today time.Time) DateRange {
	if s.Manual != nil && !s.Manual.Start.IsZero() && !s.Manual.End.IsZero() {
		return *s.Manual
	}
	end := DateOf(today).AddDays(-1)
	switch s.Period.Type {
	case PeriodLastDay:
		return DateRange{Start: end, End: end}
	case PeriodLastMonth:
		return DateRange{Start: end.AddDays(-29), End: end}
	case PeriodLastNDays:
		n := s.Period.Days
		if n <= 0 {
			n = defaultPeriodDays
		}
		return DateRange{Start: end.AddDays(-(n - 1)), End: end}
	default:
		return DateRange{Start: end.AddDays(-6), End: end}
	}
}

// SameRule reports whether two schedules share recurrence, enabled flag,
// period and manual override. Bookkeeping timestamps are ignored.
func (s ReportSchedule) SameRule(o ReportSchedule) bool {
	a, b := s.Record(), o.Record()
	a.LastRunAt, a.NextRunAt = nil, nil
	b.LastRunAt, b.NextRunAt = nil, nil
	return a.equal(b)
}

// ScheduleRecord is the flat, all-optional shape of a schedule. It mirrors
// the report_schedules columns and is the wire format for JSON and YAML.
type ScheduleRecord struct {
	ReportType      ReportType `json:"report_type" yaml:"report_type"`
	ScheduleType    string     `json:"schedule_type" yaml:"schedule_type"`
	Enabled         *bool      `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	DailyTime       string     `json:"daily_time,omitempty" yaml:"daily_time,omitempty"`
	IntervalValue   *int       `json:"interval_value,omitempty" yaml:"interval_value,omitempty"`
	IntervalUnit    string     `json:"interval_unit,omitempty" yaml:"interval_unit,omitempty"`
	WeeklyDay       *int       `json:"weekly_day,omitempty" yaml:"weekly_day,omitempty"`
	WeeklyTime      string     `json:"weekly_time,omitempty" yaml:"weekly_time,omitempty"`
	CronExpression  string     `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	PeriodType      string     `json:"period_type,omitempty" yaml:"period_type,omitempty"`
	PeriodNDays     *int       `json:"period_n_days,omitempty" yaml:"period_n_days,omitempty"`
	ManualStartDate string     `json:"manual_start_date,omitempty" yaml:"manual_start_date,omitempty"`
	ManualEndDate   string     `json:"manual_end_date,omitempty" yaml:"manual_end_date,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty" yaml:"next_run_at,omitempty"`
}

func (r ScheduleRecord) equal(o ScheduleRecord) bool {
	return r.ReportType == o.ReportType &&
		r.ScheduleType == o.ScheduleType &&
		boolVal(r.Enabled) == boolVal(o.Enabled) &&
		r.DailyTime == o.DailyTime &&
		intVal(r.IntervalValue) == intVal(o.IntervalValue) &&
		r.IntervalUnit == o.IntervalUnit &&
		intVal(r.WeeklyDay) == intVal(o.WeeklyDay) &&
		r.WeeklyTime == o.WeeklyTime &&
		r.CronExpression == o.CronExpression &&
		r.PeriodType == o.PeriodType &&
		intVal(r.PeriodNDays) == intVal(o.PeriodNDays) &&
		r.ManualStartDate == o.ManualStartDate &&
		r.ManualEndDate == o.ManualEndDate &&
		timeEqual(r.LastRunAt, o.LastRunAt) &&
		timeEqual(r.NextRunAt, o.NextRunAt)
}

// Record flattens s. Only the fields of the active schedule kind are set.
func (s ReportSchedule) Record() ScheduleRecord {
	enabled := s.Enabled
	rec := ScheduleRecord{
		ReportType: s.ReportType,
		Enabled:    &enabled,
		PeriodType: string(s.Period.Type),
		LastRunAt:  s.LastRunAt,
		NextRunAt:  s.NextRunAt,
	}
	if s.Period.Type == PeriodLastNDays && s.Period.Days > 0 {
		n := s.Period.Days
		rec.PeriodNDays = &n
	}
	if s.Manual != nil {
		rec.ManualStartDate = s.Manual.Start.String()
		rec.ManualEndDate = s.Manual.End.String()
	}
	switch spec := s.Spec.(type) {
	case DailySchedule:
		rec.ScheduleType = string(KindDaily)
		rec.DailyTime = spec.At.String()
	case IntervalSchedule:
		rec.ScheduleType = string(KindInterval)
		every := spec.Every
		rec.IntervalValue = &every
		rec.IntervalUnit = string(spec.Unit)
	case WeeklySchedule:
		rec.ScheduleType = string(KindWeekly)
		day := int(spec.Day)
		rec.WeeklyDay = &day
		rec.WeeklyTime = spec.At.String()
	case CronSchedule:
		rec.ScheduleType = string(KindCron)
		rec.CronExpression = spec.Expr
	}
	return rec
}

// Schedule rebuilds the variant from a flat record. Fields belonging to
// other kinds are ignored; missing times fall back to 12:00 (daily) and
// 08:00 (weekly). An unknown schedule_type is an InvalidConfigError.
func (r ScheduleRecord) Schedule() (ReportSchedule, error) {
	kind, err := ParseScheduleKind(strings.TrimSpace(r.ScheduleType))
	if err != nil {
		return ReportSchedule{}, err
	}
	out := ReportSchedule{
		ReportType: r.ReportType,
		Enabled:    r.Enabled == nil || *r.Enabled,
		Period:     ReportPeriod{Type: PeriodType(r.PeriodType)},
		LastRunAt:  r.LastRunAt,
		NextRunAt:  r.NextRunAt,
	}
	if out.Period.Type == "" {
		out.Period.Type = PeriodLastWeek
	}
	if r.PeriodNDays != nil {
		out.Period.Days = *r.PeriodNDays
	}

	switch kind {
	case KindDaily:
		at, err := timeOrDefault("daily_time", r.DailyTime, defaultDailyTime)
		if err != nil {
			return ReportSchedule{}, err
		}
		out.Spec = DailySchedule{At: at}
	case KindInterval:
		spec := IntervalSchedule{Every: 1, Unit: UnitDays}
		if r.IntervalValue != nil {
			spec.Every = *r.IntervalValue
		}
		if r.IntervalUnit != "" {
			spec.Unit = IntervalUnit(r.IntervalUnit)
		}
		out.Spec = spec
	case KindWeekly:
		at, err := timeOrDefault("weekly_time", r.WeeklyTime, defaultWeeklyTime)
		if err != nil {
			return ReportSchedule{}, err
		}
		spec := WeeklySchedule{Day: Monday, At: at}
		if r.WeeklyDay != nil {
			spec.Day = Weekday(*r.WeeklyDay)
		}
		out.Spec = spec
	case KindCron:
		out.Spec = CronSchedule{Expr: strings.TrimSpace(r.CronExpression)}
	}

	if r.ManualStartDate != "" || r.ManualEndDate != "" {
		start, err := ParseDate(r.ManualStartDate)
		if err != nil {
			return ReportSchedule{}, invalid("manual_start_date", "%v", err)
		}
		end, err := ParseDate(r.ManualEndDate)
		if err != nil {
			return ReportSchedule{}, invalid("manual_end_date", "%v", err)
		}
		out.Manual = &DateRange{Start: start, End: end}
	}
	return out, nil
}

func timeOrDefault(field, value string, def TimeOfDay) (TimeOfDay, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	t, err := ParseTimeOfDay(value)
	if err != nil {
		return TimeOfDay{}, invalid(field, "%v", err)
	}
	return t, nil
}

func (s ReportSchedule) MarshalJSON() ([]byte, error) { return json.Marshal(s.Record()) }

func (s *ReportSchedule) UnmarshalJSON(b []byte) error {
	var rec ScheduleRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	parsed, err := rec.Schedule()
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s ReportSchedule) MarshalYAML() (interface{}, error) { return s.Record(), nil }

func (s *ReportSchedule) UnmarshalYAML(node *yaml.Node) error {
	var rec ScheduleRecord
	if err := node.Decode(&rec); err != nil {
		return err
	}
	parsed, err := rec.Schedule()
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func boolVal(b *bool) bool {
	return b != nil && *b
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
