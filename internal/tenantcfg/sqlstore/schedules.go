package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// reconcileSchedules keys report schedules by report type. last_run_at is
// kept from storage. next_run_at is kept while the rule is unchanged, even
// when it has already passed, so a pending run stays due until
// MarkScheduleRun advances it. A changed rule gets a fresh next_run_at.
func (s *Store) reconcileSchedules(ctx context.Context, tx *sql.Tx, userID int64, current, desired []tenantcfg.ReportSchedule) error {
	stored := make(map[tenantcfg.ReportType]tenantcfg.ReportSchedule, len(current))
	for _, sched := range current {
		stored[sched.ReportType] = sched
	}

	now := s.now().UTC()
	planned := make([]tenantcfg.ReportSchedule, 0, len(desired))
	for _, want := range desired {
		want.LastRunAt, want.NextRunAt = nil, nil
		if old, ok := stored[want.ReportType]; ok {
			want.LastRunAt = old.LastRunAt
			if old.SameRule(want) {
				want.NextRunAt = old.NextRunAt
			}
		}
		if want.Enabled && want.NextRunAt == nil {
			next, err := s.nextRun(want, now)
			if err != nil {
				return err
			}
			want.NextRunAt = &next
		}
		planned = append(planned, want)
	}

	return syncRows(ctx, s, tx, userID, scheduleSpec, current, planned)
}

// dropInvalidSchedules removes stored rows that no longer decode. The
// desired state then inserts a fresh row for any report type it still
// schedules.
func (s *Store) dropInvalidSchedules(ctx context.Context, tx *sql.Tx, userID int64, reportTypes []tenantcfg.ReportType) error {
	for _, rt := range reportTypes {
		if _, err := tx.ExecContext(ctx, s.rebind(scheduleSpec.deleteSQL), userID, string(rt)); err != nil {
			return s.storageError("save config", userID, tenantcfg.TableReportSchedules, err)
		}
		s.logger.Info("replaced invalid report schedule", zap.Int64("user_id", userID), zap.String("report_type", string(rt)))
	}
	return nil
}

// nextRun computes the first activation after now. Interval schedules count
// from the last run when there is one.
func (s *Store) nextRun(sched tenantcfg.ReportSchedule, now time.Time) (time.Time, error) {
	base := now
	if _, ok := sched.Spec.(tenantcfg.IntervalSchedule); ok && sched.LastRunAt != nil {
		base = *sched.LastRunAt
	}
	next, err := sched.Spec.Next(base, s.loc)
	if err != nil {
		return time.Time{}, err
	}
	if !next.After(now) {
		if next, err = sched.Spec.Next(now, s.loc); err != nil {
			return time.Time{}, err
		}
	}
	return next.UTC().Truncate(time.Second), nil
}

func scheduleArgs(userID int64, r tenantcfg.ReportSchedule) []interface{} {
	rec := r.Record()
	var manualStart, manualEnd tenantcfg.Date
	if r.Manual != nil {
		manualStart, manualEnd = r.Manual.Start, r.Manual.End
	}
	return []interface{}{
		rec.ScheduleType, r.Enabled, nullString(rec.DailyTime), rec.IntervalValue, nullString(rec.IntervalUnit),
		rec.WeeklyDay, nullString(rec.WeeklyTime), nullString(rec.CronExpression), rec.PeriodType, rec.PeriodNDays,
		manualStart, manualEnd, utcPtr(rec.LastRunAt), utcPtr(rec.NextRunAt),
		userID, string(r.ReportType),
	}
}

var scheduleSpec = rowSpec[tenantcfg.ReportSchedule, tenantcfg.ReportType]{
	table:      tenantcfg.TableReportSchedules,
	keyColumns: []string{"report_type"},
	key:        func(r tenantcfg.ReportSchedule) tenantcfg.ReportType { return r.ReportType },
	keyValues:  func(r tenantcfg.ReportSchedule) []string { return []string{string(r.ReportType)} },
	equal: func(a, b tenantcfg.ReportSchedule) bool {
		return a.SameRule(b) && sameTime(a.LastRunAt, b.LastRunAt) && sameTime(a.NextRunAt, b.NextRunAt)
	},
	insertSQL: `INSERT INTO report_schedules (schedule_type, enabled, daily_time, interval_value, interval_unit,
		weekly_day, weekly_time, cron_expression, period_type, period_n_days,
		manual_start_date, manual_end_date, last_run_at, next_run_at, user_id, report_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	insertArgs: scheduleArgs,
	updateSQL: `UPDATE report_schedules SET schedule_type = ?, enabled = ?, daily_time = ?, interval_value = ?,
		interval_unit = ?, weekly_day = ?, weekly_time = ?, cron_expression = ?, period_type = ?,
		period_n_days = ?, manual_start_date = ?, manual_end_date = ?, last_run_at = ?, next_run_at = ?,
		updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND report_type = ?`,
	updateArgs: scheduleArgs,
	deleteSQL:  `DELETE FROM report_schedules WHERE user_id = ? AND report_type = ?`,
	deleteArgs: func(u int64, r tenantcfg.ReportSchedule) []interface{} {
		return []interface{}{u, string(r.ReportType)}
	},
}

// DueSchedules implements tenantcfg.Store. Rows with an unknown schedule
// type are logged and skipped so one bad row cannot trigger a report.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) (due []tenantcfg.DueSchedule, err error) {
	defer observe("due_schedules", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id, `+scheduleColumns+`
		FROM report_schedules
		WHERE enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at, user_id, report_type
	`), true, now.UTC())
	if err != nil {
		return nil, s.storageError("due schedules", 0, tenantcfg.TableReportSchedules, err)
	}
	defer rows.Close()

	today := now.In(s.loc)
	due = []tenantcfg.DueSchedule{}
	for rows.Next() {
		var userID int64
		rec, err := scanScheduleRecord(rows, &userID)
		if err != nil {
			return nil, s.storageError("due schedules", 0, tenantcfg.TableReportSchedules, err)
		}
		sched, err := rec.Schedule()
		if err != nil {
			s.logger.Warn("skipping invalid report schedule",
				zap.Int64("user_id", userID), zap.String("report_type", string(rec.ReportType)), zap.Error(err))
			continue
		}
		due = append(due, tenantcfg.DueSchedule{UserID: userID, Schedule: sched, Range: sched.DateRange(today)})
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("due schedules", 0, tenantcfg.TableReportSchedules, err)
	}
	return due, nil
}

// MarkScheduleRun implements tenantcfg.Store.
func (s *Store) MarkScheduleRun(ctx context.Context, userID int64, reportType tenantcfg.ReportType, ranAt time.Time) (err error) {
	defer observe("mark_schedule_run", time.Now(), &err)

	return s.inTx(ctx, "mark schedule run", userID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT `+scheduleColumns+`
			FROM report_schedules WHERE user_id = ? AND report_type = ?
		`), userID, string(reportType))
		rec, err := scanScheduleRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return tenantcfg.ErrScheduleNotFound
		}
		if err != nil {
			return s.storageError("mark schedule run", userID, tenantcfg.TableReportSchedules, err)
		}
		sched, err := rec.Schedule()
		if err != nil {
			return err
		}

		ran := ranAt.UTC().Truncate(time.Second)
		sched.LastRunAt = &ran
		var next *time.Time
		if sched.Enabled {
			n, err := s.nextRun(sched, maxTime(ran, s.now().UTC()))
			if err != nil {
				return err
			}
			next = &n
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE report_schedules SET last_run_at = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ? AND report_type = ?
		`), ran, next, userID, string(reportType)); err != nil {
			return s.storageError("mark schedule run", userID, tenantcfg.TableReportSchedules, err)
		}
		return nil
	})
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
