package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// userConfigColumn is one user_config column. fallback is the COALESCE
// default applied on read; empty means the column is read as-is.
type userConfigColumn struct {
	name     string
	fallback string
}

var userConfigColumns = []userConfigColumn{
	{"source_type", "'local'"},
	{"prompts_file", "''"},
	{"base_records_path", "''"},
	{"ftp_connection_id", ""},
	{"script_prompt_file", "''"},
	{"additional_vocab_file", "''"},
	{"thebai_api_key", "''"},
	{"thebai_url", "''"},
	{"thebai_model", "''"},
	{"telegram_bot_token", "''"},
	{"speechmatics_api_key", "''"},
	{"alert_chat_id", "''"},
	{"tg_channel_nizh", "''"},
	{"tg_channel_other", "''"},
	{"reports_chat_id", "''"},
	{"tbank_stereo_enabled", "FALSE"},
	{"use_additional_vocab", "TRUE"},
	{"auto_detect_operator_name", "FALSE"},
	{"allowed_stations", ""},
	{"nizh_station_codes", ""},
	{"legal_entity_keywords", ""},
	{"use_custom_filename_patterns", "FALSE"},
	{"filename_patterns", ""},
	{"filename_extensions", ""},
	{"business_profile", "'autoservice'"},
}

func userConfigSelectList() string {
	parts := make([]string, len(userConfigColumns))
	for i, col := range userConfigColumns {
		if col.fallback == "" {
			parts[i] = col.name
			continue
		}
		parts[i] = fmt.Sprintf("COALESCE(%s, %s)", col.name, col.fallback)
	}
	return strings.Join(parts, ", ")
}

func userConfigDest(c *tenantcfg.UserConfig, ftp *sql.NullInt64) []interface{} {
	return []interface{}{
		&c.SourceType, &c.PromptsFile, &c.BaseRecordsPath, ftp, &c.ScriptPromptFile, &c.AdditionalVocabFile,
		&c.TheBaiAPIKey, &c.TheBaiURL, &c.TheBaiModel, &c.TelegramBotToken, &c.SpeechmaticsAPIKey,
		&c.AlertChatID, &c.RegionChannelChatID, &c.OtherChannelChatID, &c.ReportsChatID,
		&c.StereoEnabled, &c.UseAdditionalVocab, &c.AutoDetectOperatorName,
		&c.AllowedStations, &c.RegionStationCodes, &c.LegalEntityKeywords,
		&c.UseCustomFilenamePatterns, &c.FilenamePatterns, &c.FilenameExtensions,
		&c.BusinessProfile,
	}
}

func userConfigArgs(c tenantcfg.UserConfig) []interface{} {
	return []interface{}{
		string(c.SourceType), c.PromptsFile, c.BaseRecordsPath, c.FTPConnectionID, c.ScriptPromptFile, c.AdditionalVocabFile,
		c.TheBaiAPIKey, c.TheBaiURL, c.TheBaiModel, c.TelegramBotToken, c.SpeechmaticsAPIKey,
		c.AlertChatID, c.RegionChannelChatID, c.OtherChannelChatID, c.ReportsChatID,
		c.StereoEnabled, c.UseAdditionalVocab, c.AutoDetectOperatorName,
		c.AllowedStations, c.RegionStationCodes, c.LegalEntityKeywords,
		c.UseCustomFilenamePatterns, c.FilenamePatterns, c.FilenameExtensions,
		c.BusinessProfile,
	}
}

const scheduleColumns = `report_type, schedule_type, enabled, daily_time, interval_value, interval_unit,
	weekly_day, weekly_time, cron_expression, period_type, period_n_days,
	manual_start_date, manual_end_date, last_run_at, next_run_at`

// snapshot is the stored state of one user, including which one-to-one
// rows exist. invalidSchedules lists stored schedule rows that could not be
// decoded; it is only filled when loading for a save.
type snapshot struct {
	agg              tenantcfg.Aggregate
	hasConfig        bool
	hasVocabulary    bool
	hasScript        bool
	invalidSchedules []tenantcfg.ReportType
}

// LoadConfig implements tenantcfg.Store. A user without rows gets
// tenantcfg.DefaultAggregate.
func (s *Store) LoadConfig(ctx context.Context, userID int64) (agg *tenantcfg.Aggregate, err error) {
	defer observe("load_config", time.Now(), &err)

	snap, err := s.load(ctx, s.db, userID, true)
	if err != nil {
		return nil, err
	}
	return &snap.agg, nil
}

// load reads the stored state of userID. With strict set, a schedule row of
// an unknown type fails the load; otherwise it is reported in
// snapshot.invalidSchedules so a save can replace it.
func (s *Store) load(ctx context.Context, q queryer, userID int64, strict bool) (*snapshot, error) {
	snap := &snapshot{agg: tenantcfg.DefaultAggregate()}
	a := &snap.agg
	var err error

	if snap.hasConfig, err = s.loadUserConfig(ctx, q, userID, &a.Config); err != nil {
		return nil, s.storageError("load config", userID, tenantcfg.TableUserConfig, err)
	}
	if a.Stations, err = queryRows(ctx, q, s.rebind(`
		SELECT code, name FROM user_stations WHERE user_id = ? ORDER BY code
	`), userID, func(r *sql.Rows) (st tenantcfg.Station, err error) {
		err = r.Scan(&st.Code, &st.Name)
		return st, err
	}); err != nil {
		return nil, s.storageError("load config", userID, tenantcfg.TableStations, err)
	}
	if a.StationMappings, err = queryRows(ctx, q, s.rebind(`
		SELECT main_station_code, sub_station_code FROM user_station_mappings
		WHERE user_id = ? ORDER BY main_station_code, sub_station_code
	`), userID, func(r *sql.Rows) (m tenantcfg.StationMapping, err error) {
		err = r.Scan(&m.MainStationCode, &m.SubStationCode)
		return m, err
	}); err != nil {
		return nil, s.storageError("load config", userID, tenantcfg.TableStationMappings, err)
	}
	if a.StationChatIDs, err = queryRows(ctx, q, s.rebind(`
		SELECT station_code, chat_id FROM user_station_chat_ids
		WHERE user_id = ? ORDER BY station_code, chat_id
	`), userID, func(r *sql.Rows) (c tenantcfg.StationChatID, err error) {
		err = r.Scan(&c.StationCode, &c.ChatID)
		return c, err
	}); err != nil {
		return nil, s.storageError("load config", userID, tenantcfg.TableStationChatIDs, err)
	}
	if a.EmployeeExtensions, err = queryRows(ctx, q, s.rebind(`
		SELECT extension, employee FROM user_employee_extensions WHERE user_id = ? ORDER BY extension
	`), userID, func(r *sql.Rows) (e tenantcfg.EmployeeExtension, err error) {
		err = r.Scan(&e.Extension, &e.Employee)
		return e, err
	}); err != nil {
		return nil, s.storageError("load config", userID, tenantcfg.TableEmployeeExtensions, err)
	}
	if a.Prompts, err = queryRows(ctx, q, s.rebind(`
		SELECT prompt_type, prompt_key, prompt_text FROM user_prompts
		WHERE user_id = ? ORDER BY prompt_type, prompt_key
	`), userID, func(r *sql.Rows) (p tenantcfg.Prompt, err error) {
		err = r.Scan(&p.Type, &p.Key, &p.Text)
		return p, err
	}); err != nil {
		return nil, s.storageError("load config", userID, tenantcfg.TablePrompts, err)
	}

	err = q.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(enabled, TRUE), additional_vocab FROM user_vocabulary WHERE user_id = ?
	`), userID).Scan(&a.Vocabulary.Enabled, &a.Vocabulary.Terms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, s.storageError("load config", userID, tenantcfg.TableVocabulary, err)
	default:
		snap.hasVocabulary = true
	}

	err = q.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(prompt_text, ''), checklist FROM user_script_prompts WHERE user_id = ?
	`), userID).Scan(&a.ScriptPrompt.Text, &a.ScriptPrompt.Checklist)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, s.storageError("load config", userID, tenantcfg.TableScriptPrompts, err)
	default:
		snap.hasScript = true
	}

	if a.Schedules, snap.invalidSchedules, err = s.loadSchedules(ctx, q, userID, strict); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) loadUserConfig(ctx context.Context, q queryer, userID int64, out *tenantcfg.UserConfig) (bool, error) {
	var (
		cfg tenantcfg.UserConfig
		ftp sql.NullInt64
	)
	err := q.QueryRowContext(ctx, s.rebind(
		"SELECT "+userConfigSelectList()+" FROM user_config WHERE user_id = ?",
	), userID).Scan(userConfigDest(&cfg, &ftp)...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ftp.Valid {
		id := ftp.Int64
		cfg.FTPConnectionID = &id
	}
	*out = cfg
	return true, nil
}

func (s *Store) loadSchedules(ctx context.Context, q queryer, userID int64, strict bool) ([]tenantcfg.ReportSchedule, []tenantcfg.ReportType, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT `+scheduleColumns+`
		FROM report_schedules WHERE user_id = ? ORDER BY report_type
	`), userID)
	if err != nil {
		return nil, nil, s.storageError("load config", userID, tenantcfg.TableReportSchedules, err)
	}
	defer rows.Close()

	out := []tenantcfg.ReportSchedule{}
	var invalid []tenantcfg.ReportType
	for rows.Next() {
		rec, err := scanScheduleRecord(rows)
		if err != nil {
			return nil, nil, s.storageError("load config", userID, tenantcfg.TableReportSchedules, err)
		}
		sched, err := rec.Schedule()
		if err != nil {
			s.logger.Warn("stored report schedule is invalid",
				zap.Int64("user_id", userID), zap.String("report_type", string(rec.ReportType)),
				zap.String("schedule_type", rec.ScheduleType), zap.Error(err))
			if strict {
				return nil, nil, err
			}
			invalid = append(invalid, rec.ReportType)
			continue
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, s.storageError("load config", userID, tenantcfg.TableReportSchedules, err)
	}
	return out, invalid, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScheduleRecord(r rowScanner, extra ...interface{}) (tenantcfg.ScheduleRecord, error) {
	var (
		rec                                   tenantcfg.ScheduleRecord
		scheduleType                          string
		enabled                               sql.NullBool
		dailyTime, intervalUnit, weeklyTime   sql.NullString
		cronExpr, periodType                  sql.NullString
		intervalValue, weeklyDay, periodNDays sql.NullInt64
		manualStart, manualEnd                tenantcfg.Date
		lastRun, nextRun                      sql.NullTime
	)
	dest := append(extra,
		&rec.ReportType, &scheduleType, &enabled, &dailyTime, &intervalValue, &intervalUnit,
		&weeklyDay, &weeklyTime, &cronExpr, &periodType, &periodNDays,
		&manualStart, &manualEnd, &lastRun, &nextRun,
	)
	if err := r.Scan(dest...); err != nil {
		return rec, err
	}

	rec.ScheduleType = scheduleType
	if enabled.Valid {
		rec.Enabled = &enabled.Bool
	}
	rec.DailyTime = dailyTime.String
	rec.IntervalUnit = intervalUnit.String
	rec.WeeklyTime = weeklyTime.String
	rec.CronExpression = cronExpr.String
	rec.PeriodType = periodType.String
	rec.IntervalValue = nullInt(intervalValue)
	rec.WeeklyDay = nullInt(weeklyDay)
	rec.PeriodNDays = nullInt(periodNDays)
	if !manualStart.IsZero() {
		rec.ManualStartDate = manualStart.String()
	}
	if !manualEnd.IsZero() {
		rec.ManualEndDate = manualEnd.String()
	}
	rec.LastRunAt = nullTime(lastRun)
	rec.NextRunAt = nullTime(nextRun)
	return rec, nil
}

func queryRows[T any](ctx context.Context, q queryer, query string, userID int64, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
