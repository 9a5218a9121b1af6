package tenantcfg

import (
	"fmt"
	"strings"
)

// Table names of the normalized schema.
const (
	TableUsers              = "users"
	TableUserConfig         = "user_config"
	TableStations           = "user_stations"
	TableStationMappings    = "user_station_mappings"
	TableStationChatIDs     = "user_station_chat_ids"
	TableEmployeeExtensions = "user_employee_extensions"
	TablePrompts            = "user_prompts"
	TableVocabulary         = "user_vocabulary"
	TableScriptPrompts      = "user_script_prompts"
	TableReportSchedules    = "report_schedules"
)

// Validate checks a desired aggregate before it is written. It reports the
// same duplicate keys the unique constraints would, so a bad request fails
// before a transaction is opened.
func (a Aggregate) Validate() error {
	switch a.Config.SourceType {
	case "", SourceLocal, SourceFTP:
	default:
		return invalid("source_type", "unknown source type %q", a.Config.SourceType)
	}

	if err := checkKeys(TableStations, []string{"code"}, a.Stations, func(s Station) []string {
		return []string{s.Code}
	}); err != nil {
		return err
	}
	for _, s := range a.Stations {
		if s.Code == "" {
			return invalid("stations.code", "required")
		}
	}

	if err := checkKeys(TableStationMappings, []string{"main_station_code", "sub_station_code"}, a.StationMappings,
		func(m StationMapping) []string { return []string{m.MainStationCode, m.SubStationCode} }); err != nil {
		return err
	}
	for _, m := range a.StationMappings {
		if m.MainStationCode == "" || m.SubStationCode == "" {
			return invalid("station_mappings", "main and sub station codes are required")
		}
	}

	if err := checkKeys(TableStationChatIDs, []string{"station_code", "chat_id"}, a.StationChatIDs,
		func(c StationChatID) []string { return []string{c.StationCode, c.ChatID} }); err != nil {
		return err
	}
	for _, c := range a.StationChatIDs {
		if c.StationCode == "" || c.ChatID == "" {
			return invalid("station_chat_ids", "station code and chat id are required")
		}
	}

	if err := checkKeys(TableEmployeeExtensions, []string{"extension"}, a.EmployeeExtensions,
		func(e EmployeeExtension) []string { return []string{e.Extension} }); err != nil {
		return err
	}
	for _, e := range a.EmployeeExtensions {
		if e.Extension == "" {
			return invalid("employee_extensions.extension", "required")
		}
	}

	if err := checkKeys(TablePrompts, []string{"prompt_type", "prompt_key"}, a.Prompts,
		func(p Prompt) []string { return []string{string(p.Type), p.Key} }); err != nil {
		return err
	}
	for _, p := range a.Prompts {
		switch p.Type {
		case PromptAnchor, PromptStation, PromptDefault:
		default:
			return invalid("prompts.prompt_type", "unknown prompt type %q", p.Type)
		}
		if p.Key == "" {
			return invalid("prompts.prompt_key", "required for %s prompts", p.Type)
		}
	}

	if err := checkKeys(TableReportSchedules, []string{"report_type"}, a.Schedules,
		func(s ReportSchedule) []string { return []string{string(s.ReportType)} }); err != nil {
		return err
	}
	for _, s := range a.Schedules {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func checkKeys[T any](table string, columns []string, rows []T, key func(T) []string) error {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		values := key(row)
		k := strings.Join(values, "\x00")
		if _, dup := seen[k]; dup {
			return NewDuplicateKeyError(table, columns, values, fmt.Errorf("repeated in request"))
		}
		seen[k] = struct{}{}
	}
	return nil
}
