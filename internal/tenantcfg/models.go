package tenantcfg

import (
	"sort"
	"strings"
)

// ==============================================================================
// Tenant Configuration Aggregate
// ==============================================================================

// SourceType selects where call recordings are read from.
type SourceType string

const (
	SourceLocal SourceType = "local"
	SourceFTP   SourceType = "ftp"
)

// PromptType categorises prompt templates.
type PromptType string

const (
	PromptAnchor  PromptType = "anchor"  // keyword-anchored classification prompt
	PromptStation PromptType = "station" // per-station override, keyed by station code
	PromptDefault PromptType = "default" // tenant-wide fallback, key is always "default"
)

// DefaultPromptKey is the prompt_key used for PromptDefault rows.
const DefaultPromptKey = "default"

// DefaultBusinessProfile is applied when a tenant has not chosen one.
const DefaultBusinessProfile = "autoservice"

// Aggregate is the complete configuration of one tenant. It is physically
// spread across several tables but is read and written as one unit.
type Aggregate struct {
	Config             UserConfig          `json:"config" yaml:"config"`
	Stations           []Station           `json:"stations" yaml:"stations"`
	StationMappings    []StationMapping    `json:"station_mappings" yaml:"station_mappings"`
	StationChatIDs     []StationChatID     `json:"station_chat_ids" yaml:"station_chat_ids"`
	EmployeeExtensions []EmployeeExtension `json:"employee_extensions" yaml:"employee_extensions"`
	Prompts            []Prompt            `json:"prompts" yaml:"prompts"`
	Vocabulary         Vocabulary          `json:"vocabulary" yaml:"vocabulary"`
	ScriptPrompt       ScriptPrompt        `json:"script_prompt" yaml:"script_prompt"`
	Schedules          []ReportSchedule    `json:"schedules" yaml:"schedules"`
}

// UserConfig holds the scalar settings row (user_config).
type UserConfig struct {
	SourceType          SourceType `json:"source_type" yaml:"source_type"`
	PromptsFile         string     `json:"prompts_file" yaml:"prompts_file"`
	BaseRecordsPath     string     `json:"base_records_path" yaml:"base_records_path"`
	FTPConnectionID     *int64     `json:"ftp_connection_id,omitempty" yaml:"ftp_connection_id,omitempty"`
	ScriptPromptFile    string     `json:"script_prompt_file" yaml:"script_prompt_file"`
	AdditionalVocabFile string     `json:"additional_vocab_file" yaml:"additional_vocab_file"`

	TheBaiAPIKey       string `json:"thebai_api_key" yaml:"thebai_api_key"`
	TheBaiURL          string `json:"thebai_url" yaml:"thebai_url"`
	TheBaiModel        string `json:"thebai_model" yaml:"thebai_model"`
	TelegramBotToken   string `json:"telegram_bot_token" yaml:"telegram_bot_token"`
	SpeechmaticsAPIKey string `json:"speechmatics_api_key" yaml:"speechmatics_api_key"`

	AlertChatID         string `json:"alert_chat_id" yaml:"alert_chat_id"`
	RegionChannelChatID string `json:"tg_channel_nizh" yaml:"tg_channel_nizh"`
	OtherChannelChatID  string `json:"tg_channel_other" yaml:"tg_channel_other"`
	ReportsChatID       string `json:"reports_chat_id" yaml:"reports_chat_id"`

	StereoEnabled          bool `json:"tbank_stereo_enabled" yaml:"tbank_stereo_enabled"`
	UseAdditionalVocab     bool `json:"use_additional_vocab" yaml:"use_additional_vocab"`
	AutoDetectOperatorName bool `json:"auto_detect_operator_name" yaml:"auto_detect_operator_name"`

	AllowedStations     StringList `json:"allowed_stations" yaml:"allowed_stations"`
	RegionStationCodes  StringList `json:"nizh_station_codes" yaml:"nizh_station_codes"`
	LegalEntityKeywords StringList `json:"legal_entity_keywords" yaml:"legal_entity_keywords"`

	UseCustomFilenamePatterns bool       `json:"use_custom_filename_patterns" yaml:"use_custom_filename_patterns"`
	FilenamePatterns          StringList `json:"filename_patterns" yaml:"filename_patterns"`
	FilenameExtensions        StringList `json:"filename_extensions" yaml:"filename_extensions"`

	BusinessProfile string `json:"business_profile" yaml:"business_profile"`
}

// Station is a routing endpoint registered by the tenant (user_stations).
type Station struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// StationMapping groups a sub-station under a main station. Codes are not
// required to exist in the station registry.
type StationMapping struct {
	MainStationCode string `json:"main_station_code" yaml:"main_station_code"`
	SubStationCode  string `json:"sub_station_code" yaml:"sub_station_code"`
}

// StationChatID binds a station code to one notification destination.
type StationChatID struct {
	StationCode string `json:"station_code" yaml:"station_code"`
	ChatID      string `json:"chat_id" yaml:"chat_id"`
}

// EmployeeExtension maps a phone extension to an employee display name.
type EmployeeExtension struct {
	Extension string `json:"extension" yaml:"extension"`
	Employee  string `json:"employee" yaml:"employee"`
}

// Prompt is a categorised prompt template.
type Prompt struct {
	Type PromptType `json:"prompt_type" yaml:"prompt_type"`
	Key  string     `json:"prompt_key" yaml:"prompt_key"`
	Text string     `json:"prompt_text" yaml:"prompt_text"`
}

// Vocabulary holds supplemental transcription terms.
type Vocabulary struct {
	Enabled bool       `json:"enabled" yaml:"enabled"`
	Terms   StringList `json:"additional_vocab" yaml:"additional_vocab"`
}

// ChecklistItem is one criterion of a scripted call evaluation.
type ChecklistItem struct {
	Title  string `json:"title" yaml:"title"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// ScriptPrompt drives scripted call evaluation.
type ScriptPrompt struct {
	Text      string    `json:"prompt_text" yaml:"prompt_text"`
	Checklist Checklist `json:"checklist" yaml:"checklist"`
}

// ==============================================================================
// Natural keys
// ==============================================================================

// MappingKey identifies a StationMapping.
type MappingKey struct{ Main, Sub string }

// ChatKey identifies a StationChatID.
type ChatKey struct{ Station, Chat string }

// PromptKey identifies a Prompt.
type PromptKey struct {
	Type PromptType
	Key  string
}

func (s Station) NaturalKey() string { return s.Code }
func (m StationMapping) NaturalKey() MappingKey {
	return MappingKey{m.MainStationCode, m.SubStationCode}
}
func (c StationChatID) NaturalKey() ChatKey    { return ChatKey{c.StationCode, c.ChatID} }
func (e EmployeeExtension) NaturalKey() string { return e.Extension }
func (p Prompt) NaturalKey() PromptKey         { return PromptKey{p.Type, p.Key} }

// DefaultAggregate returns the configuration a tenant gets before saving
// anything.
func DefaultAggregate() Aggregate {
	return Aggregate{
		Config: UserConfig{
			SourceType:          SourceLocal,
			UseAdditionalVocab:  true,
			AllowedStations:     StringList{},
			RegionStationCodes:  StringList{},
			LegalEntityKeywords: StringList{},
			FilenamePatterns:    StringList{},
			FilenameExtensions:  StringList{},
			BusinessProfile:     DefaultBusinessProfile,
		},
		Stations:           []Station{},
		StationMappings:    []StationMapping{},
		StationChatIDs:     []StationChatID{},
		EmployeeExtensions: []EmployeeExtension{},
		Prompts:            []Prompt{},
		Vocabulary:         Vocabulary{Enabled: true, Terms: StringList{}},
		ScriptPrompt:       ScriptPrompt{Checklist: Checklist{}},
		Schedules:          []ReportSchedule{},
	}
}

// Normalize trims business keys, fills empty enums with defaults and sorts
// every collection by its natural key so two equivalent aggregates compare
// equal regardless of input order.
func (a *Aggregate) Normalize() {
	if a.Config.SourceType == "" {
		a.Config.SourceType = SourceLocal
	}
	if strings.TrimSpace(a.Config.BusinessProfile) == "" {
		a.Config.BusinessProfile = DefaultBusinessProfile
	}
	for i := range a.Stations {
		a.Stations[i].Code = strings.TrimSpace(a.Stations[i].Code)
		a.Stations[i].Name = strings.TrimSpace(a.Stations[i].Name)
	}
	for i := range a.StationMappings {
		m := &a.StationMappings[i]
		m.MainStationCode = strings.TrimSpace(m.MainStationCode)
		m.SubStationCode = strings.TrimSpace(m.SubStationCode)
	}
	for i := range a.StationChatIDs {
		c := &a.StationChatIDs[i]
		c.StationCode = strings.TrimSpace(c.StationCode)
		c.ChatID = strings.TrimSpace(c.ChatID)
	}
	for i := range a.EmployeeExtensions {
		a.EmployeeExtensions[i].Extension = strings.TrimSpace(a.EmployeeExtensions[i].Extension)
	}
	for i := range a.Prompts {
		p := &a.Prompts[i]
		p.Key = strings.TrimSpace(p.Key)
		if p.Type == PromptDefault && p.Key == "" {
			p.Key = DefaultPromptKey
		}
	}
	for i := range a.Schedules {
		a.Schedules[i].ReportType = ReportType(strings.TrimSpace(string(a.Schedules[i].ReportType)))
		p := &a.Schedules[i].Period
		if p.Type == "" {
			p.Type = PeriodLastWeek
		}
		if p.Type != PeriodLastNDays {
			p.Days = 0
		}
	}
	a.Sort()
}

// Sort orders every collection by natural key.
func (a *Aggregate) Sort() {
	sort.SliceStable(a.Stations, func(i, j int) bool { return a.Stations[i].Code < a.Stations[j].Code })
	sort.SliceStable(a.StationMappings, func(i, j int) bool {
		x, y := a.StationMappings[i], a.StationMappings[j]
		if x.MainStationCode != y.MainStationCode {
			return x.MainStationCode < y.MainStationCode
		}
		return x.SubStationCode < y.SubStationCode
	})
	sort.SliceStable(a.StationChatIDs, func(i, j int) bool {
		x, y := a.StationChatIDs[i], a.StationChatIDs[j]
		if x.StationCode != y.StationCode {
			return x.StationCode < y.StationCode
		}
		return x.ChatID < y.ChatID
	})
	sort.SliceStable(a.EmployeeExtensions, func(i, j int) bool {
		return a.EmployeeExtensions[i].Extension < a.EmployeeExtensions[j].Extension
	})
	sort.SliceStable(a.Prompts, func(i, j int) bool {
		x, y := a.Prompts[i], a.Prompts[j]
		if x.Type != y.Type {
			return x.Type < y.Type
		}
		return x.Key < y.Key
	})
	sort.SliceStable(a.Schedules, func(i, j int) bool {
		return a.Schedules[i].ReportType < a.Schedules[j].ReportType
	})
}

// Schedule returns the schedule for reportType, if configured.
func (a *Aggregate) Schedule(reportType ReportType) (*ReportSchedule, bool) {
	for i := range a.Schedules {
		if a.Schedules[i].ReportType == reportType {
			return &a.Schedules[i], true
		}
	}
	return nil, false
}

// SetSchedule inserts or replaces the schedule keyed by its report type.
func (a *Aggregate) SetSchedule(s ReportSchedule) {
	for i := range a.Schedules {
		if a.Schedules[i].ReportType == s.ReportType {
			a.Schedules[i] = s
			return
		}
	}
	a.Schedules = append(a.Schedules, s)
}

// RemoveSchedule drops the schedule for reportType and reports whether it
// existed.
func (a *Aggregate) RemoveSchedule(reportType ReportType) bool {
	for i := range a.Schedules {
		if a.Schedules[i].ReportType == reportType {
			a.Schedules = append(a.Schedules[:i], a.Schedules[i+1:]...)
			return true
		}
	}
	return false
}
