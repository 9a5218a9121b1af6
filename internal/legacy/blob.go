// Package legacy imports the per-user JSON settings blob (user_settings.data)
// that predates the normalized configuration tables.
package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// Text is a scalar that may be encoded as a JSON string, number or bool.
// Chat ids and station codes were stored both ways.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = Text(n.String())
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("legacy: expected scalar, got %s", b)
	}
	*t = Text(strconv.FormatBool(v))
	return nil
}

func (t Text) String() string { return strings.TrimSpace(string(t)) }

// TextList is a list of scalars; a single scalar decodes as one element.
type TextList []Text

func (l *TextList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] != '[' {
		var one Text
		if err := one.UnmarshalJSON(b); err != nil {
			return err
		}
		*l = TextList{one}
		return nil
	}
	var items []Text
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

func (l TextList) strings() tenantcfg.StringList {
	out := make(tenantcfg.StringList, 0, len(l))
	for _, t := range l {
		if s := t.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Blob is the decoded settings document. Nil sections were absent.
type Blob struct {
	Config       *ConfigSection     `json:"config"`
	Prompts      *PromptsSection    `json:"prompts"`
	Vocabulary   *VocabularySection `json:"vocabulary"`
	ScriptPrompt *ScriptSection     `json:"script_prompt"`
}

// ConfigSection is the "config" object of the blob.
type ConfigSection struct {
	Paths               map[string]Text     `json:"paths"`
	APIKeys             map[string]Text     `json:"api_keys"`
	Telegram            map[string]Text     `json:"telegram"`
	Transcription       map[string]*bool    `json:"transcription"`
	Filename            *FilenameSection    `json:"filename"`
	Stations            map[string]Text     `json:"stations"`
	StationMapping      map[string]TextList `json:"station_mapping"`
	StationChatIDs      map[string]TextList `json:"station_chat_ids"`
	EmployeeByExtension map[string]Text     `json:"employee_by_extension"`
	AllowedStations     TextList            `json:"allowed_stations"`
	NizhStationCodes    TextList            `json:"nizh_station_codes"`
	LegalEntityKeywords TextList            `json:"legal_entity_keywords"`
	BusinessProfile     Text                `json:"business_profile"`
}

// FilenameSection holds custom recording filename matching.
type FilenameSection struct {
	Enabled    bool     `json:"enabled"`
	Patterns   TextList `json:"patterns"`
	Extensions TextList `json:"extensions"`
}

// PromptsSection is the "prompts" object of the blob.
type PromptsSection struct {
	Default  Text            `json:"default"`
	Anchors  map[string]Text `json:"anchors"`
	Stations map[string]Text `json:"stations"`
}

// VocabularySection is the "vocabulary" object of the blob.
type VocabularySection struct {
	Enabled         *bool    `json:"enabled"`
	AdditionalVocab TextList `json:"additional_vocab"`
}

// ScriptSection is the "script_prompt" object of the blob.
type ScriptSection struct {
	Prompt    Text                      `json:"prompt"`
	Checklist []tenantcfg.ChecklistItem `json:"checklist"`
}

// Decode parses a settings blob. Empty input decodes to an empty Blob.
func Decode(data []byte) (Blob, error) {
	var b Blob
	if len(bytes.TrimSpace(data)) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, fmt.Errorf("decode legacy settings: %w", err)
	}
	return b, nil
}

// Empty reports whether the blob carries nothing to import.
func (b Blob) Empty() bool {
	return b.Config.empty() && b.Prompts.empty() && b.Vocabulary.empty() && b.ScriptPrompt.empty()
}

func (c *ConfigSection) empty() bool {
	return c == nil || (len(c.Paths) == 0 && len(c.APIKeys) == 0 && len(c.Telegram) == 0 &&
		len(c.Transcription) == 0 && c.Filename == nil && len(c.Stations) == 0 &&
		len(c.StationMapping) == 0 && len(c.StationChatIDs) == 0 && len(c.EmployeeByExtension) == 0 &&
		len(c.AllowedStations) == 0 && len(c.NizhStationCodes) == 0 && len(c.LegalEntityKeywords) == 0 &&
		c.BusinessProfile == "")
}

func (p *PromptsSection) empty() bool {
	return p == nil || (p.Default == "" && len(p.Anchors) == 0 && len(p.Stations) == 0)
}

func (v *VocabularySection) empty() bool {
	return v == nil || (v.Enabled == nil && len(v.AdditionalVocab) == 0)
}

func (s *ScriptSection) empty() bool {
	return s == nil || (s.Prompt == "" && len(s.Checklist) == 0)
}

// Apply overlays the blob onto base. A non-empty group replaces the
// matching part of base entirely; empty or absent groups leave it alone.
func (b Blob) Apply(base tenantcfg.Aggregate) tenantcfg.Aggregate {
	out := base
	if c := b.Config; !c.empty() {
		applyConfig(&out, c)
	}
	if p := b.Prompts; !p.empty() {
		out.Prompts = prompts(p)
	}
	if v := b.Vocabulary; !v.empty() {
		out.Vocabulary = tenantcfg.Vocabulary{Enabled: v.Enabled == nil || *v.Enabled, Terms: v.AdditionalVocab.strings()}
	}
	if s := b.ScriptPrompt; !s.empty() {
		checklist := make(tenantcfg.Checklist, 0, len(s.Checklist))
		for _, item := range s.Checklist {
			if strings.TrimSpace(item.Title) == "" {
				continue
			}
			checklist = append(checklist, tenantcfg.ChecklistItem{
				Title:  strings.TrimSpace(item.Title),
				Prompt: strings.TrimSpace(item.Prompt),
			})
		}
		out.ScriptPrompt = tenantcfg.ScriptPrompt{Text: s.Prompt.String(), Checklist: checklist}
	}
	out.Normalize()
	return out
}

func applyConfig(out *tenantcfg.Aggregate, c *ConfigSection) {
	cfg := &out.Config
	if len(c.Paths) > 0 {
		cfg.SourceType = tenantcfg.SourceType(c.Paths["source_type"].String())
		cfg.PromptsFile = c.Paths["prompts_file"].String()
		cfg.BaseRecordsPath = c.Paths["base_records_path"].String()
		cfg.ScriptPromptFile = c.Paths["script_prompt_file"].String()
		cfg.AdditionalVocabFile = c.Paths["additional_vocab_file"].String()
		cfg.FTPConnectionID = nil
		if id, err := strconv.ParseInt(c.Paths["ftp_connection_id"].String(), 10, 64); err == nil {
			cfg.FTPConnectionID = &id
		}
	}
	if len(c.APIKeys) > 0 {
		cfg.TheBaiAPIKey = c.APIKeys["thebai_api_key"].String()
		cfg.TheBaiURL = c.APIKeys["thebai_url"].String()
		cfg.TheBaiModel = c.APIKeys["thebai_model"].String()
		cfg.TelegramBotToken = c.APIKeys["telegram_bot_token"].String()
		cfg.SpeechmaticsAPIKey = c.APIKeys["speechmatics_api_key"].String()
	}
	if len(c.Telegram) > 0 {
		cfg.AlertChatID = c.Telegram["alert_chat_id"].String()
		cfg.RegionChannelChatID = c.Telegram["tg_channel_nizh"].String()
		cfg.OtherChannelChatID = c.Telegram["tg_channel_other"].String()
		cfg.ReportsChatID = c.Telegram["reports_chat_id"].String()
	}
	if len(c.Transcription) > 0 {
		cfg.StereoEnabled = flag(c.Transcription["tbank_stereo_enabled"], false)
		cfg.UseAdditionalVocab = flag(c.Transcription["use_additional_vocab"], true)
		cfg.AutoDetectOperatorName = flag(c.Transcription["auto_detect_operator_name"], false)
	}
	if f := c.Filename; f != nil {
		cfg.UseCustomFilenamePatterns = f.Enabled
		cfg.FilenamePatterns = f.Patterns.strings()
		cfg.FilenameExtensions = f.Extensions.strings()
	}
	if c.BusinessProfile != "" {
		cfg.BusinessProfile = c.BusinessProfile.String()
	}
	if c.AllowedStations != nil {
		cfg.AllowedStations = c.AllowedStations.strings()
	}
	if c.NizhStationCodes != nil {
		cfg.RegionStationCodes = c.NizhStationCodes.strings()
	}
	if c.LegalEntityKeywords != nil {
		cfg.LegalEntityKeywords = c.LegalEntityKeywords.strings()
	}

	if len(c.Stations) > 0 {
		out.Stations = make([]tenantcfg.Station, 0, len(c.Stations))
		for _, code := range sortedKeys(c.Stations) {
			out.Stations = append(out.Stations, tenantcfg.Station{Code: code, Name: c.Stations[code].String()})
		}
	}
	if len(c.StationMapping) > 0 {
		out.StationMappings = []tenantcfg.StationMapping{}
		for _, main := range sortedKeys(c.StationMapping) {
			for _, sub := range dedupe(c.StationMapping[main].strings()) {
				out.StationMappings = append(out.StationMappings, tenantcfg.StationMapping{MainStationCode: main, SubStationCode: sub})
			}
		}
	}
	if len(c.StationChatIDs) > 0 {
		out.StationChatIDs = []tenantcfg.StationChatID{}
		for _, code := range sortedKeys(c.StationChatIDs) {
			for _, chat := range dedupe(c.StationChatIDs[code].strings()) {
				out.StationChatIDs = append(out.StationChatIDs, tenantcfg.StationChatID{StationCode: code, ChatID: chat})
			}
		}
	}
	if len(c.EmployeeByExtension) > 0 {
		out.EmployeeExtensions = make([]tenantcfg.EmployeeExtension, 0, len(c.EmployeeByExtension))
		for _, ext := range sortedKeys(c.EmployeeByExtension) {
			out.EmployeeExtensions = append(out.EmployeeExtensions,
				tenantcfg.EmployeeExtension{Extension: ext, Employee: c.EmployeeByExtension[ext].String()})
		}
	}
}

func prompts(p *PromptsSection) []tenantcfg.Prompt {
	out := []tenantcfg.Prompt{}
	for _, key := range sortedKeys(p.Anchors) {
		out = append(out, tenantcfg.Prompt{Type: tenantcfg.PromptAnchor, Key: key, Text: p.Anchors[key].String()})
	}
	for _, key := range sortedKeys(p.Stations) {
		out = append(out, tenantcfg.Prompt{Type: tenantcfg.PromptStation, Key: key, Text: p.Stations[key].String()})
	}
	if p.Default != "" {
		out = append(out, tenantcfg.Prompt{Type: tenantcfg.PromptDefault, Key: tenantcfg.DefaultPromptKey, Text: p.Default.String()})
	}
	return out
}

func flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// sortedKeys returns trimmed, non-empty keys in order. Keys equal after
// trimming keep the first value in sort order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := keys[:0]
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		t := strings.TrimSpace(k)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, k)
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
