package legacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

const sampleBlob = `{
  "config": {
    "paths": {"source_type": "ftp", "base_records_path": "/srv/records/users/42", "ftp_connection_id": 3},
    "api_keys": {"thebai_api_key": "tb-key", "telegram_bot_token": "tg-token"},
    "telegram": {"alert_chat_id": -100500, "tg_channel_nizh": "-1001", "tg_channel_other": "-1002"},
    "transcription": {"tbank_stereo_enabled": true},
    "filename": {"enabled": true, "patterns": ["^(\\d+)_"], "extensions": [".mp3", ".wav"]},
    "stations": {"NN02": "North", "NN01": "Center"},
    "station_mapping": {"NN01": ["NN02", "NN02", "NN03"]},
    "station_chat_ids": {"NN01": [-100, "-200"], "NN02": "-300"},
    "employee_by_extension": {"101": "Ivan", "102": "Olga"},
    "allowed_stations": ["NN01", "NN02"],
    "nizh_station_codes": ["NN01"],
    "legal_entity_keywords": ["LLC", ""]
  },
  "prompts": {"default": "classify the call", "anchors": {"greeting": "hello"}, "stations": {"NN01": "center prompt"}},
  "vocabulary": {"additional_vocab": ["brake pads", "alignment"]},
  "script_prompt": {"prompt": "evaluate", "checklist": [{"title": "Greeting", "prompt": "Did they greet?"}, {"title": " "}]}
}`

func TestDecodeAndApply(t *testing.T) {
	blob, err := Decode([]byte(sampleBlob))
	require.NoError(t, err)
	require.False(t, blob.Empty())

	agg := blob.Apply(tenantcfg.DefaultAggregate())
	require.NoError(t, agg.Validate())

	cfg := agg.Config
	assert.Equal(t, tenantcfg.SourceFTP, cfg.SourceType)
	require.NotNil(t, cfg.FTPConnectionID)
	assert.Equal(t, int64(3), *cfg.FTPConnectionID)
	assert.Equal(t, "-100500", cfg.AlertChatID)
	assert.Equal(t, "-1001", cfg.RegionChannelChatID)
	assert.True(t, cfg.StereoEnabled)
	assert.True(t, cfg.UseAdditionalVocab, "absent transcription flags keep their defaults")
	assert.True(t, cfg.UseCustomFilenamePatterns)
	assert.Equal(t, tenantcfg.StringList{".mp3", ".wav"}, cfg.FilenameExtensions)
	assert.Equal(t, tenantcfg.StringList{"LLC"}, cfg.LegalEntityKeywords)

	assert.Equal(t, []tenantcfg.Station{{Code: "NN01", Name: "Center"}, {Code: "NN02", Name: "North"}}, agg.Stations)
	assert.Equal(t, []tenantcfg.StationMapping{
		{MainStationCode: "NN01", SubStationCode: "NN02"},
		{MainStationCode: "NN01", SubStationCode: "NN03"},
	}, agg.StationMappings)
	assert.Equal(t, []tenantcfg.StationChatID{
		{StationCode: "NN01", ChatID: "-100"},
		{StationCode: "NN01", ChatID: "-200"},
		{StationCode: "NN02", ChatID: "-300"},
	}, agg.StationChatIDs)
	assert.Len(t, agg.EmployeeExtensions, 2)

	assert.ElementsMatch(t, []tenantcfg.Prompt{
		{Type: tenantcfg.PromptAnchor, Key: "greeting", Text: "hello"},
		{Type: tenantcfg.PromptStation, Key: "NN01", Text: "center prompt"},
		{Type: tenantcfg.PromptDefault, Key: tenantcfg.DefaultPromptKey, Text: "classify the call"},
	}, agg.Prompts)
	assert.True(t, agg.Vocabulary.Enabled)
	assert.Equal(t, tenantcfg.StringList{"brake pads", "alignment"}, agg.Vocabulary.Terms)
	assert.Equal(t, "evaluate", agg.ScriptPrompt.Text)
	assert.Equal(t, tenantcfg.Checklist{{Title: "Greeting", Prompt: "Did they greet?"}}, agg.ScriptPrompt.Checklist)
}

func TestApplyKeepsAbsentSections(t *testing.T) {
	base := tenantcfg.DefaultAggregate()
	base.Stations = []tenantcfg.Station{{Code: "KEEP", Name: "kept"}}
	base.Prompts = []tenantcfg.Prompt{{Type: tenantcfg.PromptDefault, Key: tenantcfg.DefaultPromptKey, Text: "kept"}}

	blob, err := Decode([]byte(`{"vocabulary": {"enabled": false, "additional_vocab": ["x"]}}`))
	require.NoError(t, err)
	agg := blob.Apply(base)

	assert.Equal(t, base.Stations, agg.Stations)
	assert.Equal(t, base.Prompts, agg.Prompts)
	assert.False(t, agg.Vocabulary.Enabled)
	assert.Equal(t, tenantcfg.StringList{"x"}, agg.Vocabulary.Terms)
}

func TestApplyKeepsAbsentConfigLists(t *testing.T) {
	base := tenantcfg.DefaultAggregate()
	base.Config.AllowedStations = tenantcfg.StringList{"NN01"}
	base.Config.RegionStationCodes = tenantcfg.StringList{"NN01"}
	base.Config.LegalEntityKeywords = tenantcfg.StringList{"LLC"}

	blob, err := Decode([]byte(`{"config": {"paths": {"source_type": "local"}, "legal_entity_keywords": []}}`))
	require.NoError(t, err)
	agg := blob.Apply(base)

	assert.Equal(t, tenantcfg.StringList{"NN01"}, agg.Config.AllowedStations)
	assert.Equal(t, tenantcfg.StringList{"NN01"}, agg.Config.RegionStationCodes)
	assert.Empty(t, agg.Config.LegalEntityKeywords)
}

func TestDecodeEmpty(t *testing.T) {
	for _, in := range []string{"", "  ", "{}", `{"config": {}, "prompts": {"default": ""}}`} {
		blob, err := Decode([]byte(in))
		require.NoError(t, err, in)
		assert.True(t, blob.Empty(), in)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`{"config": {"stations": {"NN01": {"nested": true}}}}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
