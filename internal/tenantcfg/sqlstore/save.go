package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/metrics"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// SaveConfig implements tenantcfg.Store. The one-to-one rows are upserted
// and every collection is reconciled against agg by natural key, all in one
// transaction. Rows whose content did not change are not rewritten.
func (s *Store) SaveConfig(ctx context.Context, userID int64, agg tenantcfg.Aggregate) (err error) {
	defer observe("save_config", time.Now(), &err)

	agg.Normalize()
	if err := agg.Validate(); err != nil {
		return err
	}

	return s.inTx(ctx, "save config", userID, func(tx *sql.Tx) error {
		current, err := s.load(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		if err := s.saveScalars(ctx, tx, userID, current, agg); err != nil {
			return err
		}
		if err := s.reconcileCollections(ctx, tx, userID, current.agg, agg); err != nil {
			return err
		}
		if err := s.dropInvalidSchedules(ctx, tx, userID, current.invalidSchedules); err != nil {
			return err
		}
		return s.reconcileSchedules(ctx, tx, userID, current.agg.Schedules, agg.Schedules)
	})
}

// AddStation implements tenantcfg.Store.
func (s *Store) AddStation(ctx context.Context, userID int64, st tenantcfg.Station) (err error) {
	defer observe("add_station", time.Now(), &err)

	st.Code = strings.TrimSpace(st.Code)
	st.Name = strings.TrimSpace(st.Name)
	if st.Code == "" {
		return &tenantcfg.InvalidConfigError{Field: "code", Reason: "required"}
	}
	if st.Name == "" {
		st.Name = st.Code
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_stations (user_id, code, name) VALUES (?, ?, ?)
	`), userID, st.Code, st.Name)
	if err != nil {
		return s.writeError("add station", userID, tenantcfg.TableStations, []string{"user_id", "code"},
			[]string{fmt.Sprint(userID), st.Code}, err)
	}
	return nil
}

func (s *Store) saveScalars(ctx context.Context, tx *sql.Tx, userID int64, current *snapshot, agg tenantcfg.Aggregate) error {
	if !current.hasConfig || !reflect.DeepEqual(normalizedConfig(current.agg.Config), normalizedConfig(agg.Config)) {
		names := make([]string, len(userConfigColumns))
		sets := make([]string, len(userConfigColumns))
		for i, col := range userConfigColumns {
			names[i] = col.name
			sets[i] = col.name + " = excluded." + col.name
		}
		query := fmt.Sprintf(`
			INSERT INTO user_config (user_id, %s)
			VALUES (?%s)
			ON CONFLICT (user_id) DO UPDATE SET %s, updated_at = CURRENT_TIMESTAMP
		`, strings.Join(names, ", "), strings.Repeat(", ?", len(names)), strings.Join(sets, ", "))
		args := append([]interface{}{userID}, userConfigArgs(agg.Config)...)
		if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return s.storageError("save config", userID, tenantcfg.TableUserConfig, err)
		}
	}

	if !current.hasVocabulary || !reflect.DeepEqual(normalizedVocabulary(current.agg.Vocabulary), normalizedVocabulary(agg.Vocabulary)) {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO user_vocabulary (user_id, enabled, additional_vocab)
			VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET enabled = excluded.enabled,
				additional_vocab = excluded.additional_vocab, updated_at = CURRENT_TIMESTAMP
		`), userID, agg.Vocabulary.Enabled, agg.Vocabulary.Terms); err != nil {
			return s.storageError("save config", userID, tenantcfg.TableVocabulary, err)
		}
	}

	if !current.hasScript || !reflect.DeepEqual(normalizedScript(current.agg.ScriptPrompt), normalizedScript(agg.ScriptPrompt)) {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO user_script_prompts (user_id, prompt_text, checklist)
			VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET prompt_text = excluded.prompt_text,
				checklist = excluded.checklist, updated_at = CURRENT_TIMESTAMP
		`), userID, agg.ScriptPrompt.Text, agg.ScriptPrompt.Checklist); err != nil {
			return s.storageError("save config", userID, tenantcfg.TableScriptPrompts, err)
		}
	}
	return nil
}

// normalized* make nil and empty lists compare equal.
func normalizedConfig(c tenantcfg.UserConfig) tenantcfg.UserConfig {
	c.AllowedStations = nonNil(c.AllowedStations)
	c.RegionStationCodes = nonNil(c.RegionStationCodes)
	c.LegalEntityKeywords = nonNil(c.LegalEntityKeywords)
	c.FilenamePatterns = nonNil(c.FilenamePatterns)
	c.FilenameExtensions = nonNil(c.FilenameExtensions)
	return c
}

func normalizedVocabulary(v tenantcfg.Vocabulary) tenantcfg.Vocabulary {
	v.Terms = nonNil(v.Terms)
	return v
}

func normalizedScript(p tenantcfg.ScriptPrompt) tenantcfg.ScriptPrompt {
	if p.Checklist == nil {
		p.Checklist = tenantcfg.Checklist{}
	}
	return p
}

func nonNil(l tenantcfg.StringList) tenantcfg.StringList {
	if l == nil {
		return tenantcfg.StringList{}
	}
	return l
}

// rowSpec describes how one collection table is written. updateSQL is empty
// for tables whose columns are all part of the key.
type rowSpec[T any, K comparable] struct {
	table      string
	keyColumns []string
	key        func(T) K
	keyValues  func(T) []string
	equal      func(a, b T) bool
	insertSQL  string
	insertArgs func(userID int64, row T) []interface{}
	updateSQL  string
	updateArgs func(userID int64, row T) []interface{}
	deleteSQL  string
	deleteArgs func(userID int64, row T) []interface{}
}

func syncRows[T any, K comparable](ctx context.Context, s *Store, tx *sql.Tx, userID int64, spec rowSpec[T, K], current, desired []T) error {
	plan, _, ok := tenantcfg.Diff(current, desired, spec.key, spec.equal)
	if !ok {
		// Validate rejects repeated keys before the transaction starts.
		return fmt.Errorf("sync %s: repeated key in desired rows", spec.table)
	}

	for _, row := range plan.Delete {
		if _, err := tx.ExecContext(ctx, s.rebind(spec.deleteSQL), spec.deleteArgs(userID, row)...); err != nil {
			return s.storageError("save config", userID, spec.table, err)
		}
	}
	for _, row := range plan.Update {
		if spec.updateSQL == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.rebind(spec.updateSQL), spec.updateArgs(userID, row)...); err != nil {
			return s.writeError("save config", userID, spec.table, keyColumns(spec.keyColumns), keyValues(userID, spec.keyValues(row)), err)
		}
	}
	for _, row := range plan.Insert {
		if _, err := tx.ExecContext(ctx, s.rebind(spec.insertSQL), spec.insertArgs(userID, row)...); err != nil {
			return s.writeError("save config", userID, spec.table, keyColumns(spec.keyColumns), keyValues(userID, spec.keyValues(row)), err)
		}
	}

	metrics.ObserveReconcile(spec.table, len(plan.Insert), len(plan.Update), len(plan.Delete))
	if !plan.Empty() {
		s.logger.Debug("reconciled collection",
			zap.Int64("user_id", userID), zap.String("table", spec.table),
			zap.Int("inserted", len(plan.Insert)), zap.Int("updated", len(plan.Update)),
			zap.Int("deleted", len(plan.Delete)))
	}
	return nil
}

func same[T comparable](a, b T) bool { return a == b }

func keyColumns(cols []string) []string {
	return append([]string{"user_id"}, cols...)
}

func keyValues(userID int64, values []string) []string {
	return append([]string{fmt.Sprint(userID)}, values...)
}

var (
	stationSpec = rowSpec[tenantcfg.Station, string]{
		table:      tenantcfg.TableStations,
		keyColumns: []string{"code"},
		key:        tenantcfg.Station.NaturalKey,
		keyValues:  func(r tenantcfg.Station) []string { return []string{r.Code} },
		equal:      same[tenantcfg.Station],
		insertSQL:  `INSERT INTO user_stations (user_id, code, name) VALUES (?, ?, ?)`,
		insertArgs: func(u int64, r tenantcfg.Station) []interface{} { return []interface{}{u, r.Code, r.Name} },
		updateSQL:  `UPDATE user_stations SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ? AND code = ?`,
		updateArgs: func(u int64, r tenantcfg.Station) []interface{} { return []interface{}{r.Name, u, r.Code} },
		deleteSQL:  `DELETE FROM user_stations WHERE user_id = ? AND code = ?`,
		deleteArgs: func(u int64, r tenantcfg.Station) []interface{} { return []interface{}{u, r.Code} },
	}

	mappingSpec = rowSpec[tenantcfg.StationMapping, tenantcfg.MappingKey]{
		table:      tenantcfg.TableStationMappings,
		keyColumns: []string{"main_station_code", "sub_station_code"},
		key:        tenantcfg.StationMapping.NaturalKey,
		keyValues: func(r tenantcfg.StationMapping) []string {
			return []string{r.MainStationCode, r.SubStationCode}
		},
		equal:     same[tenantcfg.StationMapping],
		insertSQL: `INSERT INTO user_station_mappings (user_id, main_station_code, sub_station_code) VALUES (?, ?, ?)`,
		insertArgs: func(u int64, r tenantcfg.StationMapping) []interface{} {
			return []interface{}{u, r.MainStationCode, r.SubStationCode}
		},
		deleteSQL: `DELETE FROM user_station_mappings WHERE user_id = ? AND main_station_code = ? AND sub_station_code = ?`,
		deleteArgs: func(u int64, r tenantcfg.StationMapping) []interface{} {
			return []interface{}{u, r.MainStationCode, r.SubStationCode}
		},
	}

	chatSpec = rowSpec[tenantcfg.StationChatID, tenantcfg.ChatKey]{
		table:      tenantcfg.TableStationChatIDs,
		keyColumns: []string{"station_code", "chat_id"},
		key:        tenantcfg.StationChatID.NaturalKey,
		keyValues:  func(r tenantcfg.StationChatID) []string { return []string{r.StationCode, r.ChatID} },
		equal:      same[tenantcfg.StationChatID],
		insertSQL:  `INSERT INTO user_station_chat_ids (user_id, station_code, chat_id) VALUES (?, ?, ?)`,
		insertArgs: func(u int64, r tenantcfg.StationChatID) []interface{} {
			return []interface{}{u, r.StationCode, r.ChatID}
		},
		deleteSQL: `DELETE FROM user_station_chat_ids WHERE user_id = ? AND station_code = ? AND chat_id = ?`,
		deleteArgs: func(u int64, r tenantcfg.StationChatID) []interface{} {
			return []interface{}{u, r.StationCode, r.ChatID}
		},
	}

	extensionSpec = rowSpec[tenantcfg.EmployeeExtension, string]{
		table:      tenantcfg.TableEmployeeExtensions,
		keyColumns: []string{"extension"},
		key:        tenantcfg.EmployeeExtension.NaturalKey,
		keyValues:  func(r tenantcfg.EmployeeExtension) []string { return []string{r.Extension} },
		equal:      same[tenantcfg.EmployeeExtension],
		insertSQL:  `INSERT INTO user_employee_extensions (user_id, extension, employee) VALUES (?, ?, ?)`,
		insertArgs: func(u int64, r tenantcfg.EmployeeExtension) []interface{} {
			return []interface{}{u, r.Extension, r.Employee}
		},
		updateSQL: `UPDATE user_employee_extensions SET employee = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ? AND extension = ?`,
		updateArgs: func(u int64, r tenantcfg.EmployeeExtension) []interface{} {
			return []interface{}{r.Employee, u, r.Extension}
		},
		deleteSQL:  `DELETE FROM user_employee_extensions WHERE user_id = ? AND extension = ?`,
		deleteArgs: func(u int64, r tenantcfg.EmployeeExtension) []interface{} { return []interface{}{u, r.Extension} },
	}

	promptSpec = rowSpec[tenantcfg.Prompt, tenantcfg.PromptKey]{
		table:      tenantcfg.TablePrompts,
		keyColumns: []string{"prompt_type", "prompt_key"},
		key:        tenantcfg.Prompt.NaturalKey,
		keyValues:  func(r tenantcfg.Prompt) []string { return []string{string(r.Type), r.Key} },
		equal:      same[tenantcfg.Prompt],
		insertSQL:  `INSERT INTO user_prompts (user_id, prompt_type, prompt_key, prompt_text) VALUES (?, ?, ?, ?)`,
		insertArgs: func(u int64, r tenantcfg.Prompt) []interface{} {
			return []interface{}{u, string(r.Type), r.Key, r.Text}
		},
		updateSQL: `UPDATE user_prompts SET prompt_text = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ? AND prompt_type = ? AND prompt_key = ?`,
		updateArgs: func(u int64, r tenantcfg.Prompt) []interface{} {
			return []interface{}{r.Text, u, string(r.Type), r.Key}
		},
		deleteSQL: `DELETE FROM user_prompts WHERE user_id = ? AND prompt_type = ? AND prompt_key = ?`,
		deleteArgs: func(u int64, r tenantcfg.Prompt) []interface{} {
			return []interface{}{u, string(r.Type), r.Key}
		},
	}
)

func (s *Store) reconcileCollections(ctx context.Context, tx *sql.Tx, userID int64, current, desired tenantcfg.Aggregate) error {
	if err := syncRows(ctx, s, tx, userID, stationSpec, current.Stations, desired.Stations); err != nil {
		return err
	}
	if err := syncRows(ctx, s, tx, userID, mappingSpec, current.StationMappings, desired.StationMappings); err != nil {
		return err
	}
	if err := syncRows(ctx, s, tx, userID, chatSpec, current.StationChatIDs, desired.StationChatIDs); err != nil {
		return err
	}
	if err := syncRows(ctx, s, tx, userID, extensionSpec, current.EmployeeExtensions, desired.EmployeeExtensions); err != nil {
		return err
	}
	return syncRows(ctx, s, tx, userID, promptSpec, current.Prompts, desired.Prompts)
}
